package handler

import (
	"context"
	"net/http"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
)

// ConnectionReporter reports ledger reachability.
type ConnectionReporter interface {
	ConnectionStatus(ctx context.Context) domain.ConnectionStatus
}

// NetworkReporter describes the ledger endpoint.
type NetworkReporter interface {
	NetworkInfo(ctx context.Context) domain.NetworkInfo
}

// StatusHandler serves the engine status.
type StatusHandler struct {
	mode    string
	conn    ConnectionReporter
	network NetworkReporter
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode string, conn ConnectionReporter, network NetworkReporter) *StatusHandler {
	return &StatusHandler{mode: mode, conn: conn, network: network}
}

// GetStatus responds with connection state and network info.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":       h.mode,
		"connection": h.conn.ConnectionStatus(r.Context()),
		"network":    h.network.NetworkInfo(r.Context()),
	})
}
