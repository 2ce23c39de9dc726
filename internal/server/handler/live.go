package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
	"github.com/alanyoungcy/xomarket-expert/internal/intent"
)

// LiveHandler answers free-text live-data questions.
type LiveHandler struct {
	engine intent.Engine
	logger *slog.Logger
}

// NewLiveHandler creates a LiveHandler.
func NewLiveHandler(engine intent.Engine, logger *slog.Logger) *LiveHandler {
	return &LiveHandler{
		engine: engine,
		logger: logger.With(slog.String("handler", "live")),
	}
}

type liveRequest struct {
	Query string `json:"query"`
}

type liveResponse struct {
	Query         string         `json:"query"`
	NeedsLiveData bool           `json:"needsLiveData"`
	Answer        *intent.Answer `json:"answer,omitempty"`
}

// Query parses the question and runs the matching engine call. Questions
// the parser does not recognize get needsLiveData only, with no answer.
// POST /api/live
func (h *LiveHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req liveRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	resp := liveResponse{Query: req.Query, NeedsLiveData: intent.NeedsLiveData(req.Query)}
	in := intent.Parse(req.Query)
	if in.Kind == intent.KindUnknown {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	ans, err := intent.Execute(r.Context(), h.engine, in)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case errors.Is(err, domain.ErrInvalidMarketID), errors.Is(err, domain.ErrInvalidQuery):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.ErrorContext(r.Context(), "live query failed",
			slog.String("kind", string(in.Kind)),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "live query failed")
		return
	}
	resp.NeedsLiveData = true
	resp.Answer = &ans
	writeJSON(w, http.StatusOK, resp)
}
