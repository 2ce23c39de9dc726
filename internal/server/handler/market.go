package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
	"github.com/alanyoungcy/xomarket-expert/internal/intent"
	"github.com/alanyoungcy/xomarket-expert/internal/market"
)

// MarketQuerier is the query engine surface the market endpoints need.
type MarketQuerier interface {
	GetByID(ctx context.Context, id int64) (domain.Market, bool, error)
	GetAll(ctx context.Context) []domain.Market
	GetByStatus(ctx context.Context, s domain.MarketStatus) []domain.Market
	GetClosingSoon(ctx context.Context, hours int) []domain.Market
	GetHighVolume(ctx context.Context, limit int) []domain.Market
	GetNewlyCreated(ctx context.Context, days int) []domain.Market
	SearchScored(ctx context.Context, term string) ([]market.Match, error)
}

// MarketHandler serves the market browse and search endpoints.
type MarketHandler struct {
	markets MarketQuerier
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(markets MarketQuerier, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		logger:  logger.With(slog.String("handler", "markets")),
	}
}

// ListMarkets returns every market, optionally filtered by status.
// GET /api/markets?status=active
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("status"))
	if raw == "" {
		writeMarkets(w, h.markets.GetAll(r.Context()))
		return
	}
	status, ok := domain.ParseMarketStatus(strings.ToLower(raw))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown status "+strconv.Quote(raw))
		return
	}
	writeMarkets(w, h.markets.GetByStatus(r.Context(), status))
}

// GetMarket returns one market.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "market id must be an integer")
		return
	}

	m, ok, err := h.markets.GetByID(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrInvalidMarketID):
		writeError(w, http.StatusBadRequest, "market id must be positive")
	case err != nil:
		h.logger.ErrorContext(r.Context(), "get market failed",
			slog.Int64("market_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get market")
	case !ok:
		writeError(w, http.StatusNotFound, "market not found")
	default:
		writeJSON(w, http.StatusOK, m)
	}
}

// Search ranks markets against q.
// GET /api/markets/search?q=bitcoin
func (h *MarketHandler) Search(w http.ResponseWriter, r *http.Request) {
	matches, err := h.markets.SearchScored(r.Context(), r.URL.Query().Get("q"))
	if errors.Is(err, domain.ErrInvalidQuery) {
		writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	if matches == nil {
		matches = []market.Match{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"matches": matches, "count": len(matches)})
}

// ClosingSoon lists active markets expiring within the window.
// GET /api/markets/closing?hours=24
func (h *MarketHandler) ClosingSoon(w http.ResponseWriter, r *http.Request) {
	hours, ok := intParam(r, "hours", intent.DefaultHours, 1, intent.MaxHours)
	if !ok {
		writeError(w, http.StatusBadRequest, "hours must be between 1 and "+strconv.Itoa(intent.MaxHours))
		return
	}
	writeMarkets(w, h.markets.GetClosingSoon(r.Context(), hours))
}

// HighVolume lists markets by descending volume.
// GET /api/markets/volume?limit=10
func (h *MarketHandler) HighVolume(w http.ResponseWriter, r *http.Request) {
	limit, ok := intParam(r, "limit", intent.DefaultLimit, 1, intent.MaxLimit)
	if !ok {
		writeError(w, http.StatusBadRequest, "limit must be between 1 and "+strconv.Itoa(intent.MaxLimit))
		return
	}
	writeMarkets(w, h.markets.GetHighVolume(r.Context(), limit))
}

// NewlyCreated lists markets created within the last days.
// GET /api/markets/new?days=7
func (h *MarketHandler) NewlyCreated(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(r, "days", intent.DefaultDays, 1, intent.MaxDays)
	if !ok {
		writeError(w, http.StatusBadRequest, "days must be between 1 and "+strconv.Itoa(intent.MaxDays))
		return
	}
	writeMarkets(w, h.markets.GetNewlyCreated(r.Context(), days))
}
