package market

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
	"github.com/alanyoungcy/xomarket-expert/internal/metrics"
)

// Result caps for the browse queries.
const (
	closingSoonCap  = 15
	newlyCreatedCap = 15
)

// defaultAuditTimeout bounds one audit insert.
const defaultAuditTimeout = 2 * time.Second

// Pinger checks ledger reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SearchConfig tunes ranking.
type SearchConfig struct {
	Cutoff float64
	TopK   int
}

func (c *SearchConfig) applyDefaults() {
	if c.Cutoff <= 0 {
		c.Cutoff = 15
	}
	if c.TopK <= 0 {
		c.TopK = 10
	}
}

// QueryOption configures optional QueryEngine collaborators.
type QueryOption func(*QueryEngine)

// WithAudit records every served query in store.
func WithAudit(store domain.AuditStore) QueryOption {
	return func(q *QueryEngine) { q.audit = store }
}

// QueryEngine answers browse and search questions over live market data.
// Upstream failures surface as empty results, never as errors; only
// malformed input is rejected.
type QueryEngine struct {
	totals       *RangeResolver
	batch        *BatchExecutor
	fetcher      *Fetcher
	pinger       Pinger
	audit        domain.AuditStore
	auditTimeout time.Duration
	search       SearchConfig
	now          func() time.Time
	logger       *slog.Logger
}

// NewQueryEngine wires the engine's components together.
func NewQueryEngine(
	totals *RangeResolver,
	batch *BatchExecutor,
	fetcher *Fetcher,
	pinger Pinger,
	search SearchConfig,
	logger *slog.Logger,
	opts ...QueryOption,
) *QueryEngine {
	search.applyDefaults()
	q := &QueryEngine{
		totals:       totals,
		batch:        batch,
		fetcher:      fetcher,
		pinger:       pinger,
		search:       search,
		auditTimeout: defaultAuditTimeout,
		now:          time.Now,
		logger:       logger.With(slog.String("component", "query")),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// GetByID returns market id. It rejects non-positive ids before any ledger
// call and reports any upstream failure as absence.
func (q *QueryEngine) GetByID(ctx context.Context, id int64) (domain.Market, bool, error) {
	if id <= 0 {
		return domain.Market{}, false, domain.ErrInvalidMarketID
	}
	start := time.Now()
	m, ok := q.fetcher.Get(ctx, id)
	found := 0
	if ok {
		found = 1
	}
	q.record(ctx, "by_id", start, found, slog.Int64("market_id", id))
	return m, ok, nil
}

// GetAll fetches every known market, ordered by id.
func (q *QueryEngine) GetAll(ctx context.Context) []domain.Market {
	start := time.Now()
	all := q.all(ctx)
	q.record(ctx, "all", start, len(all))
	return all
}

// GetByStatus returns markets whose resolved status is s, ordered by id.
func (q *QueryEngine) GetByStatus(ctx context.Context, s domain.MarketStatus) []domain.Market {
	start := time.Now()
	out := filter(q.all(ctx), func(m domain.Market) bool { return m.Status == s })
	q.record(ctx, "by_status", start, len(out), slog.String("status", string(s)))
	return out
}

// GetActive returns active markets.
func (q *QueryEngine) GetActive(ctx context.Context) []domain.Market {
	return q.GetByStatus(ctx, domain.MarketStatusActive)
}

// GetClosed returns closed markets.
func (q *QueryEngine) GetClosed(ctx context.Context) []domain.Market {
	return q.GetByStatus(ctx, domain.MarketStatusClosed)
}

// GetResolved returns resolved markets.
func (q *QueryEngine) GetResolved(ctx context.Context) []domain.Market {
	return q.GetByStatus(ctx, domain.MarketStatusResolved)
}

// GetClosingSoon returns active markets expiring within the next hours,
// soonest first.
func (q *QueryEngine) GetClosingSoon(ctx context.Context, hours int) []domain.Market {
	start := time.Now()
	deadline := q.now().Add(time.Duration(hours) * time.Hour)
	out := filter(q.all(ctx), func(m domain.Market) bool {
		return m.Status == domain.MarketStatusActive && !m.ExpiresAt.After(deadline)
	})
	slices.SortFunc(out, func(a, b domain.Market) int {
		return cmp.Or(a.ExpiresAt.Compare(b.ExpiresAt), cmp.Compare(a.ID, b.ID))
	})
	out = capAt(out, closingSoonCap)
	q.record(ctx, "closing_soon", start, len(out), slog.Int("hours", hours))
	return out
}

// GetHighVolume returns up to limit markets with the largest volume.
func (q *QueryEngine) GetHighVolume(ctx context.Context, limit int) []domain.Market {
	start := time.Now()
	out := q.all(ctx)
	slices.SortFunc(out, func(a, b domain.Market) int {
		return cmp.Or(b.Volume.Cmp(a.Volume), cmp.Compare(a.ID, b.ID))
	})
	out = capAt(out, max(limit, 0))
	q.record(ctx, "high_volume", start, len(out), slog.Int("limit", limit))
	return out
}

// GetNewlyCreated returns markets created within the last days, newest first.
func (q *QueryEngine) GetNewlyCreated(ctx context.Context, days int) []domain.Market {
	start := time.Now()
	since := q.now().AddDate(0, 0, -days)
	out := filter(q.all(ctx), func(m domain.Market) bool {
		return !m.CreatedAt.Before(since)
	})
	slices.SortFunc(out, func(a, b domain.Market) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	out = capAt(out, newlyCreatedCap)
	q.record(ctx, "newly_created", start, len(out), slog.Int("days", days))
	return out
}

// Search ranks every known market against term. A blank term is rejected.
func (q *QueryEngine) Search(ctx context.Context, term string) ([]domain.Market, error) {
	matches, err := q.SearchScored(ctx, term)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Market, len(matches))
	for i, m := range matches {
		out[i] = m.Market
	}
	return out, nil
}

// SearchScored is Search with the relevance score of each hit.
func (q *QueryEngine) SearchScored(ctx context.Context, term string) ([]Match, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, domain.ErrInvalidQuery
	}
	start := time.Now()
	matches := Rank(q.all(ctx), term, q.search.Cutoff, q.search.TopK)
	q.record(ctx, "search", start, len(matches), slog.String("term", term))
	return matches, nil
}

// ConnectionStatus reports ledger reachability and the cached market count.
// It does not trigger discovery or modify the cache.
func (q *QueryEngine) ConnectionStatus(ctx context.Context) domain.ConnectionStatus {
	err := q.pinger.Ping(ctx)
	if err != nil {
		q.logger.DebugContext(ctx, "ledger ping failed", slog.String("error", err.Error()))
	}
	return domain.ConnectionStatus{
		Connected:    err == nil,
		KnownMarkets: q.totals.Known(ctx),
	}
}

// all materializes every market from 1 to the resolved total.
func (q *QueryEngine) all(ctx context.Context) []domain.Market {
	total, err := q.totals.ResolveTotal(ctx)
	if err != nil || total <= 0 {
		return nil
	}
	ids := make([]int64, total)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	out := q.batch.FetchMany(ctx, ids)
	slices.SortFunc(out, func(a, b domain.Market) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// record observes latency and appends an audit row when auditing is on.
func (q *QueryEngine) record(ctx context.Context, kind string, start time.Time, results int, attrs ...slog.Attr) {
	elapsed := time.Since(start)
	metrics.QueryLatency.WithLabelValues(kind).Observe(elapsed.Seconds())

	if q.audit == nil {
		return
	}
	detail := map[string]any{
		"query_id":   uuid.NewString(),
		"kind":       kind,
		"results":    results,
		"latency_ms": elapsed.Milliseconds(),
	}
	for _, a := range attrs {
		detail[a.Key] = a.Value.Any()
	}
	// The row outlives a cancelled caller but not auditTimeout.
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.auditTimeout)
	defer cancel()
	if err := q.audit.Log(auditCtx, "query", detail); err != nil {
		q.logger.WarnContext(ctx, "audit log failed",
			slog.String("kind", kind),
			slog.String("error", err.Error()),
		)
	}
}

func filter(ms []domain.Market, keep func(domain.Market) bool) []domain.Market {
	out := make([]domain.Market, 0, len(ms))
	for _, m := range ms {
		if keep(m) {
			out = append(out, m)
		}
	}
	return out
}

func capAt(ms []domain.Market, n int) []domain.Market {
	if len(ms) > n {
		return ms[:n]
	}
	return ms
}
