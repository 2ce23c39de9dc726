package market

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
	"github.com/alanyoungcy/xomarket-expert/internal/metrics"
)

// DiscoveryLockKey names the distributed lock held while a discovery scan
// runs. The redis lock manager stores it as lock:xomarket:discovery.
const DiscoveryLockKey = "xomarket:discovery"

// Counter reads the ledger's market counter.
type Counter interface {
	MarketCount(ctx context.Context) (int64, error)
}

// Prober checks whether a market id has a ledger record.
type Prober interface {
	GetMarket(ctx context.Context, id int64) (domain.RawMarket, error)
}

// DiscoveryConfig bounds the range resolver.
type DiscoveryConfig struct {
	TTL          time.Duration
	HardCap      int64
	LinearExtend int64
	LockTTL      time.Duration
	// ScanTimeout bounds a shared resolve, which outlives any single caller.
	ScanTimeout time.Duration
}

func (c *DiscoveryConfig) applyDefaults() {
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
	if c.HardCap <= 0 {
		c.HardCap = 5000
	}
	if c.LinearExtend <= 0 {
		c.LinearExtend = 20
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 2 * time.Minute
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = c.LockTTL
	}
}

// RangeOption configures optional RangeResolver collaborators.
type RangeOption func(*RangeResolver)

// WithCounter makes the resolver try the ledger counter before the cache.
func WithCounter(c Counter) RangeOption {
	return func(r *RangeResolver) { r.counter = c }
}

// WithLockManager serializes discovery scans across processes.
func WithLockManager(l domain.LockManager) RangeOption {
	return func(r *RangeResolver) { r.locks = l }
}

// RangeResolver determines how many markets exist on the ledger.
type RangeResolver struct {
	prober  Prober
	counter Counter
	cache   domain.ScanCache
	locks   domain.LockManager
	cfg     DiscoveryConfig
	group   singleflight.Group
	now     func() time.Time
	logger  *slog.Logger
}

// NewRangeResolver creates a RangeResolver. The cache is shared with anything
// else that reports the known market count.
func NewRangeResolver(prober Prober, cache domain.ScanCache, cfg DiscoveryConfig, logger *slog.Logger, opts ...RangeOption) *RangeResolver {
	cfg.applyDefaults()
	r := &RangeResolver{
		prober: prober,
		cache:  cache,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "discovery")),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveTotal returns the highest market id known to exist. It tries the
// ledger counter, then a cached value younger than the TTL, then a discovery
// scan. Concurrent callers share one resolve; a caller that gives up does not
// cancel it for the others. The only error it returns is the caller's own
// context error.
func (r *RangeResolver) ResolveTotal(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ch := r.group.DoChan("total", func() (any, error) {
		shared, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.ScanTimeout)
		defer cancel()
		return r.resolve(shared), nil
	})
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case res := <-ch:
		return res.Val.(int64), nil
	}
}

// Known returns the cached total without touching the ledger.
func (r *RangeResolver) Known(ctx context.Context) int64 {
	state, err := r.cache.Load(ctx)
	if err != nil {
		return 0
	}
	return state.TotalKnownID
}

// resolve never fails; a degraded ledger yields the cached total.
func (r *RangeResolver) resolve(ctx context.Context) int64 {
	if r.counter != nil {
		n, err := r.counter.MarketCount(ctx)
		if err == nil {
			r.store(ctx, n)
			metrics.RangeResolutions.WithLabelValues("counter").Inc()
			return n
		}
		r.logger.DebugContext(ctx, "market counter unavailable",
			slog.String("error", err.Error()),
		)
	}

	cached := r.load(ctx)
	if cached.FreshAt(r.now(), r.cfg.TTL) {
		metrics.RangeResolutions.WithLabelValues("cache").Inc()
		return cached.TotalKnownID
	}

	if r.locks != nil {
		unlock, err := r.locks.Acquire(ctx, DiscoveryLockKey, r.cfg.LockTTL)
		switch {
		case err == nil:
			defer unlock()
		case errors.Is(err, domain.ErrLockHeld) && cached.TotalKnownID > 0:
			// Another process is scanning; its result lands in the shared cache.
			metrics.RangeResolutions.WithLabelValues("cache").Inc()
			return cached.TotalKnownID
		default:
			r.logger.WarnContext(ctx, "discovery lock unavailable, scanning unlocked",
				slog.String("error", err.Error()),
			)
		}
	}

	start := time.Now()
	total := r.scan(ctx)
	if err := ctx.Err(); err != nil {
		r.logger.WarnContext(ctx, "discovery scan timed out, keeping cached total",
			slog.Int64("cached", cached.TotalKnownID),
			slog.String("error", err.Error()),
		)
		metrics.RangeResolutions.WithLabelValues("cache").Inc()
		return cached.TotalKnownID
	}

	// Ids are never removed, so a scan that cannot see id 1 after markets were
	// known means the ledger is unreachable. The record stays stale so the next
	// call rescans.
	if total == 0 && cached.TotalKnownID > 0 {
		r.logger.WarnContext(ctx, "discovery scan found no markets, keeping cached total",
			slog.Int64("cached", cached.TotalKnownID),
		)
		metrics.RangeResolutions.WithLabelValues("cache").Inc()
		return cached.TotalKnownID
	}

	// A fresh record written concurrently may be ahead of this scan.
	if latest := r.load(ctx); latest.FreshAt(r.now(), r.cfg.TTL) && latest.TotalKnownID > total {
		total = latest.TotalKnownID
	}
	r.store(ctx, total)
	metrics.RangeResolutions.WithLabelValues("scan").Inc()

	r.logger.InfoContext(ctx, "discovery scan complete",
		slog.Int64("total", total),
		slog.Duration("elapsed", time.Since(start)),
	)
	return total
}

// scan finds the highest existing id by exponential probing, a binary search
// of the bracket, and a short linear extension past the boundary.
func (r *RangeResolver) scan(ctx context.Context) int64 {
	if !r.exists(ctx, 1) {
		return 0
	}

	good, bad := int64(1), int64(0)
	for candidate := int64(2); ; candidate *= 2 {
		if candidate >= r.cfg.HardCap {
			candidate = r.cfg.HardCap
		}
		if !r.exists(ctx, candidate) {
			bad = candidate
			break
		}
		good = candidate
		if candidate == r.cfg.HardCap {
			metrics.DiscoveryCapHits.Inc()
			r.logger.WarnContext(ctx, "discovery reached hard cap, total may be under-reported",
				slog.Int64("hard_cap", r.cfg.HardCap),
			)
			return good
		}
	}

	for bad-good > 1 {
		if ctx.Err() != nil {
			return good
		}
		mid := good + (bad-good)/2
		if r.exists(ctx, mid) {
			good = mid
		} else {
			bad = mid
		}
	}

	// Ids are not guaranteed contiguous; look a little past the boundary.
	for id := good + 1; id <= good+r.cfg.LinearExtend && id <= r.cfg.HardCap; id++ {
		if ctx.Err() != nil {
			break
		}
		if r.exists(ctx, id) {
			good = id
		}
	}
	return good
}

// exists reports whether id has a record. Any failure counts as absence.
func (r *RangeResolver) exists(ctx context.Context, id int64) bool {
	_, err := r.prober.GetMarket(ctx, id)
	return err == nil
}

func (r *RangeResolver) load(ctx context.Context) domain.ScanState {
	state, err := r.cache.Load(ctx)
	if err != nil {
		r.logger.WarnContext(ctx, "scan cache load failed", slog.String("error", err.Error()))
		return domain.ScanState{}
	}
	return state
}

func (r *RangeResolver) store(ctx context.Context, total int64) {
	metrics.KnownMarkets.Set(float64(total))
	err := r.cache.Store(ctx, domain.ScanState{TotalKnownID: total, LastScannedAt: r.now()})
	if err != nil {
		r.logger.WarnContext(ctx, "scan cache store failed", slog.String("error", err.Error()))
	}
}
