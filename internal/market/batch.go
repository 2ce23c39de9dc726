package market

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
	"github.com/alanyoungcy/xomarket-expert/internal/metrics"
)

// BatchLimitKey is the rate limiter key shared by every batch executor.
const BatchLimitKey = "xomarket:batch"

// BatchConfig sets the group size and inter-group pause. A RateLimit of zero
// disables the distributed gate even when a limiter is configured; the
// admission rate itself is the limiter's own.
type BatchConfig struct {
	Size        int
	Pause       time.Duration
	RateLimit   int
	GateTimeout time.Duration
}

func (c *BatchConfig) applyDefaults() {
	if c.Size <= 0 {
		c.Size = 10
	}
	if c.Pause < 0 {
		c.Pause = 0
	}
	if c.GateTimeout <= 0 {
		c.GateTimeout = 5 * time.Second
	}
}

// BatchOption configures optional BatchExecutor collaborators.
type BatchOption func(*BatchExecutor)

// WithRateLimiter gates each group on a distributed limiter.
func WithRateLimiter(l domain.RateLimiter) BatchOption {
	return func(b *BatchExecutor) { b.limiter = l }
}

// BatchExecutor fetches many markets in fixed-size concurrent groups with a
// pause between groups to bound the outbound call rate.
type BatchExecutor struct {
	fetcher *Fetcher
	limiter domain.RateLimiter
	cfg     BatchConfig
	logger  *slog.Logger
}

// NewBatchExecutor creates a BatchExecutor around fetcher.
func NewBatchExecutor(fetcher *Fetcher, cfg BatchConfig, logger *slog.Logger, opts ...BatchOption) *BatchExecutor {
	cfg.applyDefaults()
	b := &BatchExecutor{
		fetcher: fetcher,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "batch")),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// FetchMany returns the markets for ids that could be read. Failed ids are
// omitted and the order of the result is unspecified.
func (b *BatchExecutor) FetchMany(ctx context.Context, ids []int64) []domain.Market {
	results := b.FetchResults(ctx, ids)
	out := make([]domain.Market, 0, len(results))
	for _, res := range results {
		if res.Market != nil {
			out = append(out, *res.Market)
		}
	}
	return out
}

// FetchResults returns one Result per id that was attempted. Ids in groups
// not started because ctx ended are left out.
func (b *BatchExecutor) FetchResults(ctx context.Context, ids []int64) []Result {
	results := make([]Result, 0, len(ids))
	var absent, failed int

	for start := 0; start < len(ids); start += b.cfg.Size {
		if start > 0 && !b.pause(ctx) {
			break
		}
		if ctx.Err() != nil {
			break
		}
		b.gate(ctx)

		group := ids[start:min(start+b.cfg.Size, len(ids))]
		groupResults := make([]Result, len(group))

		var g errgroup.Group
		for i, id := range group {
			g.Go(func() error {
				groupResults[i] = b.fetcher.Fetch(ctx, id)
				return nil
			})
		}
		_ = g.Wait()

		for _, res := range groupResults {
			metrics.SnapshotOutcomes.WithLabelValues(res.outcome()).Inc()
			switch {
			case res.Err == nil:
			case res.Absent():
				absent++
			default:
				failed++
				b.logger.DebugContext(ctx, "market fetch failed",
					slog.Int64("market_id", res.ID),
					slog.String("error", res.Err.Error()),
				)
			}
		}
		results = append(results, groupResults...)
	}

	b.logger.InfoContext(ctx, "batch fetch complete",
		slog.Int("requested", len(ids)),
		slog.Int("fetched", len(results)-absent-failed),
		slog.Int("absent", absent),
		slog.Int("failed", failed),
	)
	return results
}

// pause waits between groups and reports false if ctx ended first.
func (b *BatchExecutor) pause(ctx context.Context) bool {
	if b.cfg.Pause == 0 {
		return true
	}
	t := time.NewTimer(b.cfg.Pause)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// gate blocks until the distributed limiter admits the next group or
// GateTimeout passes. Limiter errors fail open.
func (b *BatchExecutor) gate(ctx context.Context) {
	if b.limiter == nil || b.cfg.RateLimit <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, b.cfg.GateTimeout)
	defer cancel()

	if err := b.limiter.Wait(ctx, BatchLimitKey); err != nil {
		b.logger.WarnContext(ctx, "batch rate gate did not admit, continuing",
			slog.String("error", err.Error()),
		)
	}
}
