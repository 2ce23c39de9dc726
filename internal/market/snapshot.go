package market

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
	"github.com/alanyoungcy/xomarket-expert/internal/metadata"
)

// RawReader reads raw market records from the ledger. Implementations return
// domain.ErrNotFound for ids with no record.
type RawReader interface {
	GetMarket(ctx context.Context, id int64) (domain.RawMarket, error)
	GetExtendedMarket(ctx context.Context, id int64) (domain.RawMarket, error)
}

// MetadataSource resolves the human-readable description of a market. It
// never fails.
type MetadataSource interface {
	Resolve(ctx context.Context, id int64) domain.MarketMetadata
}

var hundred = decimal.NewFromInt(100)

// Result is the outcome of fetching one market. Exactly one of Market and Err
// is set.
type Result struct {
	ID     int64
	Market *domain.Market
	Err    error
}

// Absent reports whether the fetch failed because the id has no record, as
// opposed to a transient failure.
func (r Result) Absent() bool {
	return errors.Is(r.Err, domain.ErrNotFound)
}

// outcome is the metrics label for the result.
func (r Result) outcome() string {
	switch {
	case r.Err == nil:
		return "ok"
	case r.Absent():
		return "absent"
	default:
		return "error"
	}
}

// Fetcher builds normalized Market snapshots from a raw read and a metadata
// read.
type Fetcher struct {
	ledger   RawReader
	metadata MetadataSource
	policy   PendingPolicy
	now      func() time.Time
	logger   *slog.Logger
}

// NewFetcher creates a Fetcher.
func NewFetcher(ledger RawReader, meta MetadataSource, policy PendingPolicy, logger *slog.Logger) *Fetcher {
	return &Fetcher{
		ledger:   ledger,
		metadata: meta,
		policy:   policy,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "snapshot")),
	}
}

// Fetch reads market id. The raw read and the metadata read run concurrently
// and neither cancels the other. A failed raw read yields a Result with Err
// set and no Market.
func (f *Fetcher) Fetch(ctx context.Context, id int64) Result {
	var (
		raw    domain.RawMarket
		rawErr error
		meta   domain.MarketMetadata
	)

	var g errgroup.Group
	g.Go(func() error {
		raw, rawErr = f.ledger.GetExtendedMarket(ctx, id)
		return nil
	})
	g.Go(func() error {
		meta = f.metadata.Resolve(ctx, id)
		return nil
	})
	_ = g.Wait()

	if rawErr != nil {
		return Result{ID: id, Err: rawErr}
	}
	m := f.build(raw, meta, f.now())
	return Result{ID: id, Market: &m}
}

// Get reads market id and reports absence for any failure.
func (f *Fetcher) Get(ctx context.Context, id int64) (domain.Market, bool) {
	res := f.Fetch(ctx, id)
	if res.Err != nil {
		f.logger.DebugContext(ctx, "market unavailable",
			slog.Int64("market_id", id),
			slog.String("error", res.Err.Error()),
		)
		return domain.Market{}, false
	}
	return *res.Market, true
}

// build derives the snapshot fields from raw and merges meta.
func (f *Fetcher) build(raw domain.RawMarket, meta domain.MarketMetadata, now time.Time) domain.Market {
	m := domain.Market{
		ID:               raw.ID,
		Status:           ResolveStatus(raw, now, f.policy),
		Creator:          raw.Creator,
		StartsAt:         raw.StartsAt,
		ExpiresAt:        raw.ExpiresAt,
		CreatedAt:        raw.CreatedAt,
		OutcomeCount:     raw.OutcomeCount,
		OutcomePrices:    make([]string, len(raw.OutcomePrices)),
		CurrentPrices:    make([]string, len(raw.OutcomePrices)),
		CollateralToken:  raw.CollateralToken,
		CollateralAmount: raw.CollateralAmount,
		Volume:           volume(raw),
		CreatorFeeBps:    raw.CreatorFeeBps,
		Alpha:            raw.Alpha,
		TimeToClose:      max(0, raw.ExpiresAt.Sub(now)),
		Metadata:         meta,
	}
	for i, p := range raw.OutcomePrices {
		m.OutcomePrices[i] = p.String()
		m.CurrentPrices[i] = FormatPercent(p)
	}
	if !raw.ResolvedAt.IsZero() {
		resolvedAt := raw.ResolvedAt
		m.ResolvedAt = &resolvedAt
	}
	if raw.WinningOutcome >= 0 && m.Status == domain.MarketStatusResolved {
		winner := raw.WinningOutcome
		m.WinningOutcome = &winner
	}
	if m.Metadata.Title == "" {
		m.Metadata.Title = metadata.FallbackTitle(raw.ID)
	}
	return m
}

// volume is the sum of per-outcome collateral. Records read without the
// per-outcome arrays report the pooled collateral amount instead.
func volume(raw domain.RawMarket) decimal.Decimal {
	if len(raw.OutcomeCollateral) == 0 {
		return raw.CollateralAmount
	}
	return decimal.Sum(decimal.Zero, raw.OutcomeCollateral...)
}

// FormatPercent renders a fractional price as a percentage, e.g. 0.625 as
// "62.50%".
func FormatPercent(p decimal.Decimal) string {
	return p.Mul(hundred).StringFixed(2) + "%"
}
