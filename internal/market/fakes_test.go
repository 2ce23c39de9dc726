package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
)

var testNow = time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var errTransport = errors.New("dial tcp: connection refused")

// fakeLedger serves raw markets from memory. Ids in errs fail with that error;
// ids in neither map are absent.
type fakeLedger struct {
	mu       sync.Mutex
	markets  map[int64]domain.RawMarket
	errs     map[int64]error
	count    int64
	countErr error
	pingErr  error
	// down fails every read with errTransport.
	down bool

	probes      int
	fetches     int
	inflight    int
	maxInflight int
	delay       time.Duration
	onProbe     func()
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		markets:  map[int64]domain.RawMarket{},
		errs:     map[int64]error{},
		countErr: errors.New("contract exposes no market counter"),
	}
}

// withRange adds active markets for ids from..to inclusive.
func (l *fakeLedger) withRange(from, to int64) *fakeLedger {
	for id := from; id <= to; id++ {
		l.markets[id] = activeRaw(id)
	}
	return l
}

func (l *fakeLedger) lookup(id int64) (domain.RawMarket, error) {
	if l.down {
		return domain.RawMarket{}, errTransport
	}
	if err, ok := l.errs[id]; ok {
		return domain.RawMarket{}, err
	}
	m, ok := l.markets[id]
	if !ok {
		return domain.RawMarket{}, fmt.Errorf("ledger: market %d: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

func (l *fakeLedger) GetMarket(_ context.Context, id int64) (domain.RawMarket, error) {
	l.mu.Lock()
	l.probes++
	hook := l.onProbe
	l.mu.Unlock()
	if hook != nil {
		hook()
	}
	return l.lookup(id)
}

func (l *fakeLedger) GetExtendedMarket(ctx context.Context, id int64) (domain.RawMarket, error) {
	l.mu.Lock()
	l.fetches++
	l.inflight++
	l.maxInflight = max(l.maxInflight, l.inflight)
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.inflight--
		l.mu.Unlock()
	}()

	if l.delay > 0 {
		select {
		case <-ctx.Done():
			return domain.RawMarket{}, ctx.Err()
		case <-time.After(l.delay):
		}
	}
	return l.lookup(id)
}

func (l *fakeLedger) MarketCount(context.Context) (int64, error) {
	return l.count, l.countErr
}

func (l *fakeLedger) Ping(context.Context) error { return l.pingErr }

func (l *fakeLedger) probeCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.probes
}

// fakeMetadata returns fixed metadata per id; unknown ids get the zero value.
type fakeMetadata map[int64]domain.MarketMetadata

func (f fakeMetadata) Resolve(_ context.Context, id int64) domain.MarketMetadata {
	return f[id]
}

func activeRaw(id int64) domain.RawMarket {
	return domain.RawMarket{
		ID:                id,
		Status:            domain.RawStatusActive,
		Creator:           "0x1234567890AbcdEF1234567890aBcdef12345678",
		CreatedAt:         testNow.Add(-30 * 24 * time.Hour),
		StartsAt:          testNow.Add(-24 * time.Hour),
		ExpiresAt:         testNow.Add(30 * 24 * time.Hour),
		OutcomeCount:      2,
		CollateralToken:   "0x00000000000000000000000000000000000000aA",
		CollateralAmount:  d("2"),
		CreatorFeeBps:     100,
		Alpha:             d("1"),
		WinningOutcome:    -1,
		OutcomeCollateral: []decimal.Decimal{d("1"), d("1")},
		OutcomePrices:     []decimal.Decimal{d("0.5"), d("0.5")},
	}
}

func newTestFetcher(l *fakeLedger, meta fakeMetadata) *Fetcher {
	f := NewFetcher(l, meta, PendingAsPending, discardLogger())
	f.now = fixedNow
	return f
}

func newTestResolver(l *fakeLedger, cache domain.ScanCache, opts ...RangeOption) *RangeResolver {
	r := NewRangeResolver(l, cache, DiscoveryConfig{}, discardLogger(), opts...)
	r.now = fixedNow
	return r
}

func newTestEngine(l *fakeLedger, meta fakeMetadata, opts ...QueryOption) *QueryEngine {
	f := newTestFetcher(l, meta)
	b := NewBatchExecutor(f, BatchConfig{Size: 10}, discardLogger())
	r := newTestResolver(l, NewMemoryScanCache(), WithCounter(l))
	q := NewQueryEngine(r, b, f, l, SearchConfig{}, discardLogger(), opts...)
	q.now = fixedNow
	return q
}

// fakeLocks always reports the discovery lock as held elsewhere.
type fakeLocks struct{ err error }

func (f fakeLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	return func() {}, nil
}

// fakeLimiter admits every Wait unless err is set. Allow answers allow.
type fakeLimiter struct {
	mu    sync.Mutex
	allow bool
	err   error
	calls int
}

func (f *fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allow, f.err
}

func (f *fakeLimiter) Wait(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.err
}

// memAudit collects audit rows.
type memAudit struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
}

func (a *memAudit) Log(_ context.Context, event string, detail map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, domain.AuditEntry{ID: int64(len(a.entries) + 1), Event: event, Detail: detail})
	return nil
}

func (a *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.AuditEntry(nil), a.entries...), nil
}
