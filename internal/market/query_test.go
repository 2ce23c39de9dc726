package market

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
)

func idsOf(ms []domain.Market) []int64 {
	out := make([]int64, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func TestGetByID(t *testing.T) {
	l := newFakeLedger().withRange(1, 3)
	l.errs[3] = errTransport
	q := newTestEngine(l, nil)

	tests := []struct {
		name    string
		id      int64
		wantOK  bool
		wantErr error
	}{
		{"present", 1, true, nil},
		{"absent", 99, false, nil},
		{"transport failure", 3, false, nil},
		{"zero", 0, false, domain.ErrInvalidMarketID},
		{"negative", -4, false, domain.ErrInvalidMarketID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok, err := q.GetByID(context.Background(), tt.id)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if ok != tt.wantOK {
				t.Errorf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && m.ID != tt.id {
				t.Errorf("ID = %d, want %d", m.ID, tt.id)
			}
		})
	}
}

func TestGetByID_InvalidMakesNoLedgerCall(t *testing.T) {
	l := newFakeLedger().withRange(1, 3)
	q := newTestEngine(l, nil)

	q.GetByID(context.Background(), 0)
	if l.fetches != 0 || l.probes != 0 {
		t.Errorf("ledger calls = %d fetches, %d probes; want none", l.fetches, l.probes)
	}
}

func TestGetAll_OrderedByID(t *testing.T) {
	l := newFakeLedger().withRange(1, 23)
	l.errs[5] = errTransport
	q := newTestEngine(l, nil)

	got := idsOf(q.GetAll(context.Background()))
	want := slices.DeleteFunc(ids(1, 23), func(id int64) bool { return id == 5 })
	if !slices.Equal(got, want) {
		t.Errorf("ids = %v, want %v", got, want)
	}
}

func TestGetAll_LedgerDown(t *testing.T) {
	l := newFakeLedger()
	for id := int64(1); id <= 10; id++ {
		l.errs[id] = errTransport
	}
	q := newTestEngine(l, nil)

	if got := q.GetAll(context.Background()); len(got) != 0 {
		t.Errorf("got %d markets, want none", len(got))
	}
}

func TestGetByStatus(t *testing.T) {
	l := newFakeLedger().withRange(1, 5)
	resolved := l.markets[2]
	resolved.ResolvedAt = testNow.Add(-time.Hour)
	l.markets[2] = resolved
	expired := l.markets[3]
	expired.ExpiresAt = testNow.Add(-time.Minute)
	l.markets[3] = expired
	paused := l.markets[4]
	paused.Status = domain.RawStatusPaused
	l.markets[4] = paused
	q := newTestEngine(l, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		got  []domain.Market
		want []int64
	}{
		{"active", q.GetActive(ctx), []int64{1, 5}},
		{"closed", q.GetClosed(ctx), []int64{3}},
		{"resolved", q.GetResolved(ctx), []int64{2}},
		{"paused", q.GetByStatus(ctx, domain.MarketStatusPaused), []int64{4}},
		{"cancelled", q.GetByStatus(ctx, domain.MarketStatusCancelled), []int64{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := idsOf(tt.got); !slices.Equal(got, tt.want) {
				t.Errorf("ids = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetHighVolume(t *testing.T) {
	l := newFakeLedger()
	for i, v := range []string{"10", "50", "5", "80", "20"} {
		raw := activeRaw(int64(i + 1))
		raw.OutcomeCollateral = []decimal.Decimal{d(v)}
		l.markets[raw.ID] = raw
	}
	q := newTestEngine(l, nil)

	got := q.GetHighVolume(context.Background(), 3)
	if gotIDs := idsOf(got); !slices.Equal(gotIDs, []int64{4, 2, 5}) {
		t.Errorf("ids = %v, want [4 2 5]", gotIDs)
	}
	if len(got) == 3 && got[0].Volume.String() != "80" {
		t.Errorf("top volume = %s, want 80", got[0].Volume)
	}
}

func TestGetHighVolume_TiesBreakByID(t *testing.T) {
	l := newFakeLedger().withRange(1, 4)
	q := newTestEngine(l, nil)

	if got := idsOf(q.GetHighVolume(context.Background(), 10)); !slices.Equal(got, []int64{1, 2, 3, 4}) {
		t.Errorf("ids = %v, want [1 2 3 4]", got)
	}
}

func TestGetClosingSoon(t *testing.T) {
	l := newFakeLedger().withRange(1, 20)
	expiries := map[int64]time.Duration{
		1: 5 * time.Hour,
		2: 2 * time.Hour,
		3: 30 * time.Hour, // outside the window
		4: 2 * time.Hour,  // ties with 2
		5: -time.Hour,     // already closed
	}
	for id, in := range expiries {
		raw := l.markets[id]
		raw.ExpiresAt = testNow.Add(in)
		l.markets[id] = raw
	}
	paused := l.markets[6]
	paused.Status = domain.RawStatusPaused
	paused.ExpiresAt = testNow.Add(time.Hour)
	l.markets[6] = paused

	q := newTestEngine(l, nil)
	got := idsOf(q.GetClosingSoon(context.Background(), 24))
	if !slices.Equal(got, []int64{2, 4, 1}) {
		t.Errorf("ids = %v, want [2 4 1]", got)
	}
}

func TestGetClosingSoon_CapsAt15(t *testing.T) {
	l := newFakeLedger().withRange(1, 20)
	for id := range l.markets {
		raw := l.markets[id]
		raw.ExpiresAt = testNow.Add(time.Duration(id) * time.Minute)
		l.markets[id] = raw
	}
	q := newTestEngine(l, nil)

	got := q.GetClosingSoon(context.Background(), 24)
	if len(got) != 15 {
		t.Fatalf("got %d, want 15", len(got))
	}
	if got[0].ID != 1 || got[14].ID != 15 {
		t.Errorf("first/last = %d/%d, want 1/15", got[0].ID, got[14].ID)
	}
}

func TestGetNewlyCreated(t *testing.T) {
	l := newFakeLedger().withRange(1, 4)
	created := map[int64]time.Duration{
		1: -10 * 24 * time.Hour,
		2: -2 * 24 * time.Hour,
		3: -6 * time.Hour,
		4: -8 * 24 * time.Hour,
	}
	for id, ago := range created {
		raw := l.markets[id]
		raw.CreatedAt = testNow.Add(ago)
		l.markets[id] = raw
	}
	q := newTestEngine(l, nil)

	if got := idsOf(q.GetNewlyCreated(context.Background(), 7)); !slices.Equal(got, []int64{3, 2}) {
		t.Errorf("ids = %v, want [3 2]", got)
	}
}

func TestSearch(t *testing.T) {
	l := newFakeLedger().withRange(1, 4)
	meta := fakeMetadata{
		1: {Title: "Will ETH flip BTC by 2027?", Description: "Resolves on bitcoin market cap data."},
		2: {Title: "Will Bitcoin reach $100k?"},
		3: {Title: "Who wins the election?", Outcomes: []string{"Alice", "Bob"}},
		4: {Title: "Rain tomorrow over London?"},
	}
	q := newTestEngine(l, meta)

	got, err := q.SearchScored(context.Background(), "bitcoin")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d matches, want 2", len(got))
	}
	if got[0].Market.ID != 2 || got[0].Score != 100 {
		t.Errorf("top = #%d (%.1f), want #2 scoring 100", got[0].Market.ID, got[0].Score)
	}
	if got[1].Market.ID != 1 || got[1].Score != 80 {
		t.Errorf("second = #%d (%.1f), want #1 scoring 80 from its description", got[1].Market.ID, got[1].Score)
	}

	byOutcome, _ := q.Search(context.Background(), "alice")
	if len(byOutcome) != 1 || byOutcome[0].ID != 3 {
		t.Errorf("outcome search = %v, want [3]", idsOf(byOutcome))
	}
}

func TestSearch_BlankTerm(t *testing.T) {
	q := newTestEngine(newFakeLedger().withRange(1, 2), nil)
	if _, err := q.Search(context.Background(), "   "); !errors.Is(err, domain.ErrInvalidQuery) {
		t.Errorf("err = %v, want ErrInvalidQuery", err)
	}
}

func TestConnectionStatus(t *testing.T) {
	l := newFakeLedger().withRange(1, 8)
	l.count, l.countErr = 8, nil
	q := newTestEngine(l, nil)
	ctx := context.Background()

	if got := q.ConnectionStatus(ctx); !got.Connected || got.KnownMarkets != 0 {
		t.Errorf("before any query: %+v, want connected with 0 known", got)
	}

	q.GetAll(ctx)
	if got := q.ConnectionStatus(ctx); got.KnownMarkets != 8 {
		t.Errorf("KnownMarkets = %d, want 8", got.KnownMarkets)
	}

	l.pingErr = errTransport
	if got := q.ConnectionStatus(ctx); got.Connected {
		t.Errorf("Connected = true with the ledger down")
	}
	if l.probes != 0 {
		t.Errorf("ConnectionStatus probed the ledger %d times", l.probes)
	}
}

func TestQueryAudit(t *testing.T) {
	audit := &memAudit{}
	q := newTestEngine(newFakeLedger().withRange(1, 3), nil, WithAudit(audit))

	q.GetHighVolume(context.Background(), 2)
	q.Search(context.Background(), "market")

	entries, _ := audit.List(context.Background(), domain.ListOpts{})
	if len(entries) != 2 {
		t.Fatalf("audit rows = %d, want 2", len(entries))
	}
	if entries[0].Detail["kind"] != "high_volume" || entries[0].Detail["results"] != 2 {
		t.Errorf("first row = %v", entries[0].Detail)
	}
	if entries[1].Detail["term"] != "market" {
		t.Errorf("second row term = %v, want market", entries[1].Detail["term"])
	}
	if entries[0].Detail["query_id"] == entries[1].Detail["query_id"] {
		t.Error("query ids should be unique per row")
	}
}

// stuckAudit blocks every insert until its context ends.
type stuckAudit struct{ memAudit }

func (a *stuckAudit) Log(ctx context.Context, _ string, _ map[string]any) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestQueryAudit_SlowStoreIsBounded(t *testing.T) {
	q := newTestEngine(newFakeLedger().withRange(1, 3), nil, WithAudit(&stuckAudit{}))
	q.auditTimeout = 50 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	done := make(chan bool, 1)
	go func() {
		_, ok, _ := q.GetByID(ctx, 1)
		done <- ok
	}()
	select {
	case ok := <-done:
		if !ok {
			t.Error("GetByID did not find market 1")
		}
	case <-time.After(time.Second):
		t.Fatal("GetByID blocked on the audit store past its deadline")
	}
}
