package redis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
)

func TestScanStateRoundTrip(t *testing.T) {
	in := domain.ScanState{TotalKnownID: 37, LastScannedAt: time.UnixMilli(1_760_000_000_123).UTC()}

	fields := map[string]string{}
	for k, v := range encodeScanState(in) {
		switch n := v.(type) {
		case int64:
			fields[k] = strconv.FormatInt(n, 10)
		default:
			t.Fatalf("field %s has type %T", k, v)
		}
	}
	out, err := decodeScanState(fields)
	if err != nil {
		t.Fatalf("decodeScanState: %v", err)
	}
	if out.TotalKnownID != in.TotalKnownID || !out.LastScannedAt.Equal(in.LastScannedAt) {
		t.Errorf("got %+v, want %+v", out, in)
	}
}

func TestDecodeScanState_Corrupt(t *testing.T) {
	tests := []map[string]string{
		{"total": "abc", "scanned_at": "1"},
		{"total": "5"},
		{"total": "-1", "scanned_at": "1"},
	}
	for _, fields := range tests {
		if _, err := decodeScanState(fields); err == nil {
			t.Errorf("decodeScanState(%v) succeeded, want error", fields)
		}
	}
}

func TestKeys(t *testing.T) {
	if got := metadataKey(42); got != "metadata:42" {
		t.Errorf("metadataKey = %q", got)
	}
	if got := lockKey("xomarket:discovery"); got != "lock:xomarket:discovery" {
		t.Errorf("lockKey = %q", got)
	}
	if got := rateLimitKey("xomarket:batch"); got != "ratelimit:xomarket:batch" {
		t.Errorf("rateLimitKey = %q", got)
	}
}

// testClient connects to XOEXPERT_TEST_REDIS_ADDR or skips.
func testClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("XOEXPERT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("XOEXPERT_TEST_REDIS_ADDR not set")
	}
	c, err := New(context.Background(), ClientConfig{Addr: addr, DB: 15})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		c.Underlying().FlushDB(context.Background())
		c.Close()
	})
	return c
}

func TestScanCache_Live(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	sc := NewScanCache(c, time.Hour)

	empty, err := sc.Load(ctx)
	if err != nil || empty.TotalKnownID != 0 || !empty.LastScannedAt.IsZero() {
		t.Fatalf("empty Load = %+v, %v", empty, err)
	}

	want := domain.ScanState{TotalKnownID: 12, LastScannedAt: time.Now().Truncate(time.Millisecond).UTC()}
	if err := sc.Store(ctx, want); err != nil {
		t.Fatalf("Store: %v", err)
	}
	got, err := sc.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.TotalKnownID != 12 || !got.LastScannedAt.Equal(want.LastScannedAt) {
		t.Errorf("Load = %+v, want %+v", got, want)
	}
}

func TestMetadataCache_Live(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	mc := NewMetadataCache(c, time.Minute)

	if _, err := mc.Get(ctx, 1); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Get on empty cache: err = %v, want ErrNotFound", err)
	}
	meta := domain.MarketMetadata{Title: "Rain?", Outcomes: []string{"Yes", "No"}}
	if err := mc.Set(ctx, 1, meta); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := mc.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "Rain?" || len(got.Outcomes) != 2 {
		t.Errorf("Get = %+v", got)
	}
}

func TestLockAndLimiter_Live(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()

	locks := NewLockManager(c)
	unlock, err := locks.Acquire(ctx, "test:lock", time.Minute)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := locks.Acquire(ctx, "test:lock", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Errorf("second Acquire err = %v, want ErrLockHeld", err)
	}
	unlock()
	unlock()
	relock, err := locks.Acquire(ctx, "test:lock", time.Minute)
	if err != nil {
		t.Fatalf("Acquire after unlock: %v", err)
	}
	relock()

	rl := NewRateLimiter(c, 1, time.Second)
	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "test:limit", 3, time.Minute)
		if err != nil || !ok {
			t.Fatalf("Allow #%d = %v, %v", i, ok, err)
		}
	}
	if ok, _ := rl.Allow(ctx, "test:limit", 3, time.Minute); ok {
		t.Error("fourth request admitted past a limit of 3")
	}
}

func TestRateLimiterWait_Live(t *testing.T) {
	c := testClient(t)
	ctx := context.Background()
	key := fmt.Sprintf("test:wait:%d", time.Now().UnixNano())

	rl := NewRateLimiter(c, 1, 300*time.Millisecond)
	if err := rl.Wait(ctx, key); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := rl.Wait(short, key); err == nil {
		t.Error("Wait inside a full window admitted a second request")
	}

	long, cancelLong := context.WithTimeout(ctx, 2*time.Second)
	defer cancelLong()
	if err := rl.Wait(long, key); err != nil {
		t.Errorf("Wait after the window: %v", err)
	}
}
