package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
)

// scanStateKey holds the shared scan record as a hash:
//
//	total      - highest market id known to exist
//	scanned_at - unix milliseconds of the counter read or scan
const scanStateKey = "xomarket:scan"

// ScanCache implements domain.ScanCache so several processes share one
// discovery result. Both fields are written by a single HSET.
type ScanCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewScanCache creates a ScanCache. The key expires after keep so an
// abandoned record does not linger; keep should exceed the scan TTL.
func NewScanCache(c *Client, keep time.Duration) *ScanCache {
	return &ScanCache{rdb: c.Underlying(), ttl: keep}
}

// Load returns the shared record, or the zero state when none exists.
func (sc *ScanCache) Load(ctx context.Context) (domain.ScanState, error) {
	fields, err := sc.rdb.HGetAll(ctx, scanStateKey).Result()
	if err != nil {
		return domain.ScanState{}, fmt.Errorf("redis: load scan state: %w", err)
	}
	if len(fields) == 0 {
		return domain.ScanState{}, nil
	}
	return decodeScanState(fields)
}

// Store replaces the shared record.
func (sc *ScanCache) Store(ctx context.Context, state domain.ScanState) error {
	pipe := sc.rdb.TxPipeline()
	pipe.HSet(ctx, scanStateKey, encodeScanState(state))
	if sc.ttl > 0 {
		pipe.Expire(ctx, scanStateKey, sc.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: store scan state: %w", err)
	}
	return nil
}

func encodeScanState(s domain.ScanState) map[string]any {
	return map[string]any{
		"total":      s.TotalKnownID,
		"scanned_at": s.LastScannedAt.UnixMilli(),
	}
}

func decodeScanState(fields map[string]string) (domain.ScanState, error) {
	total, err := strconv.ParseInt(fields["total"], 10, 64)
	if err != nil {
		return domain.ScanState{}, fmt.Errorf("redis: scan state total: %w", err)
	}
	ms, err := strconv.ParseInt(fields["scanned_at"], 10, 64)
	if err != nil {
		return domain.ScanState{}, fmt.Errorf("redis: scan state scanned_at: %w", err)
	}
	if total < 0 {
		return domain.ScanState{}, errors.New("redis: scan state total is negative")
	}
	return domain.ScanState{TotalKnownID: total, LastScannedAt: time.UnixMilli(ms).UTC()}, nil
}

var _ domain.ScanCache = (*ScanCache)(nil)
