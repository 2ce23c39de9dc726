package domain

import (
	"context"
	"time"
)

// ScanCache holds the single piece of engine state that outlives a query: the
// result of the last counter read or discovery scan. Store must replace both
// fields at once so readers never observe a torn record.
type ScanCache interface {
	Load(ctx context.Context) (ScanState, error)
	Store(ctx context.Context, state ScanState) error
}

// MetadataCache keeps parsed market metadata so repeated scans do not refetch
// remote documents.
type MetadataCache interface {
	Get(ctx context.Context, marketID int64) (MarketMetadata, error)
	Set(ctx context.Context, marketID int64, meta MarketMetadata) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}
