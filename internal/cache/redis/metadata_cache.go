package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
)

// MetadataCache implements domain.MetadataCache with one JSON string per
// market:
//
//	metadata:{id} - parsed MarketMetadata, expiring after the configured TTL
type MetadataCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewMetadataCache creates a MetadataCache whose entries live for ttl.
func NewMetadataCache(c *Client, ttl time.Duration) *MetadataCache {
	return &MetadataCache{rdb: c.Underlying(), ttl: ttl}
}

func metadataKey(id int64) string {
	return "metadata:" + strconv.FormatInt(id, 10)
}

// Get returns the cached metadata for a market, or domain.ErrNotFound.
func (mc *MetadataCache) Get(ctx context.Context, marketID int64) (domain.MarketMetadata, error) {
	data, err := mc.rdb.Get(ctx, metadataKey(marketID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.MarketMetadata{}, domain.ErrNotFound
		}
		return domain.MarketMetadata{}, fmt.Errorf("redis: get metadata %d: %w", marketID, err)
	}

	var meta domain.MarketMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return domain.MarketMetadata{}, fmt.Errorf("redis: unmarshal metadata %d: %w", marketID, err)
	}
	return meta, nil
}

// Set stores the metadata for a market.
func (mc *MetadataCache) Set(ctx context.Context, marketID int64, meta domain.MarketMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("redis: marshal metadata %d: %w", marketID, err)
	}
	if err := mc.rdb.Set(ctx, metadataKey(marketID), data, mc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set metadata %d: %w", marketID, err)
	}
	return nil
}

var _ domain.MetadataCache = (*MetadataCache)(nil)
