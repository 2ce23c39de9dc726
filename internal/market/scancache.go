package market

import (
	"context"
	"sync"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
)

// MemoryScanCache is the in-process ScanCache. The zero value is an empty
// cache ready for use.
type MemoryScanCache struct {
	mu    sync.RWMutex
	state domain.ScanState
}

// NewMemoryScanCache creates an empty MemoryScanCache.
func NewMemoryScanCache() *MemoryScanCache {
	return &MemoryScanCache{}
}

// Load returns the current record. An empty cache returns the zero state.
func (c *MemoryScanCache) Load(context.Context) (domain.ScanState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state, nil
}

// Store replaces the record.
func (c *MemoryScanCache) Store(_ context.Context, state domain.ScanState) error {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	return nil
}
