// Package market is the aggregation engine: it discovers which markets exist
// on the ledger, fetches normalized snapshots in rate-bounded batches, and
// answers browse and search queries over them.
package market

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
)

// PendingPolicy decides what a market that has not started yet reports.
type PendingPolicy int

const (
	// PendingAsPending reports not-yet-started markets as pending.
	PendingAsPending PendingPolicy = iota
	// PendingAsActive reports them as active.
	PendingAsActive
)

// ParsePendingPolicy maps a config value ("pending" or "active") to a policy.
func ParsePendingPolicy(s string) (PendingPolicy, error) {
	switch s {
	case "", "pending":
		return PendingAsPending, nil
	case "active":
		return PendingAsActive, nil
	default:
		return 0, fmt.Errorf("market: unknown pending policy %q", s)
	}
}

func (p PendingPolicy) String() string {
	if p == PendingAsActive {
		return "active"
	}
	return "pending"
}

// ResolveStatus derives the authoritative status of raw at now. The on-chain
// flag takes precedence in the order resolved, cancelled, closed, paused; an
// active or unknown flag falls through to the wall clock, so a market is
// never reported active past its expiry.
func ResolveStatus(raw domain.RawMarket, now time.Time, policy PendingPolicy) domain.MarketStatus {
	switch {
	case !raw.ResolvedAt.IsZero() || raw.Status == domain.RawStatusResolved:
		return domain.MarketStatusResolved
	case raw.Status == domain.RawStatusCancelled:
		return domain.MarketStatusCancelled
	case raw.Status == domain.RawStatusClosed:
		return domain.MarketStatusClosed
	case raw.Status == domain.RawStatusPaused:
		return domain.MarketStatusPaused
	}

	switch {
	case now.After(raw.ExpiresAt):
		return domain.MarketStatusClosed
	case now.Before(raw.StartsAt):
		if policy == PendingAsActive {
			return domain.MarketStatusActive
		}
		return domain.MarketStatusPending
	default:
		return domain.MarketStatusActive
	}
}
