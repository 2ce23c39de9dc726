package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// MarketStatus is the authoritative, derived lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusPending   MarketStatus = "pending"
	MarketStatusActive    MarketStatus = "active"
	MarketStatusPaused    MarketStatus = "paused"
	MarketStatusClosed    MarketStatus = "closed"
	MarketStatusResolved  MarketStatus = "resolved"
	MarketStatusCancelled MarketStatus = "cancelled"
)

// ParseMarketStatus returns the status named by s, or false if s is not one of
// the known statuses.
func ParseMarketStatus(s string) (MarketStatus, bool) {
	switch st := MarketStatus(s); st {
	case MarketStatusPending, MarketStatusActive, MarketStatusPaused,
		MarketStatusClosed, MarketStatusResolved, MarketStatusCancelled:
		return st, true
	}
	return "", false
}

// RawStatus is the status flag stored by the market contract. It may lag
// reality and is only one input to status resolution.
type RawStatus uint8

const (
	RawStatusActive    RawStatus = 0
	RawStatusClosed    RawStatus = 1
	RawStatusResolved  RawStatus = 2
	RawStatusPaused    RawStatus = 3
	RawStatusCancelled RawStatus = 4
)

// RawMarket holds the fields decoded from a getExtendedMarket call, before
// metadata is merged and status is derived.
type RawMarket struct {
	ID                int64
	Status            RawStatus
	Creator           string
	CreatedAt         time.Time
	StartsAt          time.Time
	ExpiresAt         time.Time
	ResolvedAt        time.Time // zero when unresolved
	OutcomeCount      int
	CollateralToken   string
	CollateralAmount  decimal.Decimal
	CreatorFeeBps     int
	Alpha             decimal.Decimal
	WinningOutcome    int // -1 when unresolved
	OutcomeCollateral []decimal.Decimal
	OutcomePrices     []decimal.Decimal
}

// MarketMetadata is the human-readable description of a market. Title is
// always set.
type MarketMetadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Outcomes    []string `json:"outcomes,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Market is a normalized snapshot of one ledger market. Snapshots are derived
// fresh on every read and never updated in place.
type Market struct {
	ID               int64           `json:"id"`
	Status           MarketStatus    `json:"status"`
	Creator          string          `json:"creator"`
	StartsAt         time.Time       `json:"startsAt"`
	ExpiresAt        time.Time       `json:"expiresAt"`
	CreatedAt        time.Time       `json:"createdAt"`
	ResolvedAt       *time.Time      `json:"resolvedAt,omitempty"`
	OutcomeCount     int             `json:"outcomeCount"`
	OutcomePrices    []string        `json:"outcomePrices"`
	CurrentPrices    []string        `json:"currentPrices"`
	CollateralToken  string          `json:"collateralToken"`
	CollateralAmount decimal.Decimal `json:"collateralAmount"`
	Volume           decimal.Decimal `json:"volume"`
	CreatorFeeBps    int             `json:"creatorFeeBps"`
	Alpha            decimal.Decimal `json:"alpha"`
	WinningOutcome   *int            `json:"winningOutcome,omitempty"`
	TimeToClose      time.Duration   `json:"timeToClose"`
	Metadata         MarketMetadata  `json:"metadata"`
}

// OutcomeName returns the display name of outcome i, falling back to
// "Outcome <i+1>" when metadata does not name it.
func (m Market) OutcomeName(i int) string {
	if i >= 0 && i < len(m.Metadata.Outcomes) && m.Metadata.Outcomes[i] != "" {
		return m.Metadata.Outcomes[i]
	}
	return "Outcome " + strconv.Itoa(i+1)
}

// ScanState is the record kept by a ScanCache: the highest market id known to
// exist and when it was established.
type ScanState struct {
	TotalKnownID  int64     `json:"totalKnownId"`
	LastScannedAt time.Time `json:"lastScannedAt"`
}

// FreshAt reports whether the state was recorded within ttl of now.
func (s ScanState) FreshAt(now time.Time, ttl time.Duration) bool {
	return !s.LastScannedAt.IsZero() && now.Sub(s.LastScannedAt) < ttl
}

// ConnectionStatus is a diagnostic view of ledger reachability.
type ConnectionStatus struct {
	Connected    bool  `json:"connected"`
	KnownMarkets int64 `json:"knownMarkets"`
}

// NetworkInfo describes the ledger endpoint the engine reads from.
type NetworkInfo struct {
	ChainID          int64    `json:"chainId"`
	Name             string   `json:"name"`
	BlockNumber      uint64   `json:"blockNumber"`
	RPCURL           string   `json:"rpcUrl"`
	ContractAddress  string   `json:"contractAddress"`
	ABILoaded        bool     `json:"abiLoaded"`
	AvailableMethods []string `json:"availableMethods,omitempty"`
}
