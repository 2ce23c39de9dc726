package intent

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
	"github.com/alanyoungcy/xomarket-expert/internal/market"
)

// Engine is the subset of the query engine an Intent can be run against.
type Engine interface {
	GetByID(ctx context.Context, id int64) (domain.Market, bool, error)
	GetByStatus(ctx context.Context, s domain.MarketStatus) []domain.Market
	GetActive(ctx context.Context) []domain.Market
	GetClosingSoon(ctx context.Context, hours int) []domain.Market
	GetHighVolume(ctx context.Context, limit int) []domain.Market
	GetNewlyCreated(ctx context.Context, days int) []domain.Market
	SearchScored(ctx context.Context, term string) ([]market.Match, error)
	ConnectionStatus(ctx context.Context) domain.ConnectionStatus
}

// Answer is the live data gathered for an Intent.
type Answer struct {
	Intent     Intent                   `json:"intent"`
	Market     *domain.Market           `json:"market,omitempty"`
	Markets    []domain.Market          `json:"markets,omitempty"`
	Matches    []market.Match           `json:"matches,omitempty"`
	Connection *domain.ConnectionStatus `json:"connection,omitempty"`
}

// ErrUnrecognized is returned by Execute for KindUnknown.
var ErrUnrecognized = fmt.Errorf("%w: question not recognized", domain.ErrInvalidQuery)

// Execute runs in against e. A single-market intent for an id with no record
// returns domain.ErrNotFound.
func Execute(ctx context.Context, e Engine, in Intent) (Answer, error) {
	ans := Answer{Intent: in}

	switch in.Kind {
	case KindMarket:
		m, ok, err := e.GetByID(ctx, in.MarketID)
		if err != nil {
			return ans, err
		}
		if !ok {
			return ans, fmt.Errorf("market %d: %w", in.MarketID, domain.ErrNotFound)
		}
		ans.Market = &m
	case KindSearch:
		matches, err := e.SearchScored(ctx, in.Term)
		if err != nil {
			return ans, err
		}
		ans.Matches = matches
	case KindClosingSoon:
		ans.Markets = e.GetClosingSoon(ctx, in.Hours)
	case KindHighVolume:
		ans.Markets = e.GetHighVolume(ctx, in.Limit)
	case KindNewlyCreated:
		ans.Markets = limit(e.GetNewlyCreated(ctx, in.Days), in.Limit)
	case KindActive:
		ans.Markets = limit(e.GetActive(ctx), in.Limit)
	case KindByStatus:
		ans.Markets = limit(e.GetByStatus(ctx, in.Status), in.Limit)
	case KindConnection:
		cs := e.ConnectionStatus(ctx)
		ans.Connection = &cs
	default:
		return ans, ErrUnrecognized
	}
	return ans, nil
}

func limit(ms []domain.Market, n int) []domain.Market {
	if n > 0 && len(ms) > n {
		return ms[:n]
	}
	return ms
}
