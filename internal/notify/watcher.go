package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
)

// StatusSource reports ledger reachability.
type StatusSource interface {
	ConnectionStatus(ctx context.Context) domain.ConnectionStatus
}

// Watcher polls a StatusSource and notifies on every connected/disconnected
// transition. The ledger is assumed reachable before the first poll.
type Watcher struct {
	source    StatusSource
	notifier  *Notifier
	interval  time.Duration
	connected bool
	logger    *slog.Logger
}

// NewWatcher creates a Watcher polling every interval.
func NewWatcher(source StatusSource, notifier *Notifier, interval time.Duration, logger *slog.Logger) *Watcher {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Watcher{
		source:    source,
		notifier:  notifier,
		interval:  interval,
		connected: true,
		logger:    logger.With(slog.String("component", "watcher")),
	}
}

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.check(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.check(ctx)
		}
	}
}

func (w *Watcher) check(ctx context.Context) {
	cs := w.source.ConnectionStatus(ctx)
	if ctx.Err() != nil || cs.Connected == w.connected {
		return
	}
	w.connected = cs.Connected

	event, title, msg := EventLedgerUp, "Ledger reachable again",
		fmt.Sprintf("Market reads resumed. %d markets known.", cs.KnownMarkets)
	if !cs.Connected {
		event, title, msg = EventLedgerDown, "Ledger unreachable",
			"Market queries will return empty results until the RPC endpoint recovers."
	}

	w.logger.WarnContext(ctx, "ledger connectivity changed",
		slog.Bool("connected", cs.Connected),
		slog.Int64("known_markets", cs.KnownMarkets),
	)
	if err := w.notifier.Notify(ctx, event, title, msg); err != nil {
		w.logger.WarnContext(ctx, "connectivity notification failed", slog.String("error", err.Error()))
	}
}
