package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/xomarket-expert/internal/bot"
	"github.com/alanyoungcy/xomarket-expert/internal/notify"
	"github.com/alanyoungcy/xomarket-expert/internal/server"
	"github.com/alanyoungcy/xomarket-expert/internal/server/handler"
)

const shutdownTimeout = 10 * time.Second

// ServerMode serves the HTTP API.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startWatcher(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// BotMode answers Telegram chats only.
func (a *App) BotMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting bot mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startBot(ctx, g, deps); err != nil {
		return err
	}
	a.startWatcher(ctx, g, deps)
	return g.Wait()
}

// FullMode runs the HTTP API and the Telegram bot side by side.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	if err := a.startBot(ctx, g, deps); err != nil {
		return err
	}
	a.startWatcher(ctx, g, deps)
	a.startHTTPServer(ctx, g, deps)
	return g.Wait()
}

// startHTTPServer adds the API server to g and shuts it down gracefully when
// ctx is cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(),
		Status:  handler.NewStatusHandler(strings.ToLower(a.cfg.Mode), deps.Engine, deps.Ledger),
		Markets: handler.NewMarketHandler(deps.Engine, a.logger),
		Live:    handler.NewLiveHandler(deps.Engine, a.logger),
	}
	if deps.AuditStore != nil {
		handlers.Audit = handler.NewAuditHandler(deps.AuditStore, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		WriteTimeout: a.cfg.Server.WriteTimeout.Duration,
		RateLimit:    a.cfg.Server.RateLimit,
		RateWindow:   a.cfg.Server.RateWindow.Duration,
	}, handlers, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// startBot connects to Telegram and adds the update loop to g.
func (a *App) startBot(ctx context.Context, g *errgroup.Group, deps *Dependencies) error {
	b, err := bot.New(bot.Config{
		Token:        a.cfg.Telegram.Token,
		AllowedChats: a.cfg.Telegram.AllowedChats,
		QueryTimeout: a.cfg.Telegram.QueryTimeout.Duration,
		Workers:      a.cfg.Telegram.Workers,
	}, deps.Engine, a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	g.Go(func() error {
		return b.Run(ctx)
	})
	return nil
}

// startWatcher adds the connectivity watcher to g when an alert channel is
// configured.
func (a *App) startWatcher(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !deps.Notifier.Enabled() {
		a.logger.InfoContext(ctx, "no alert channels configured, connectivity watcher disabled")
		return
	}
	w := notify.NewWatcher(deps.Engine, deps.Notifier, a.cfg.Notify.WatchInterval.Duration, a.logger)
	g.Go(func() error {
		return w.Run(ctx)
	})
	a.logger.InfoContext(ctx, "connectivity watcher started",
		slog.Duration("interval", a.cfg.Notify.WatchInterval.Duration),
	)
}
