package app

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/alanyoungcy/xomarket-expert/internal/config"
)

func TestRun_UnsupportedModeFailsBeforeWiring(t *testing.T) {
	cfg := config.Defaults()
	cfg.Mode = "trade"
	cfg.Ledger.RPCURL = "http://127.0.0.1:1"

	a := New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer a.Close()

	err := a.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), `unsupported mode "trade"`) {
		t.Fatalf("Run() = %v, want unsupported mode error", err)
	}
	if len(a.closers) != 0 {
		t.Errorf("closers = %d, want none registered", len(a.closers))
	}
}

func TestModes(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, mode := range []string{"server", "bot", "full"} {
		if _, ok := a.modes()[mode]; !ok {
			t.Errorf("mode %q has no runner", mode)
		}
	}
}
