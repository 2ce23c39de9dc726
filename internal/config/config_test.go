package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Defaults().Validate() = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"unknown mode", func(c *Config) { c.Mode = "trade" }, `unknown mode "trade"`},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, "unknown log_level"},
		{"bad contract", func(c *Config) { c.Ledger.MarketContract = "0x123" }, "market_contract"},
		{"bad metadata contract", func(c *Config) { c.Ledger.MetadataContract = "nope" }, "metadata_contract"},
		{"batch too big", func(c *Config) { c.Batch.Size = 25 }, "batch: size must be 8-10"},
		{"pause too short", func(c *Config) { c.Batch.Pause.Duration = 10 * time.Millisecond }, "batch: pause"},
		{"pending policy", func(c *Config) { c.Status.PendingPolicy = "skip" }, "pending_policy"},
		{"search cutoff", func(c *Config) { c.Search.Cutoff = 100 }, "search: cutoff"},
		{"hard cap", func(c *Config) { c.Discovery.HardCap = 0 }, "hard_cap"},
		{"bot without token", func(c *Config) { c.Mode = "bot" }, "telegram: token is required"},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }, "redis: addr"},
		{"postgres without host", func(c *Config) { c.Postgres.Enabled = true; c.Postgres.Host = "" }, "postgres: host"},
		{"half notify telegram", func(c *Config) { c.Notify.TelegramToken = "t" }, "set together"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() = nil, want error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "nope"
	cfg.Search.TopK = 0
	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil, want error")
	}
	if n := strings.Count(err.Error(), "\n  - "); n != 2 {
		t.Errorf("got %d problems, want 2:\n%s", n, err)
	}
}

func TestValidate_PostgresDSNSkipsFields(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Enabled = true
	cfg.Postgres.Host = ""
	cfg.Postgres.DSN = "postgres://u:p@db:5432/x"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "full"

[ledger]
call_timeout = "3s"

[batch]
size = 8
pause = "150ms"

[telegram]
token = "from-file"
allowed_chats = [1, 2]
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("XOEXPERT_TELEGRAM_TOKEN", "from-env")
	t.Setenv("XOEXPERT_SERVER_PORT", "9100")
	t.Setenv("XOEXPERT_REDIS_ENABLED", "true")
	t.Setenv("XOEXPERT_NOTIFY_EVENTS", "ledger_down, ")
	t.Setenv("XOEXPERT_BATCH_SIZE", "not-a-number")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "full" {
		t.Errorf("Mode = %q, want full", cfg.Mode)
	}
	if cfg.Ledger.CallTimeout.Duration != 3*time.Second {
		t.Errorf("CallTimeout = %v, want 3s", cfg.Ledger.CallTimeout.Duration)
	}
	if cfg.Ledger.CounterTimeout.Duration != 10*time.Second {
		t.Errorf("CounterTimeout = %v, want default 10s", cfg.Ledger.CounterTimeout.Duration)
	}
	if cfg.Batch.Size != 8 || cfg.Batch.Pause.Duration != 150*time.Millisecond {
		t.Errorf("Batch = %+v, want size 8 pause 150ms", cfg.Batch)
	}
	if cfg.Telegram.Token != "from-env" {
		t.Errorf("Token = %q, want env override", cfg.Telegram.Token)
	}
	if len(cfg.Telegram.AllowedChats) != 2 {
		t.Errorf("AllowedChats = %v", cfg.Telegram.AllowedChats)
	}
	if cfg.Server.Port != 9100 || !cfg.Redis.Enabled {
		t.Errorf("port %d redis %v, want 9100 true", cfg.Server.Port, cfg.Redis.Enabled)
	}
	if len(cfg.Notify.Events) != 1 || cfg.Notify.Events[0] != "ledger_down" {
		t.Errorf("Events = %v, want [ledger_down]", cfg.Notify.Events)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Ledger.RPCURL != Defaults().Ledger.RPCURL {
		t.Errorf("RPCURL = %q", cfg.Ledger.RPCURL)
	}
}

func TestLoad_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[batch]\npause = \"soon\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() = nil, want decode error")
	}
}

func TestSetInt64Slice(t *testing.T) {
	tests := []struct {
		env  string
		want int
	}{
		{"1,2,-100", 3},
		{"1,x", 0},
		{"", 0},
	}
	for _, tt := range tests {
		t.Setenv("XOEXPERT_TEST_CHATS", tt.env)
		var got []int64
		setInt64Slice(&got, "XOEXPERT_TEST_CHATS")
		if len(got) != tt.want {
			t.Errorf("%q: got %v, want %d ids", tt.env, got, tt.want)
		}
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Telegram.Token = "123:abc"
	cfg.Server.APIKey = "key"
	cfg.Postgres.DSN = "postgres://user:hunter2@db:5432/x"
	cfg.Postgres.Password = "hunter2"
	cfg.Notify.Events = []string{"ledger_down"}

	out := RedactedConfig(&cfg)
	if out.Telegram.Token != "***" || out.Server.APIKey != "***" || out.Postgres.Password != "***" {
		t.Errorf("secrets not redacted: %+v", out)
	}
	if strings.Contains(out.Postgres.DSN, "hunter2") || !strings.Contains(out.Postgres.DSN, "user") {
		t.Errorf("DSN = %q, want password masked and user kept", out.Postgres.DSN)
	}
	if out.Redis.Password != "" {
		t.Errorf("empty password became %q", out.Redis.Password)
	}
	out.Notify.Events[0] = "changed"
	if cfg.Notify.Events[0] != "ledger_down" {
		t.Error("redacted copy aliases the original events slice")
	}
	if cfg.Telegram.Token != "123:abc" {
		t.Error("original config was modified")
	}
}
