package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over Defaults and applies XOEXPERT_*
// environment overrides. An empty path skips the file. The result is not
// validated; call Config.Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// A missing .env file is fine.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	// ── Ledger ──
	setStr(&cfg.Ledger.RPCURL, "XOEXPERT_LEDGER_RPC_URL")
	setStr(&cfg.Ledger.MarketContract, "XOEXPERT_LEDGER_MARKET_CONTRACT")
	setStr(&cfg.Ledger.MetadataContract, "XOEXPERT_LEDGER_METADATA_CONTRACT")
	setStr(&cfg.Ledger.ABIPath, "XOEXPERT_LEDGER_ABI_PATH")
	setDuration(&cfg.Ledger.CallTimeout, "XOEXPERT_LEDGER_CALL_TIMEOUT")
	setDuration(&cfg.Ledger.CounterTimeout, "XOEXPERT_LEDGER_COUNTER_TIMEOUT")
	setInt(&cfg.Ledger.CollateralDecimals, "XOEXPERT_LEDGER_COLLATERAL_DECIMALS")

	// ── Discovery ──
	setDuration(&cfg.Discovery.ScanCacheTTL, "XOEXPERT_DISCOVERY_SCAN_CACHE_TTL")
	setInt64(&cfg.Discovery.HardCap, "XOEXPERT_DISCOVERY_HARD_CAP")
	setInt64(&cfg.Discovery.LinearExtend, "XOEXPERT_DISCOVERY_LINEAR_EXTEND")

	// ── Batch ──
	setInt(&cfg.Batch.Size, "XOEXPERT_BATCH_SIZE")
	setDuration(&cfg.Batch.Pause, "XOEXPERT_BATCH_PAUSE")
	setInt(&cfg.Batch.RateLimit, "XOEXPERT_BATCH_RATE_LIMIT")

	// ── Status / Search ──
	setStr(&cfg.Status.PendingPolicy, "XOEXPERT_STATUS_PENDING_POLICY")
	setFloat64(&cfg.Search.Cutoff, "XOEXPERT_SEARCH_CUTOFF")
	setInt(&cfg.Search.TopK, "XOEXPERT_SEARCH_TOP_K")

	// ── Metadata ──
	setDuration(&cfg.Metadata.Timeout, "XOEXPERT_METADATA_TIMEOUT")
	setStr(&cfg.Metadata.IPFSGateway, "XOEXPERT_METADATA_IPFS_GATEWAY")
	setDuration(&cfg.Metadata.CacheTTL, "XOEXPERT_METADATA_CACHE_TTL")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "XOEXPERT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "XOEXPERT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "XOEXPERT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "XOEXPERT_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "XOEXPERT_REDIS_TLS_ENABLED")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "XOEXPERT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "XOEXPERT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "XOEXPERT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "XOEXPERT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "XOEXPERT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "XOEXPERT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "XOEXPERT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "XOEXPERT_POSTGRES_SSL_MODE")
	setBool(&cfg.Postgres.RunMigrations, "XOEXPERT_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "XOEXPERT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "XOEXPERT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "XOEXPERT_S3_REGION")
	setStr(&cfg.S3.Bucket, "XOEXPERT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "XOEXPERT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "XOEXPERT_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "XOEXPERT_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, "XOEXPERT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "XOEXPERT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "XOEXPERT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "XOEXPERT_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "XOEXPERT_NOTIFY_TELEGRAM_TOKEN")
	setInt64(&cfg.Notify.TelegramChatID, "XOEXPERT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "XOEXPERT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "XOEXPERT_NOTIFY_EVENTS")
	setDuration(&cfg.Notify.WatchInterval, "XOEXPERT_NOTIFY_WATCH_INTERVAL")

	// ── Telegram bot ──
	setStr(&cfg.Telegram.Token, "XOEXPERT_TELEGRAM_TOKEN")
	setInt64Slice(&cfg.Telegram.AllowedChats, "XOEXPERT_TELEGRAM_ALLOWED_CHATS")

	// ── Top-level ──
	setStr(&cfg.Mode, "XOEXPERT_MODE")
	setStr(&cfg.LogLevel, "XOEXPERT_LOG_LEVEL")
}

// Typed env helpers. Each mutates the target only when the variable is set
// and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		*dst = n
	}
}

func setInt64(dst *int64, key string) {
	if n, err := strconv.ParseInt(os.Getenv(key), 10, 64); err == nil {
		*dst = n
	}
}

func setFloat64(dst *float64, key string) {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		*dst = f
	}
}

func setBool(dst *bool, key string) {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		*dst = b
	}
}

func setDuration(dst *duration, key string) {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		dst.Duration = d
	}
}

func setStringSlice(dst *[]string, key string) {
	if parts := splitList(os.Getenv(key)); len(parts) > 0 {
		*dst = parts
	}
}

func setInt64Slice(dst *[]int64, key string) {
	var out []int64
	for _, p := range splitList(os.Getenv(key)) {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return
		}
		out = append(out, n)
	}
	if len(out) > 0 {
		*dst = out
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
