// Package config defines the xoexpert configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration. Fields come from a TOML file and are then
// overridden by XOEXPERT_* environment variables.
type Config struct {
	Ledger    LedgerConfig    `toml:"ledger"`
	Discovery DiscoveryConfig `toml:"discovery"`
	Batch     BatchConfig     `toml:"batch"`
	Status    StatusConfig    `toml:"status"`
	Search    SearchConfig    `toml:"search"`
	Metadata  MetadataConfig  `toml:"metadata"`
	Redis     RedisConfig     `toml:"redis"`
	Postgres  PostgresConfig  `toml:"postgres"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	Telegram  TelegramConfig  `toml:"telegram"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// LedgerConfig points at the RPC endpoint and the market contracts.
type LedgerConfig struct {
	RPCURL             string   `toml:"rpc_url"`
	MarketContract     string   `toml:"market_contract"`
	MetadataContract   string   `toml:"metadata_contract"`
	ABIPath            string   `toml:"abi_path"`
	CallTimeout        duration `toml:"call_timeout"`
	CounterTimeout     duration `toml:"counter_timeout"`
	CollateralDecimals int      `toml:"collateral_decimals"`
}

// DiscoveryConfig bounds the market-range scan.
type DiscoveryConfig struct {
	ScanCacheTTL duration `toml:"scan_cache_ttl"`
	HardCap      int64    `toml:"hard_cap"`
	LinearExtend int64    `toml:"linear_extend"`
	LockTTL      duration `toml:"lock_ttl"`
}

// BatchConfig shapes concurrent snapshot fetches. RateLimit of zero disables
// the distributed gate.
type BatchConfig struct {
	Size       int      `toml:"size"`
	Pause      duration `toml:"pause"`
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// StatusConfig tunes status resolution.
type StatusConfig struct {
	PendingPolicy string `toml:"pending_policy"`
}

// SearchConfig tunes fuzzy ranking.
type SearchConfig struct {
	Cutoff float64 `toml:"cutoff"`
	TopK   int     `toml:"top_k"`
}

// MetadataConfig bounds remote metadata document loads.
type MetadataConfig struct {
	Timeout     duration `toml:"timeout"`
	IPFSGateway string   `toml:"ipfs_gateway"`
	MaxBytes    int64    `toml:"max_bytes"`
	CacheTTL    duration `toml:"cache_ttl"`
}

// RedisConfig holds Redis connection parameters. When disabled the engine
// uses its in-process scan cache and no distributed lock or limiter.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// PostgresConfig holds the audit database connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds object storage parameters for s3:// metadata documents.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// duration wraps time.Duration so the TOML decoder accepts "5m" or "120ms".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	APIKey       string   `toml:"api_key"`
	WriteTimeout duration `toml:"write_timeout"`
	RateLimit    int      `toml:"rate_limit"`
	RateWindow   duration `toml:"rate_window"`
}

// NotifyConfig holds operator alert channels.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    int64    `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
	WatchInterval     duration `toml:"watch_interval"`
}

// TelegramConfig holds the command bot settings.
type TelegramConfig struct {
	Token        string   `toml:"token"`
	AllowedChats []int64  `toml:"allowed_chats"`
	QueryTimeout duration `toml:"query_timeout"`
	Workers      int      `toml:"workers"`
}

// Defaults returns a Config populated with sensible defaults.
func Defaults() Config {
	return Config{
		Ledger: LedgerConfig{
			RPCURL:             "https://testnet-rpc-1.xo.market/",
			MarketContract:     "0x3cf19D0C88a14477DCaA0A45f4AF149a4C917523",
			ABIPath:            "abi.json",
			CallTimeout:        duration{5 * time.Second},
			CounterTimeout:     duration{10 * time.Second},
			CollateralDecimals: 18,
		},
		Discovery: DiscoveryConfig{
			ScanCacheTTL: duration{5 * time.Minute},
			HardCap:      5000,
			LinearExtend: 20,
			LockTTL:      duration{2 * time.Minute},
		},
		Batch: BatchConfig{
			Size:       10,
			Pause:      duration{120 * time.Millisecond},
			RateWindow: duration{time.Second},
		},
		Status: StatusConfig{PendingPolicy: "pending"},
		Search: SearchConfig{Cutoff: 15, TopK: 10},
		Metadata: MetadataConfig{
			Timeout:     duration{5 * time.Second},
			IPFSGateway: "https://ipfs.io/ipfs/",
			MaxBytes:    1 << 20,
			CacheTTL:    duration{10 * time.Minute},
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "xoexpert",
			User:          "xoexpert",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		S3: S3Config{
			Region: "us-east-1",
			UseSSL: true,
		},
		Server: ServerConfig{
			Port:         8000,
			CORSOrigins:  []string{"http://localhost:3000"},
			WriteTimeout: duration{2 * time.Minute},
			RateWindow:   duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events:        []string{"ledger_down", "ledger_up"},
			WatchInterval: duration{time.Minute},
		},
		Telegram: TelegramConfig{
			QueryTimeout: duration{60 * time.Second},
			Workers:      4,
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server": true,
	"bot":    true,
	"full":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for invalid or missing values and returns one error
// describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, bot, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ledger
	if c.Ledger.RPCURL == "" {
		errs = append(errs, "ledger: rpc_url must not be empty")
	}
	if !common.IsHexAddress(c.Ledger.MarketContract) {
		errs = append(errs, fmt.Sprintf("ledger: market_contract %q is not a hex address", c.Ledger.MarketContract))
	}
	if c.Ledger.MetadataContract != "" && !common.IsHexAddress(c.Ledger.MetadataContract) {
		errs = append(errs, fmt.Sprintf("ledger: metadata_contract %q is not a hex address", c.Ledger.MetadataContract))
	}
	if c.Ledger.CallTimeout.Duration <= 0 {
		errs = append(errs, "ledger: call_timeout must be > 0")
	}
	if c.Ledger.CounterTimeout.Duration <= 0 {
		errs = append(errs, "ledger: counter_timeout must be > 0")
	}
	if c.Ledger.CollateralDecimals < 0 || c.Ledger.CollateralDecimals > 36 {
		errs = append(errs, fmt.Sprintf("ledger: collateral_decimals must be 0-36, got %d", c.Ledger.CollateralDecimals))
	}

	// Discovery
	if c.Discovery.ScanCacheTTL.Duration <= 0 {
		errs = append(errs, "discovery: scan_cache_ttl must be > 0")
	}
	if c.Discovery.HardCap < 1 {
		errs = append(errs, "discovery: hard_cap must be >= 1")
	}
	if c.Discovery.LinearExtend < 0 {
		errs = append(errs, "discovery: linear_extend must be >= 0")
	}

	// Batch
	if c.Batch.Size < 8 || c.Batch.Size > 10 {
		errs = append(errs, fmt.Sprintf("batch: size must be 8-10, got %d", c.Batch.Size))
	}
	if p := c.Batch.Pause.Duration; p < 100*time.Millisecond || p > 150*time.Millisecond {
		errs = append(errs, fmt.Sprintf("batch: pause must be 100ms-150ms, got %s", p))
	}
	if c.Batch.RateLimit < 0 {
		errs = append(errs, "batch: rate_limit must be >= 0")
	}

	// Status
	switch c.Status.PendingPolicy {
	case "pending", "active":
	default:
		errs = append(errs, fmt.Sprintf("status: unknown pending_policy %q (valid: pending, active)", c.Status.PendingPolicy))
	}

	// Search
	if c.Search.Cutoff < 0 || c.Search.Cutoff >= 100 {
		errs = append(errs, "search: cutoff must be in [0, 100)")
	}
	if c.Search.TopK < 1 {
		errs = append(errs, "search: top_k must be >= 1")
	}

	// Metadata
	if c.Metadata.Timeout.Duration <= 0 {
		errs = append(errs, "metadata: timeout must be > 0")
	}
	if c.Metadata.IPFSGateway == "" {
		errs = append(errs, "metadata: ipfs_gateway must not be empty")
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// S3
	if c.S3.Enabled && c.S3.Region == "" {
		errs = append(errs, "s3: region must not be empty")
	}

	// Server
	if c.Mode != "bot" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Telegram
	if (c.Mode == "bot" || c.Mode == "full") && c.Telegram.Token == "" {
		errs = append(errs, "telegram: token is required for mode "+c.Mode)
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == 0) {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
