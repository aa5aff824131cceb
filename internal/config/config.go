// Package config defines the top-level configuration for the settlement
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SETTLEBOT_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Chain    ChainConfig    `toml:"chain"`
	Resolver ResolverConfig `toml:"resolver"`
	Search   SearchConfig   `toml:"search"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Sync     SyncConfig     `toml:"sync"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the settlement wallet credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// ChainConfig holds RPC endpoint and contract parameters.
type ChainConfig struct {
	RPCURL          string `toml:"rpc_url"`
	ContractAddress string `toml:"contract_address"`
	ChainID         int64  `toml:"chain_id"`
}

// ResolverConfig holds the outcome resolution model parameters.
type ResolverConfig struct {
	BaseURL         string   `toml:"base_url"`
	ApiKey          string   `toml:"api_key"`
	Model           string   `toml:"model"`
	Temperature     float64  `toml:"temperature"`
	MaxTokens       int      `toml:"max_tokens"`
	Timeout         duration `toml:"timeout"`
	StepBudget      int      `toml:"step_budget"`
	IncludeCriteria bool     `toml:"include_criteria"`
	CacheTTL        duration `toml:"cache_ttl"`
}

// SearchConfig holds the web search API credentials used by the resolver's
// search tool.
type SearchConfig struct {
	BaseURL    string `toml:"base_url"`
	ApiKey     string `toml:"api_key"`
	MaxResults int    `toml:"max_results"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the evidence
// archive. When Enabled is false the service runs without an archive and
// settlement records carry no evidence URI.
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

// SyncConfig holds the chain mirror sync parameters.
type SyncConfig struct {
	Interval duration `toml:"interval"`
	// ArchiveAfterDays controls how old a settlement record must be before
	// the daily export moves it to cold storage. Zero disables the export.
	ArchiveAfterDays int `toml:"archive_after_days"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled           bool     `toml:"enabled"`
	Port              int      `toml:"port"`
	CORSOrigins       []string `toml:"cors_origins"`
	ApiKey            string   `toml:"api_key"`
	ResolveRateLimit  int      `toml:"resolve_rate_limit"`
	ResolveRateWindow duration `toml:"resolve_rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Chain: ChainConfig{
			RPCURL:  "http://localhost:8545",
			ChainID: 137,
		},
		Resolver: ResolverConfig{
			Model:           "gemini-3-pro-preview",
			Temperature:     0.1,
			MaxTokens:       800,
			Timeout:         duration{90 * time.Second},
			StepBudget:      3,
			IncludeCriteria: true,
			CacheTTL:        duration{time.Hour},
		},
		Search: SearchConfig{
			BaseURL:    "https://google.serper.dev",
			MaxResults: 5,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "settlebot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "settlebot-evidence",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Sync: SyncConfig{
			Interval:         duration{5 * time.Minute},
			ArchiveAfterDays: 90,
		},
		Server: ServerConfig{
			Enabled:           true,
			Port:              8000,
			CORSOrigins:       []string{"http://localhost:3000", "http://localhost:5173"},
			ResolveRateLimit:  10,
			ResolveRateWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"settlement_submitted", "manual_required", "settlement_failed", "sync_failed"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"syncer": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// needsWallet reports whether mode dispatches settlement transactions and
// therefore requires a signing key.
func needsWallet(mode string) bool {
	switch mode {
	case "server", "full":
		return true
	default:
		return false
	}
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	mode := strings.ToLower(c.Mode)
	if !validModes[mode] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, syncer, full)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet is required for modes that submit transactions.
	if needsWallet(mode) {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	// Chain
	if c.Chain.RPCURL == "" {
		errs = append(errs, "chain: rpc_url must not be empty")
	}
	if c.Chain.ContractAddress == "" {
		errs = append(errs, "chain: contract_address must not be empty")
	}
	if c.Chain.ChainID <= 0 {
		errs = append(errs, "chain: chain_id must be positive")
	}

	// Resolver is exercised by any mode that serves settlement requests.
	if needsWallet(mode) {
		if c.Resolver.ApiKey == "" {
			errs = append(errs, "resolver: api_key is required for mode "+c.Mode)
		}
		if c.Resolver.Model == "" {
			errs = append(errs, "resolver: model must not be empty")
		}
		if c.Resolver.StepBudget < 1 {
			errs = append(errs, "resolver: step_budget must be >= 1")
		}
	}

	// Postgres
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
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 is validated only when the evidence archive is enabled.
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Sync
	if c.Sync.Interval.Duration <= 0 {
		errs = append(errs, "sync: interval must be positive")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.ResolveRateLimit < 0 {
			errs = append(errs, "server: resolve_rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
