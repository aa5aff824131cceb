package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SETTLEBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SETTLEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "SETTLEBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "SETTLEBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "SETTLEBOT_WALLET_KEY_PASSWORD")

	// ── Chain ──
	setStr(&cfg.Chain.RPCURL, "SETTLEBOT_CHAIN_RPC_URL")
	setStr(&cfg.Chain.ContractAddress, "SETTLEBOT_CHAIN_CONTRACT_ADDRESS")
	setInt64(&cfg.Chain.ChainID, "SETTLEBOT_CHAIN_CHAIN_ID")

	// ── Resolver ──
	setStr(&cfg.Resolver.BaseURL, "SETTLEBOT_RESOLVER_BASE_URL")
	setStr(&cfg.Resolver.ApiKey, "SETTLEBOT_RESOLVER_API_KEY")
	setStr(&cfg.Resolver.Model, "SETTLEBOT_RESOLVER_MODEL")
	setFloat64(&cfg.Resolver.Temperature, "SETTLEBOT_RESOLVER_TEMPERATURE")
	setInt(&cfg.Resolver.MaxTokens, "SETTLEBOT_RESOLVER_MAX_TOKENS")
	setDuration(&cfg.Resolver.Timeout, "SETTLEBOT_RESOLVER_TIMEOUT")
	setInt(&cfg.Resolver.StepBudget, "SETTLEBOT_RESOLVER_STEP_BUDGET")
	setBool(&cfg.Resolver.IncludeCriteria, "SETTLEBOT_RESOLVER_INCLUDE_CRITERIA")
	setDuration(&cfg.Resolver.CacheTTL, "SETTLEBOT_RESOLVER_CACHE_TTL")

	// ── Search ──
	setStr(&cfg.Search.BaseURL, "SETTLEBOT_SEARCH_BASE_URL")
	setStr(&cfg.Search.ApiKey, "SETTLEBOT_SEARCH_API_KEY")
	setInt(&cfg.Search.MaxResults, "SETTLEBOT_SEARCH_MAX_RESULTS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SETTLEBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SETTLEBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SETTLEBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SETTLEBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SETTLEBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SETTLEBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SETTLEBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SETTLEBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SETTLEBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SETTLEBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SETTLEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SETTLEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SETTLEBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SETTLEBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SETTLEBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SETTLEBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SETTLEBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SETTLEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SETTLEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SETTLEBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SETTLEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SETTLEBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SETTLEBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SETTLEBOT_S3_FORCE_PATH_STYLE")

	// ── Sync ──
	setDuration(&cfg.Sync.Interval, "SETTLEBOT_SYNC_INTERVAL")
	setInt(&cfg.Sync.ArchiveAfterDays, "SETTLEBOT_SYNC_ARCHIVE_AFTER_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SETTLEBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SETTLEBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SETTLEBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.ApiKey, "SETTLEBOT_SERVER_API_KEY")
	setInt(&cfg.Server.ResolveRateLimit, "SETTLEBOT_SERVER_RESOLVE_RATE_LIMIT")
	setDuration(&cfg.Server.ResolveRateWindow, "SETTLEBOT_SERVER_RESOLVE_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SETTLEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SETTLEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SETTLEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SETTLEBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SETTLEBOT_MODE")
	setStr(&cfg.LogLevel, "SETTLEBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
