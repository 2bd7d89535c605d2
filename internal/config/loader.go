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
// built-in defaults, applies RECLEDGER_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known RECLEDGER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Ledger ──
	setStr(&cfg.Ledger.Owner, "RECLEDGER_LEDGER_OWNER")
	setUint64(&cfg.Ledger.MinAuctionDuration, "RECLEDGER_LEDGER_MIN_AUCTION_DURATION")
	setStr(&cfg.Ledger.Store, "RECLEDGER_LEDGER_STORE")
	setStr(&cfg.Ledger.HeightSource, "RECLEDGER_LEDGER_HEIGHT_SOURCE")
	setStr(&cfg.Ledger.Genesis, "RECLEDGER_LEDGER_GENESIS")
	setDuration(&cfg.Ledger.BlockInterval, "RECLEDGER_LEDGER_BLOCK_INTERVAL")
	setStr(&cfg.Ledger.LeaseKey, "RECLEDGER_LEDGER_LEASE_KEY")
	setDuration(&cfg.Ledger.LeaseTTL, "RECLEDGER_LEDGER_LEASE_TTL")
	setInt(&cfg.Ledger.EventBuffer, "RECLEDGER_LEDGER_EVENT_BUFFER")

	// ── Operator ──
	setStr(&cfg.Operator.PrivateKey, "RECLEDGER_OPERATOR_PRIVATE_KEY")
	setStr(&cfg.Operator.EncryptedKeyPath, "RECLEDGER_OPERATOR_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Operator.KeyPassword, "RECLEDGER_OPERATOR_KEY_PASSWORD")

	// ── Registry ──
	setStr(&cfg.Registry.Kind, "RECLEDGER_REGISTRY_KIND")
	setStr(&cfg.Registry.RPCURL, "RECLEDGER_REGISTRY_RPC_URL")
	setStr(&cfg.Registry.Contract, "RECLEDGER_REGISTRY_CONTRACT")
	setInt64(&cfg.Registry.ChainID, "RECLEDGER_REGISTRY_CHAIN_ID")
	setDuration(&cfg.Registry.ReceiptPoll, "RECLEDGER_REGISTRY_RECEIPT_POLL")
	setDuration(&cfg.Registry.ReceiptWarn, "RECLEDGER_REGISTRY_RECEIPT_WARN")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "RECLEDGER_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // platform convention
	setStr(&cfg.Postgres.Host, "RECLEDGER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "RECLEDGER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "RECLEDGER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "RECLEDGER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "RECLEDGER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "RECLEDGER_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "RECLEDGER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "RECLEDGER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "RECLEDGER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "RECLEDGER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "RECLEDGER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "RECLEDGER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "RECLEDGER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "RECLEDGER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "RECLEDGER_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "RECLEDGER_REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "RECLEDGER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "RECLEDGER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "RECLEDGER_S3_REGION")
	setStr(&cfg.S3.Bucket, "RECLEDGER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "RECLEDGER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "RECLEDGER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "RECLEDGER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "RECLEDGER_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "RECLEDGER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "RECLEDGER_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "RECLEDGER_SERVER_CORS_ORIGINS")
	setDuration(&cfg.Server.MaxSkew, "RECLEDGER_SERVER_MAX_SKEW")
	setInt(&cfg.Server.RateLimit, "RECLEDGER_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "RECLEDGER_SERVER_RATE_WINDOW")

	// ── Settler / Archive ──
	setBool(&cfg.Settler.Enabled, "RECLEDGER_SETTLER_ENABLED")
	setDuration(&cfg.Settler.Interval, "RECLEDGER_SETTLER_INTERVAL")
	setBool(&cfg.Archive.Enabled, "RECLEDGER_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "RECLEDGER_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.Keep, "RECLEDGER_ARCHIVE_KEEP")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "RECLEDGER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "RECLEDGER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "RECLEDGER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "RECLEDGER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "RECLEDGER_MODE")
	setStr(&cfg.LogLevel, "RECLEDGER_LOG_LEVEL")
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

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
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
