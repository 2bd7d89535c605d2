// Package config defines the top-level configuration for the REC ledger
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by RECLEDGER_* environment variables.
type Config struct {
	Ledger   LedgerConfig   `toml:"ledger"`
	Operator OperatorConfig `toml:"operator"`
	Registry RegistryConfig `toml:"registry"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Settler  SettlerConfig  `toml:"settler"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// LedgerConfig holds the state-transition engine parameters.
type LedgerConfig struct {
	// Owner is the contract owner principal; it is always an admin.
	Owner              string `toml:"owner"`
	MinAuctionDuration uint64 `toml:"min_auction_duration"`
	// Store selects persistence: "postgres" or "memory".
	Store string `toml:"store"`
	// HeightSource selects the logical clock: "chain" follows the registry
	// chain's block number, "clock" derives heights from wall time.
	HeightSource  string   `toml:"height_source"`
	Genesis       string   `toml:"genesis"` // RFC 3339, used by the "clock" source
	BlockInterval duration `toml:"block_interval"`
	// LeaseKey names the Redis lease that makes this process the only writer.
	LeaseKey string   `toml:"lease_key"`
	LeaseTTL duration `toml:"lease_ttl"`
	// EventBuffer bounds the queue between commits and the event bus.
	EventBuffer int `toml:"event_buffer"`
}

// OperatorConfig holds the key the service itself signs with: settlement
// calls and registry transactions.
type OperatorConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// RegistryConfig selects and configures the token registry.
type RegistryConfig struct {
	// Kind is "erc721" or "memory".
	Kind         string   `toml:"kind"`
	RPCURL       string   `toml:"rpc_url"`
	Contract     string   `toml:"contract"`
	ChainID      int64    `toml:"chain_id"`
	ReceiptPoll  duration `toml:"receipt_poll"`
	ReceiptWarn  duration `toml:"receipt_warn"`
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
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	EvidencePrefix string `toml:"evidence_prefix"`
	SnapshotPrefix string `toml:"snapshot_prefix"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled          bool     `toml:"enabled"`
	Port             int      `toml:"port"`
	CORSOrigins      []string `toml:"cors_origins"`
	MaxSkew          duration `toml:"max_skew"`
	RateLimit        int      `toml:"rate_limit"`
	RateWindow       duration `toml:"rate_window"`
	MaxBodyBytes     int64    `toml:"max_body_bytes"`
	MaxEvidenceBytes int64    `toml:"max_evidence_bytes"`
}

// SettlerConfig controls the background auction finaliser.
type SettlerConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
}

// ArchiveConfig controls periodic snapshot export to S3.
type ArchiveConfig struct {
	Enabled  bool     `toml:"enabled"`
	Interval duration `toml:"interval"`
	Keep     int      `toml:"keep"`
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
		Ledger: LedgerConfig{
			MinAuctionDuration: 144,
			Store:              "postgres",
			HeightSource:       "chain",
			BlockInterval:      duration{10 * time.Minute},
			LeaseKey:           "sequencer",
			LeaseTTL:           duration{15 * time.Second},
			EventBuffer:        1024,
		},
		Registry: RegistryConfig{
			Kind:         "erc721",
			ReceiptPoll:  duration{2 * time.Second},
			ReceiptWarn:  duration{2 * time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "recledger",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "recledger:",
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "recledger",
			ForcePathStyle: true,
			EvidencePrefix: "evidence",
			SnapshotPrefix: "snapshots",
		},
		Server: ServerConfig{
			Enabled:          true,
			Port:             8000,
			CORSOrigins:      []string{"http://localhost:3000"},
			MaxSkew:          duration{5 * time.Minute},
			RateLimit:        120,
			RateWindow:       duration{time.Minute},
			MaxBodyBytes:     1 << 20,
			MaxEvidenceBytes: 32 << 20,
		},
		Settler: SettlerConfig{
			Enabled:  true,
			Interval: duration{30 * time.Second},
		},
		Archive: ArchiveConfig{
			Enabled:  false,
			Interval: duration{time.Hour},
			Keep:     48,
		},
		Notify: NotifyConfig{
			Events: []string{"dispute_opened", "dispute_resolved", "auction_closed", "listing_sold"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":   true,
	"server": true,
	"settle": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, server, settle)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Ledger
	if !common.IsHexAddress(c.Ledger.Owner) {
		errs = append(errs, fmt.Sprintf("ledger: owner %q is not a hex address", c.Ledger.Owner))
	}
	if c.Ledger.MinAuctionDuration == 0 {
		errs = append(errs, "ledger: min_auction_duration must be > 0")
	}
	switch c.Ledger.Store {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Sprintf("ledger: unknown store %q (valid: postgres, memory)", c.Ledger.Store))
	}
	switch c.Ledger.HeightSource {
	case "chain":
		if c.Registry.Kind != "erc721" && c.Registry.RPCURL == "" {
			errs = append(errs, "ledger: height_source chain needs registry.rpc_url")
		}
	case "clock":
		if _, err := time.Parse(time.RFC3339, c.Ledger.Genesis); err != nil {
			errs = append(errs, fmt.Sprintf("ledger: genesis %q must be RFC 3339", c.Ledger.Genesis))
		}
		if c.Ledger.BlockInterval.Duration <= 0 {
			errs = append(errs, "ledger: block_interval must be > 0")
		}
	default:
		errs = append(errs, fmt.Sprintf("ledger: unknown height_source %q (valid: chain, clock)", c.Ledger.HeightSource))
	}
	if c.Ledger.LeaseKey == "" {
		errs = append(errs, "ledger: lease_key must not be empty")
	}
	if c.Ledger.LeaseTTL.Duration < time.Second {
		errs = append(errs, "ledger: lease_ttl must be >= 1s")
	}
	if c.Ledger.EventBuffer < 1 {
		errs = append(errs, "ledger: event_buffer must be >= 1")
	}

	// Operator: the settler and the ERC-721 registry sign with it.
	needsOperator := c.Registry.Kind == "erc721" || (c.Settler.Enabled && c.Mode != "server")
	if needsOperator && c.Operator.PrivateKey == "" && c.Operator.EncryptedKeyPath == "" {
		errs = append(errs, "operator: either private_key or encrypted_key_path must be set")
	}

	// Registry
	switch c.Registry.Kind {
	case "erc721":
		if c.Registry.RPCURL == "" {
			errs = append(errs, "registry: rpc_url must not be empty")
		}
		if !common.IsHexAddress(c.Registry.Contract) {
			errs = append(errs, fmt.Sprintf("registry: contract %q is not a hex address", c.Registry.Contract))
		}
		if c.Registry.ChainID <= 0 {
			errs = append(errs, "registry: chain_id must be > 0")
		}
	case "memory":
	default:
		errs = append(errs, fmt.Sprintf("registry: unknown kind %q (valid: erc721, memory)", c.Registry.Kind))
	}

	// Postgres
	if c.Ledger.Store == "postgres" {
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

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}
	if c.Archive.Enabled {
		if !c.S3.Enabled {
			errs = append(errs, "archive: requires s3.enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	// Settler
	if c.Settler.Enabled && c.Settler.Interval.Duration <= 0 {
		errs = append(errs, "settler: interval must be > 0")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.MaxSkew.Duration <= 0 {
			errs = append(errs, "server: max_skew must be > 0")
		}
		if c.Server.MaxBodyBytes <= 0 || c.Server.MaxEvidenceBytes <= 0 {
			errs = append(errs, "server: max_body_bytes and max_evidence_bytes must be > 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// OwnerPrincipal returns the parsed ledger owner. Call after Validate.
func (c *Config) OwnerPrincipal() common.Address {
	return common.HexToAddress(c.Ledger.Owner)
}

// GenesisTime returns the parsed genesis time, or the zero time when unset.
func (c *Config) GenesisTime() time.Time {
	t, _ := time.Parse(time.RFC3339, c.Ledger.Genesis)
	return t
}
