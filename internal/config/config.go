// Package config defines the top-level configuration for the settlement
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by PREDIX_* environment variables.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Chain    ChainConfig    `toml:"chain"`
	LogLevel string         `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Addr            string `toml:"addr"`
	RequestTimeout  int    `toml:"request_timeout_seconds"`
	ShutdownTimeout int    `toml:"shutdown_timeout_seconds"`
}

// DatabaseConfig holds PostgreSQL connection parameters. An empty DSN selects
// the in-memory store.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis read-through cache parameters. An empty Addr
// disables caching.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	TTLSeconds int    `toml:"ttl_seconds"`
}

// LedgerConfig holds the engine's identities and fee policy.
type LedgerConfig struct {
	Owner         string `toml:"owner"`
	FeeSink       string `toml:"fee_sink"`
	TokenAddress  string `toml:"token_address"`
	Custody       string `toml:"custody"`
	DepositFeeBps int64  `toml:"deposit_fee_bps"`
}

// ChainConfig holds the on-chain ERC-20 connection. An empty RPCURL selects
// the mock token ledger.
type ChainConfig struct {
	RPCURL     string `toml:"rpc_url"`
	PrivateKey string `toml:"private_key"`
	ChainID    int64  `toml:"chain_id"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			RequestTimeout:  30,
			ShutdownTimeout: 10,
		},
		Database: DatabaseConfig{
			RunMigrations: true,
		},
		Redis: RedisConfig{
			TTLSeconds: 30,
		},
		Ledger: LedgerConfig{
			Owner:         "owner",
			FeeSink:       "maintenance",
			TokenAddress:  "mock",
			Custody:       "custody",
			DepositFeeBps: 100,
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Server.Addr == "" {
		errs = append(errs, "server: addr must not be empty")
	}
	if c.Server.RequestTimeout < 1 {
		errs = append(errs, "server: request_timeout_seconds must be >= 1")
	}
	if c.Server.ShutdownTimeout < 1 {
		errs = append(errs, "server: shutdown_timeout_seconds must be >= 1")
	}

	if c.Ledger.Owner == "" {
		errs = append(errs, "ledger: owner must not be empty")
	}
	if c.Ledger.FeeSink == "" {
		errs = append(errs, "ledger: fee_sink must not be empty")
	}
	if c.Ledger.Custody == "" {
		errs = append(errs, "ledger: custody must not be empty")
	}
	if c.Ledger.DepositFeeBps < 0 || c.Ledger.DepositFeeBps > 10000 {
		errs = append(errs, fmt.Sprintf("ledger: deposit_fee_bps must be 0-10000, got %d", c.Ledger.DepositFeeBps))
	}

	if c.Redis.Addr != "" && c.Redis.TTLSeconds < 1 {
		errs = append(errs, "redis: ttl_seconds must be >= 1 when addr is set")
	}

	// Chain fields must be set together, or all empty.
	cr := c.Chain.RPCURL != ""
	ck := c.Chain.PrivateKey != ""
	if cr || ck {
		if !(cr && ck) {
			errs = append(errs, "chain: rpc_url and private_key must be set together")
		}
		if c.Chain.ChainID <= 0 {
			errs = append(errs, "chain: chain_id must be positive when rpc_url is set")
		}
		if c.Ledger.TokenAddress == "" {
			errs = append(errs, "chain: ledger.token_address is required when rpc_url is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
