package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PREDIX_* environment variable overrides, and
// returns the final Config. An empty path skips the file and uses defaults
// plus environment only. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known PREDIX_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Server.Addr, "PREDIX_SERVER_ADDR")
	setInt(&cfg.Server.RequestTimeout, "PREDIX_SERVER_REQUEST_TIMEOUT_SECONDS")
	setInt(&cfg.Server.ShutdownTimeout, "PREDIX_SERVER_SHUTDOWN_TIMEOUT_SECONDS")

	setStr(&cfg.Database.DSN, "PREDIX_DATABASE_DSN")
	setBool(&cfg.Database.RunMigrations, "PREDIX_DATABASE_RUN_MIGRATIONS")

	setStr(&cfg.Redis.Addr, "PREDIX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PREDIX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PREDIX_REDIS_DB")
	setInt(&cfg.Redis.TTLSeconds, "PREDIX_REDIS_TTL_SECONDS")

	setStr(&cfg.Ledger.Owner, "PREDIX_LEDGER_OWNER")
	setStr(&cfg.Ledger.FeeSink, "PREDIX_LEDGER_FEE_SINK")
	setStr(&cfg.Ledger.TokenAddress, "PREDIX_LEDGER_TOKEN_ADDRESS")
	setStr(&cfg.Ledger.Custody, "PREDIX_LEDGER_CUSTODY")
	setInt64(&cfg.Ledger.DepositFeeBps, "PREDIX_LEDGER_DEPOSIT_FEE_BPS")

	setStr(&cfg.Chain.RPCURL, "PREDIX_CHAIN_RPC_URL")
	setStr(&cfg.Chain.PrivateKey, "PREDIX_CHAIN_PRIVATE_KEY")
	setInt64(&cfg.Chain.ChainID, "PREDIX_CHAIN_CHAIN_ID")

	setStr(&cfg.LogLevel, "PREDIX_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

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

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
