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
// built-in defaults, applies PAIRARB_* environment variable overrides, and
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

// applyEnvOverrides reads well-known PAIRARB_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setInt64(&cfg.Engine.MinNetProfitCents, "PAIRARB_ENGINE_MIN_NET_PROFIT_CENTS")
	setInt64(&cfg.Engine.PriceFloorCents, "PAIRARB_ENGINE_PRICE_FLOOR_CENTS")
	setDuration(&cfg.Engine.MaxQuoteAge, "PAIRARB_ENGINE_MAX_QUOTE_AGE")
	setDuration(&cfg.Engine.SweepInterval, "PAIRARB_ENGINE_SWEEP_INTERVAL")

	// ── Risk ──
	setInt64(&cfg.Risk.MaxDailyLossCents, "PAIRARB_RISK_MAX_DAILY_LOSS_CENTS")
	setInt(&cfg.Risk.MaxConsecutiveErrors, "PAIRARB_RISK_MAX_CONSECUTIVE_ERRORS")
	setInt64(&cfg.Risk.MaxContractsPerPair, "PAIRARB_RISK_MAX_CONTRACTS_PER_PAIR")
	setInt64(&cfg.Risk.MaxTotalContracts, "PAIRARB_RISK_MAX_TOTAL_CONTRACTS")
	setInt(&cfg.Risk.MaxDailyTrades, "PAIRARB_RISK_MAX_DAILY_TRADES")

	// ── Execution ──
	setInt64(&cfg.Execution.ContractsPerTrade, "PAIRARB_EXECUTION_CONTRACTS_PER_TRADE")
	setDuration(&cfg.Execution.OrderTimeout, "PAIRARB_EXECUTION_ORDER_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PAIRARB_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PAIRARB_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PAIRARB_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PAIRARB_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PAIRARB_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PAIRARB_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PAIRARB_POSTGRES_SSLMODE")
	setBool(&cfg.Postgres.RunMigrations, "PAIRARB_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PAIRARB_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PAIRARB_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PAIRARB_REDIS_DB")
	setBool(&cfg.Redis.TLSEnabled, "PAIRARB_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PAIRARB_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PAIRARB_S3_REGION")
	setStr(&cfg.S3.Bucket, "PAIRARB_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PAIRARB_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PAIRARB_S3_SECRET_KEY")
	setBool(&cfg.S3.ForcePathStyle, "PAIRARB_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PAIRARB_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PAIRARB_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "PAIRARB_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "PAIRARB_SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PAIRARB_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PAIRARB_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PAIRARB_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PAIRARB_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PAIRARB_MODE")
	setStr(&cfg.LogLevel, "PAIRARB_LOG_LEVEL")
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
