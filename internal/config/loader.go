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
// built-in defaults, applies PRICEBOT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known PRICEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Pricing ──
	setFloat64(&cfg.Pricing.MarginWeight, "PRICEBOT_PRICING_MARGIN_WEIGHT")
	setFloat64(&cfg.Pricing.CompetitivenessWeight, "PRICEBOT_PRICING_COMPETITIVENESS_WEIGHT")
	setFloat64(&cfg.Pricing.QualityWeight, "PRICEBOT_PRICING_QUALITY_WEIGHT")
	setFloat64(&cfg.Pricing.MaxPremium, "PRICEBOT_PRICING_MAX_PREMIUM")
	setFloat64(&cfg.Pricing.TargetMargin, "PRICEBOT_PRICING_TARGET_MARGIN")
	setFloat64(&cfg.Pricing.MinMargin, "PRICEBOT_PRICING_MIN_MARGIN")
	setFloat64(&cfg.Pricing.PublishThreshold, "PRICEBOT_PRICING_PUBLISH_THRESHOLD")
	setFloat64(&cfg.Pricing.ExperimentBand, "PRICEBOT_PRICING_EXPERIMENT_BAND")
	setInt(&cfg.Pricing.UndercutBps, "PRICEBOT_PRICING_UNDERCUT_BPS")
	setInt(&cfg.Pricing.ExperimentSpreadBps, "PRICEBOT_PRICING_EXPERIMENT_SPREAD_BPS")
	setDuration(&cfg.Pricing.SnapshotMaxAge, "PRICEBOT_PRICING_SNAPSHOT_MAX_AGE")
	setInt(&cfg.Pricing.CycleConcurrency, "PRICEBOT_PRICING_CYCLE_CONCURRENCY")
	setDuration(&cfg.Pricing.LockTTL, "PRICEBOT_PRICING_LOCK_TTL")

	// ── Fees ──
	setFloat64(&cfg.Fees.Commission, "PRICEBOT_FEES_COMMISSION")
	setFloat64(&cfg.Fees.DefaultTax, "PRICEBOT_FEES_DEFAULT_TAX")

	// ── Experiment ──
	setInt64(&cfg.Experiment.MinSampleSize, "PRICEBOT_EXPERIMENT_MIN_SAMPLE_SIZE")
	setFloat64(&cfg.Experiment.Confidence, "PRICEBOT_EXPERIMENT_CONFIDENCE")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PRICEBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "PRICEBOT_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "PRICEBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PRICEBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PRICEBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PRICEBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PRICEBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PRICEBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PRICEBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PRICEBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PRICEBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PRICEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PRICEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PRICEBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PRICEBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PRICEBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PRICEBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "PRICEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PRICEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "PRICEBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PRICEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PRICEBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PRICEBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PRICEBOT_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PRICEBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PRICEBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PRICEBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PRICEBOT_SERVER_API_KEY")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PRICEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PRICEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PRICEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PRICEBOT_NOTIFY_EVENTS")

	// ── Scheduler ──
	setBool(&cfg.Scheduler.Enabled, "PRICEBOT_SCHEDULER_ENABLED")
	setStr(&cfg.Scheduler.PricingCron, "PRICEBOT_SCHEDULER_PRICING_CRON")
	setStr(&cfg.Scheduler.ArchiveCron, "PRICEBOT_SCHEDULER_ARCHIVE_CRON")
	setInt(&cfg.Scheduler.ArchiveRetentionDays, "PRICEBOT_SCHEDULER_ARCHIVE_RETENTION_DAYS")

	// ── Sheets ──
	setStr(&cfg.Sheets.ImportPath, "PRICEBOT_SHEETS_IMPORT_PATH")
	setStr(&cfg.Sheets.ExportDir, "PRICEBOT_SHEETS_EXPORT_DIR")

	// ── Top-level ──
	setStr(&cfg.Mode, "PRICEBOT_MODE")
	setStr(&cfg.LogLevel, "PRICEBOT_LOG_LEVEL")
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
