// Package config defines the top-level configuration for the pricing engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PRICEBOT_* environment variables.
type Config struct {
	Pricing    PricingConfig    `toml:"pricing"`
	Fees       FeesConfig       `toml:"fees"`
	Experiment ExperimentConfig `toml:"experiment"`
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Scheduler  SchedulerConfig  `toml:"scheduler"`
	Sheets     SheetsConfig     `toml:"sheets"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PricingConfig holds the scoring weights and the decision policy.
type PricingConfig struct {
	// MarginWeight, CompetitivenessWeight, and QualityWeight must sum to 1.0.
	MarginWeight          float64 `toml:"margin_weight"`
	CompetitivenessWeight float64 `toml:"competitiveness_weight"`
	QualityWeight         float64 `toml:"quality_weight"`
	// MaxPremium is the tolerated fraction above the competitor median before
	// the competitiveness sub-score reaches zero.
	MaxPremium       float64 `toml:"max_premium"`
	TargetMargin     float64 `toml:"target_margin"`
	MinMargin        float64 `toml:"min_margin"`
	PublishThreshold float64 `toml:"publish_threshold"`
	// ExperimentBand is the score window below the publish threshold that
	// yields an experiment decision instead of a hold.
	ExperimentBand      float64 `toml:"experiment_band"`
	UndercutBps         int     `toml:"undercut_bps"`
	ExperimentSpreadBps int     `toml:"experiment_spread_bps"`
	// SnapshotMaxAge excludes competitor observations older than this from
	// ranking. Zero disables the staleness check.
	SnapshotMaxAge duration `toml:"snapshot_max_age"`
	// CycleConcurrency caps concurrent per-product proposal workers in a
	// pricing cycle.
	CycleConcurrency int `toml:"cycle_concurrency"`
	// LockTTL bounds how long a per-product lock is held before expiring.
	LockTTL duration `toml:"lock_ttl"`
}

// CommissionTierConfig is one band of a tiered commission table. A zero
// up_to marks the open-ended top band.
type CommissionTierConfig struct {
	UpTo float64 `toml:"up_to"`
	Rate float64 `toml:"rate"`
}

// FeesConfig holds the marketplace fee schedule used by the cost model.
type FeesConfig struct {
	// Commission is the flat commission rate; ignored when tiers are set.
	Commission float64                `toml:"commission"`
	Tiers      []CommissionTierConfig `toml:"tiers"`
	// ShippingByClass maps product weight class to a flat shipping cost.
	ShippingByClass map[string]float64 `toml:"shipping_by_class"`
	// TaxByCategory maps product tax category to a tax rate on the sale.
	TaxByCategory map[string]float64 `toml:"tax_by_category"`
	DefaultTax    float64            `toml:"default_tax"`
}

// ExperimentConfig holds the A/B test stopping-rule parameters.
type ExperimentConfig struct {
	MinSampleSize int64   `toml:"min_sample_size"`
	Confidence    float64 `toml:"confidence"`
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

// S3Config holds S3-compatible object storage parameters for archives.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP control-surface parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey, when set, is required on mutating endpoints via X-API-Key.
	APIKey string `toml:"api_key"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// SchedulerConfig holds cron schedules for recurring jobs.
type SchedulerConfig struct {
	Enabled bool `toml:"enabled"`
	// PricingCron triggers a full pricing cycle over the active catalog.
	PricingCron string `toml:"pricing_cron"`
	// ArchiveCron triggers archival of aged proposals, observations, and
	// concluded experiments to object storage.
	ArchiveCron          string `toml:"archive_cron"`
	ArchiveRetentionDays int    `toml:"archive_retention_days"`
}

// SheetsConfig holds CSV import/export paths for catalog round-trips.
type SheetsConfig struct {
	ImportPath string `toml:"import_path"`
	ExportDir  string `toml:"export_dir"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
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
		Pricing: PricingConfig{
			MarginWeight:          0.40,
			CompetitivenessWeight: 0.35,
			QualityWeight:         0.25,
			MaxPremium:            0.10,
			TargetMargin:          0.40,
			MinMargin:             0.30,
			PublishThreshold:      80,
			ExperimentBand:        15,
			UndercutBps:           100,
			ExperimentSpreadBps:   300,
			SnapshotMaxAge:        duration{24 * time.Hour},
			CycleConcurrency:      8,
			LockTTL:               duration{30 * time.Second},
		},
		Fees: FeesConfig{
			Commission: 0.10,
			ShippingByClass: map[string]float64{
				"light":  1.00,
				"medium": 2.00,
				"heavy":  5.00,
			},
			TaxByCategory: map[string]float64{
				"standard": 0.05,
				"exempt":   0.00,
			},
			DefaultTax: 0.05,
		},
		Experiment: ExperimentConfig{
			MinSampleSize: 100,
			Confidence:    0.95,
		},
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "pricebot",
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
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "pricebot-data",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"price_published", "price_clamped", "experiment_concluded", "error"},
		},
		Scheduler: SchedulerConfig{
			Enabled:              true,
			PricingCron:          "*/15 * * * *",
			ArchiveCron:          "0 3 * * *",
			ArchiveRetentionDays: 90,
		},
		Sheets: SheetsConfig{
			ExportDir: "exports",
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"cycle":  true,
	"full":   true,
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

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, cycle, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Pricing — weights must sum to 1 and the decision policy must be sane.
	weightSum := c.Pricing.MarginWeight + c.Pricing.CompetitivenessWeight + c.Pricing.QualityWeight
	if c.Pricing.MarginWeight < 0 || c.Pricing.CompetitivenessWeight < 0 || c.Pricing.QualityWeight < 0 {
		errs = append(errs, "pricing: score weights must be >= 0")
	}
	if weightSum < 1-1e-9 || weightSum > 1+1e-9 {
		errs = append(errs, fmt.Sprintf("pricing: score weights sum to %.6f, must sum to 1.0", weightSum))
	}
	if c.Pricing.MaxPremium < 0 {
		errs = append(errs, "pricing: max_premium must be >= 0")
	}
	if c.Pricing.TargetMargin <= 0 || c.Pricing.TargetMargin >= 1 {
		errs = append(errs, fmt.Sprintf("pricing: target_margin must be in (0,1), got %.4f", c.Pricing.TargetMargin))
	}
	if c.Pricing.MinMargin < 0 || c.Pricing.MinMargin > c.Pricing.TargetMargin {
		errs = append(errs, "pricing: min_margin must be in [0, target_margin]")
	}
	if c.Pricing.PublishThreshold < 0 || c.Pricing.PublishThreshold > 100 {
		errs = append(errs, fmt.Sprintf("pricing: publish_threshold must be 0-100, got %.2f", c.Pricing.PublishThreshold))
	}
	if c.Pricing.ExperimentBand < 0 || c.Pricing.ExperimentBand > c.Pricing.PublishThreshold {
		errs = append(errs, "pricing: experiment_band must be in [0, publish_threshold]")
	}
	if c.Pricing.UndercutBps < 0 || c.Pricing.UndercutBps >= 10000 {
		errs = append(errs, fmt.Sprintf("pricing: undercut_bps must be 0-9999, got %d", c.Pricing.UndercutBps))
	}
	if c.Pricing.ExperimentSpreadBps <= 0 || c.Pricing.ExperimentSpreadBps >= 10000 {
		errs = append(errs, fmt.Sprintf("pricing: experiment_spread_bps must be 1-9999, got %d", c.Pricing.ExperimentSpreadBps))
	}
	if c.Pricing.CycleConcurrency < 1 {
		errs = append(errs, "pricing: cycle_concurrency must be >= 1")
	}
	if c.Pricing.LockTTL.Duration <= 0 {
		errs = append(errs, "pricing: lock_ttl must be > 0")
	}

	// Fees
	if len(c.Fees.Tiers) == 0 {
		if c.Fees.Commission < 0 || c.Fees.Commission >= 1 {
			errs = append(errs, fmt.Sprintf("fees: commission must be in [0,1), got %.4f", c.Fees.Commission))
		}
	}
	prevUpTo := 0.0
	for i, tier := range c.Fees.Tiers {
		if tier.Rate < 0 || tier.Rate >= 1 {
			errs = append(errs, fmt.Sprintf("fees: tier %d rate must be in [0,1), got %.4f", i, tier.Rate))
		}
		if tier.UpTo == 0 {
			if i != len(c.Fees.Tiers)-1 {
				errs = append(errs, fmt.Sprintf("fees: tier %d has up_to 0 (open band) but is not last", i))
			}
		} else if tier.UpTo <= prevUpTo {
			errs = append(errs, fmt.Sprintf("fees: tier %d up_to %.2f not ascending", i, tier.UpTo))
		}
		prevUpTo = tier.UpTo
	}
	for class, cost := range c.Fees.ShippingByClass {
		if cost < 0 {
			errs = append(errs, fmt.Sprintf("fees: shipping for class %q must be >= 0", class))
		}
	}
	for cat, rate := range c.Fees.TaxByCategory {
		if rate < 0 || rate >= 1 {
			errs = append(errs, fmt.Sprintf("fees: tax for category %q must be in [0,1)", cat))
		}
	}
	if c.Fees.DefaultTax < 0 || c.Fees.DefaultTax >= 1 {
		errs = append(errs, "fees: default_tax must be in [0,1)")
	}

	// Experiment
	if c.Experiment.MinSampleSize < 1 {
		errs = append(errs, fmt.Sprintf("experiment: min_sample_size must be >= 1, got %d", c.Experiment.MinSampleSize))
	}
	if c.Experiment.Confidence <= 0.5 || c.Experiment.Confidence >= 1 {
		errs = append(errs, fmt.Sprintf("experiment: confidence must be in (0.5,1), got %.4f", c.Experiment.Confidence))
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

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	// Scheduler
	if c.Scheduler.Enabled {
		if c.Scheduler.PricingCron == "" {
			errs = append(errs, "scheduler: pricing_cron must not be empty when enabled")
		}
		if c.Scheduler.ArchiveRetentionDays < 1 {
			errs = append(errs, "scheduler: archive_retention_days must be >= 1")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
