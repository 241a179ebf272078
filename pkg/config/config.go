package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/waypost-app/waypost-engine/pkg/models"
)

// Config holds all configuration for waypost-engine.
// Configuration can come from a YAML file (config.yaml) or environment
// variables; environment variables always override YAML values. Secrets
// (passwords) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8089"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration for the sweep lease (optional)
	Redis RedisConfig `yaml:"redis"`

	// Archive sink configuration
	Archive ArchiveConfig `yaml:"archive"`

	// Retention engine configuration
	Retention RetentionConfig `yaml:"retention"`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"waypost"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"waypost_engine"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis connection configuration. An empty host disables
// the sweep lease; concurrent sweeps remain safe, just wasteful.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// ArchiveConfig selects the durable export backend used before purge.
type ArchiveConfig struct {
	// Backend is one of "none", "file", or "s3".
	Backend string `yaml:"backend" env:"ARCHIVE_BACKEND" env-default:"file"`
	// Dir is the output directory for the file backend.
	Dir string `yaml:"dir" env:"ARCHIVE_DIR" env-default:"./archive"`
	// Bucket/Prefix/Region configure the s3 backend.
	Bucket string `yaml:"bucket" env:"ARCHIVE_BUCKET" env-default:""`
	Prefix string `yaml:"prefix" env:"ARCHIVE_PREFIX" env-default:"waypost"`
	Region string `yaml:"region" env:"ARCHIVE_REGION" env-default:""`
}

// Validate checks that the selected archive backend is usable.
func (c *ArchiveConfig) Validate() error {
	switch c.Backend {
	case "none", "file":
		return nil
	case "s3":
		if c.Bucket == "" {
			return fmt.Errorf("archive backend s3 requires a bucket")
		}
		return nil
	default:
		return fmt.Errorf("unknown archive backend %q", c.Backend)
	}
}

// RetentionConfig holds the sweep schedule and per-entity-type policies.
type RetentionConfig struct {
	// SweepInterval is the period between scheduled full sweeps.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"RETENTION_SWEEP_INTERVAL" env-default:"24h"`
	// SweepOnStart triggers a full sweep at process start.
	SweepOnStart bool `yaml:"sweep_on_start" env:"RETENTION_SWEEP_ON_START" env-default:"true"`
	// TxTimeout bounds each cascade transaction. Timeouts surface as
	// transient errors and the record is retried on the next sweep.
	TxTimeout time.Duration `yaml:"tx_timeout" env:"RETENTION_TX_TIMEOUT" env-default:"30s"`

	Experiences   PolicyConfig `yaml:"experiences"`
	Users         PolicyConfig `yaml:"users"`
	Prompts       PolicyConfig `yaml:"prompts"`
	Comments      PolicyConfig `yaml:"comments"`
	Reactions     PolicyConfig `yaml:"reactions"`
	PromptRatings PolicyConfig `yaml:"prompt_ratings"`
}

// PolicyConfig is the YAML/env shape of one retention policy. Zero values
// mean "use the product default" for that entity type.
type PolicyConfig struct {
	MaxAgeDays      int  `yaml:"max_age_days"`
	GracePeriodDays int  `yaml:"grace_period_days"`
	BatchSize       int  `yaml:"batch_size"`
	EnableArchiving *bool `yaml:"enable_archiving"`
}

// merge overlays the configured values on a default policy.
func (p PolicyConfig) merge(def models.RetentionPolicy) models.RetentionPolicy {
	out := def
	if p.MaxAgeDays > 0 {
		out.MaxAge = time.Duration(p.MaxAgeDays) * models.Day
	}
	if p.GracePeriodDays > 0 {
		out.GracePeriod = time.Duration(p.GracePeriodDays) * models.Day
	}
	if p.BatchSize > 0 {
		out.BatchSize = p.BatchSize
	}
	if p.EnableArchiving != nil {
		out.EnableArchiving = *p.EnableArchiving
	}
	return out
}

// Policies materializes the retention policy map, overlaying configured
// values on the product defaults.
func (c *RetentionConfig) Policies() map[models.EntityType]models.RetentionPolicy {
	defaults := models.DefaultPolicies()
	return map[models.EntityType]models.RetentionPolicy{
		models.EntityExperience:   c.Experiences.merge(defaults[models.EntityExperience]),
		models.EntityUser:         c.Users.merge(defaults[models.EntityUser]),
		models.EntityPrompt:       c.Prompts.merge(defaults[models.EntityPrompt]),
		models.EntityComment:      c.Comments.merge(defaults[models.EntityComment]),
		models.EntityReaction:     c.Reactions.merge(defaults[models.EntityReaction]),
		models.EntityPromptRating: c.PromptRatings.merge(defaults[models.EntityPromptRating]),
	}
}

// Load reads configuration from config.yaml (when present) with
// environment variable overrides. The version parameter is injected at
// build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat("config.yaml"); err == nil {
		if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
			return nil, fmt.Errorf("failed to read config.yaml: %w", err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment config: %w", err)
		}
	}

	if err := cfg.Archive.Validate(); err != nil {
		return nil, fmt.Errorf("invalid archive configuration: %w", err)
	}
	if cfg.Retention.SweepInterval <= 0 {
		return nil, fmt.Errorf("retention sweep_interval must be positive")
	}

	return cfg, nil
}
