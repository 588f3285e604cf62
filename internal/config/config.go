// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pncp-tools/harvester/internal/harvest"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Source   SourceConfig   `mapstructure:"source"`
	Database DatabaseConfig `mapstructure:"database"`
	Harvest  HarvestConfig  `mapstructure:"harvest"`
	Plan     PlanConfig     `mapstructure:"plan"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the status API server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// SourceConfig configures the upstream PNCP client.
type SourceConfig struct {
	BaseURL          string `mapstructure:"base_url"`
	TimeoutSeconds   int    `mapstructure:"timeout_seconds"`
	MaxRetries       int    `mapstructure:"max_retries"`
	BackoffInitialMs int    `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int    `mapstructure:"backoff_max_ms"`
	UserAgent        string `mapstructure:"user_agent"`
}

// DatabaseConfig controls the Postgres connection pool.
type DatabaseConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int32  `mapstructure:"max_conns"`
	MinConns        int32  `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// HarvestConfig governs worker pool and lease behavior.
type HarvestConfig struct {
	Workers         int `mapstructure:"workers"`
	LeaseSeconds    int `mapstructure:"lease_seconds"`
	PageSize        int `mapstructure:"page_size"`
	ClaimBatch      int `mapstructure:"claim_batch"`
	IdleWaitSeconds int `mapstructure:"idle_wait_seconds"`
}

// PlanConfig describes the planning inputs for a run.
type PlanConfig struct {
	Environment   string             `mapstructure:"environment"`
	ConfigVersion string             `mapstructure:"config_version"`
	StartDate     string             `mapstructure:"start_date"`
	EndDate       string             `mapstructure:"end_date"`
	Endpoints     []string           `mapstructure:"endpoints"`
	Modalities    []int              `mapstructure:"modalities"`
	Catalog       []harvest.Endpoint `mapstructure:"catalog"`
}

// PubSubConfig holds metadata for completion event publishing.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if len(cfg.Plan.Catalog) == 0 {
		cfg.Plan.Catalog = harvest.DefaultEndpoints()
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("source.base_url", "https://pncp.gov.br/api/consulta")
	v.SetDefault("source.timeout_seconds", 30)
	v.SetDefault("source.max_retries", 4)
	v.SetDefault("source.backoff_initial_ms", 500)
	v.SetDefault("source.backoff_max_ms", 30000)
	v.SetDefault("source.user_agent", "pncp-harvester/1.0")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.conn_lifetime_minutes", 30)
	v.SetDefault("harvest.workers", 4)
	v.SetDefault("harvest.lease_seconds", 300)
	v.SetDefault("harvest.page_size", 50)
	v.SetDefault("harvest.claim_batch", 16)
	v.SetDefault("harvest.idle_wait_seconds", 5)
	v.SetDefault("plan.environment", "production")
	v.SetDefault("plan.config_version", "v1")
	v.SetDefault("plan.endpoints", []string{"contratacoes-publicacao"})
	v.SetDefault("plan.modalities", []int{6, 8})
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	if c.Source.TimeoutSeconds <= 0 {
		return fmt.Errorf("source.timeout_seconds must be > 0")
	}
	if c.Harvest.Workers <= 0 {
		return fmt.Errorf("harvest.workers must be > 0")
	}
	if c.Harvest.LeaseSeconds <= 0 {
		return fmt.Errorf("harvest.lease_seconds must be > 0")
	}
	if c.Harvest.PageSize <= 0 {
		return fmt.Errorf("harvest.page_size must be > 0")
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// Lease returns the configured claim lease duration.
func (c Config) Lease() time.Duration {
	return time.Duration(c.Harvest.LeaseSeconds) * time.Second
}

// SourceTimeout returns the per-request HTTP timeout.
func (c Config) SourceTimeout() time.Duration {
	return time.Duration(c.Source.TimeoutSeconds) * time.Second
}

// ConnLifetime returns the maximum pooled connection lifetime.
func (c Config) ConnLifetime() time.Duration {
	return time.Duration(c.Database.ConnLifetimeMin) * time.Minute
}

// IdleWait returns the pause between empty claimable batches.
func (c Config) IdleWait() time.Duration {
	return time.Duration(c.Harvest.IdleWaitSeconds) * time.Second
}
