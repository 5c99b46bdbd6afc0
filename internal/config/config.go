// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
	"github.com/JakeFAU/madara-crawler/internal/queue"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Headless  HeadlessConfig  `mapstructure:"headless"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Crawler   CrawlerConfig   `mapstructure:"crawler"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Merge     MergeConfig     `mapstructure:"merge"`
	Publish   PublishConfig   `mapstructure:"publish"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port                  int `mapstructure:"port"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features and debug persistence.
type LoggingConfig struct {
	Development  bool   `mapstructure:"development"`
	Level        string `mapstructure:"level"`
	PersistDebug bool   `mapstructure:"persist_debug"`
}

// HTTPConfig configures the page fetcher.
type HTTPConfig struct {
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
	UserAgent      string  `mapstructure:"user_agent"`
	MaxBodyBytes   int     `mapstructure:"max_body_bytes"`
	RespectRobots  bool    `mapstructure:"respect_robots"`
	RatePerSecond  float64 `mapstructure:"rate_per_second"`
	Burst          int     `mapstructure:"burst"`

	// HostRates overrides RatePerSecond for individual hosts.
	HostRates map[string]float64 `mapstructure:"host_rates"`
}

// HeadlessConfig configures the optional rendering fallback.
type HeadlessConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	MaxParallel        int  `mapstructure:"max_parallel"`
	NavTimeoutSec      int  `mapstructure:"nav_timeout_seconds"`
	// PromotionThreshold is the script coverage percentage at which an
	// unthemed page is reported as script heavy.
	PromotionThreshold int  `mapstructure:"promotion_threshold"`
}

// DatabaseConfig selects and tunes the persistence backend.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// StorageConfig selects where downloaded assets go.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	BaseDir string `mapstructure:"base_dir"`
	Bucket  string `mapstructure:"bucket"`
	Prefix  string `mapstructure:"prefix"`
}

// CrawlerConfig holds the politeness and paging defaults.
type CrawlerConfig struct {
	RequestDelaySeconds float64 `mapstructure:"request_delay_seconds"`
	AssetDelayMs        int     `mapstructure:"asset_delay_ms"`
	MaxPages            int     `mapstructure:"max_pages"`
	MaxEmptyPages       int     `mapstructure:"max_empty_pages"`
}

// QueueConfig tunes batch draining and retries.
type QueueConfig struct {
	BatchSize           int    `mapstructure:"batch_size"`
	DefaultPriority     int    `mapstructure:"default_priority"`
	MaxAttempts         int    `mapstructure:"max_attempts"`
	AttemptMode         string `mapstructure:"attempt_mode"`
	RetryBackoffSeconds int    `mapstructure:"retry_backoff_seconds"`
}

// SchedulerConfig drives the periodic loops.
type SchedulerConfig struct {
	Enabled               bool          `mapstructure:"enabled"`
	CheckInterval         time.Duration `mapstructure:"check_interval"`
	QueueInterval         time.Duration `mapstructure:"queue_interval"`
	CheckNewCollections   bool          `mapstructure:"check_new_collections"`
	CheckNewUnits         bool          `mapstructure:"check_new_units"`
	MaxNewCollections     int           `mapstructure:"max_new_collections"`
	MaxCollectionsChecked int           `mapstructure:"max_collections_checked"`
	MaxNewUnits           int           `mapstructure:"max_new_units"`
	RetryFailedEachTick   bool          `mapstructure:"retry_failed_each_tick"`
}

// MergeConfig controls page stitching after download.
type MergeConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Format  string `mapstructure:"format"`
	Quality int    `mapstructure:"quality"`
}

// PublishConfig selects the external publish target.
type PublishConfig struct {
	Backend         string `mapstructure:"backend"`
	ProjectID       string `mapstructure:"project_id"`
	CollectionTopic string `mapstructure:"collection_topic"`
	UnitTopic       string `mapstructure:"unit_topic"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// TracingConfig controls OpenTelemetry export.
type TracingConfig struct {
	ProjectID   string  `mapstructure:"project_id"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MADARA")
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout_seconds", 60)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("logging.persist_debug", false)
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.user_agent", "Mozilla/5.0 (compatible; madara-crawler/1.0)")
	v.SetDefault("http.max_body_bytes", 20<<20)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.rate_per_second", 0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 25)
	v.SetDefault("headless.promotion_threshold", 25)
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "data/madara.db")
	v.SetDefault("database.max_conns", 8)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.max_conn_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("storage.backend", "local")
	v.SetDefault("storage.base_dir", "data/assets")
	v.SetDefault("crawler.request_delay_seconds", 2)
	v.SetDefault("crawler.asset_delay_ms", 500)
	v.SetDefault("crawler.max_pages", 100)
	v.SetDefault("crawler.max_empty_pages", 3)
	v.SetDefault("queue.batch_size", 5)
	v.SetDefault("queue.default_priority", 5)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.attempt_mode", string(queue.AttemptOnDispatch))
	v.SetDefault("queue.retry_backoff_seconds", 0)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.check_interval", 24*time.Hour)
	v.SetDefault("scheduler.queue_interval", 5*time.Minute)
	v.SetDefault("scheduler.check_new_collections", true)
	v.SetDefault("scheduler.check_new_units", true)
	v.SetDefault("scheduler.max_new_collections", 10)
	v.SetDefault("scheduler.max_collections_checked", 10)
	v.SetDefault("scheduler.max_new_units", 5)
	v.SetDefault("scheduler.retry_failed_each_tick", false)
	v.SetDefault("merge.enabled", true)
	v.SetDefault("merge.format", "avif")
	v.SetDefault("merge.quality", 85)
	v.SetDefault("publish.backend", "none")
	v.SetDefault("publish.collection_topic", "madara-collections")
	v.SetDefault("publish.unit_topic", "madara-units")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("tracing.sample_ratio", 0.1)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.RatePerSecond < 0 {
		return fmt.Errorf("http.rate_per_second must be >= 0")
	}
	for host, rps := range c.HTTP.HostRates {
		if rps < 0 {
			return fmt.Errorf("http.host_rates.%s must be >= 0", host)
		}
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Database.Driver {
	case "memory":
	case "sqlite", "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn must be set for driver %q", c.Database.Driver)
		}
	default:
		return fmt.Errorf("database.driver must be memory, sqlite or postgres, got %q", c.Database.Driver)
	}
	switch c.Storage.Backend {
	case "memory":
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for the local backend")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be local, gcs or memory, got %q", c.Storage.Backend)
	}
	switch c.Publish.Backend {
	case "none", "memory":
	case "pubsub":
		if c.Publish.ProjectID == "" {
			return fmt.Errorf("publish.project_id must be set for the pubsub backend")
		}
		if c.Publish.CollectionTopic == "" || c.Publish.UnitTopic == "" {
			return fmt.Errorf("publish.collection_topic and publish.unit_topic must be set for the pubsub backend")
		}
	default:
		return fmt.Errorf("publish.backend must be none, memory or pubsub, got %q", c.Publish.Backend)
	}
	if _, err := queue.ParseAttemptMode(c.Queue.AttemptMode); err != nil {
		return fmt.Errorf("queue.attempt_mode: %w", err)
	}
	if c.Queue.BatchSize <= 0 {
		return fmt.Errorf("queue.batch_size must be > 0")
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue.max_attempts must be > 0")
	}
	if c.Scheduler.Enabled && (c.Scheduler.CheckInterval <= 0 || c.Scheduler.QueueInterval <= 0) {
		return fmt.Errorf("scheduler.check_interval and scheduler.queue_interval must be > 0")
	}
	return nil
}

// Settings converts the runtime-adjustable part of the config into the
// defaults the settings provider overlays.
func (c Config) Settings() crawler.Settings {
	return crawler.Settings{
		RequestDelay:          time.Duration(c.Crawler.RequestDelaySeconds * float64(time.Second)),
		AssetDelay:            time.Duration(c.Crawler.AssetDelayMs) * time.Millisecond,
		MaxPages:              c.Crawler.MaxPages,
		MaxEmptyPages:         c.Crawler.MaxEmptyPages,
		DefaultPriority:       c.Queue.DefaultPriority,
		MaxAttempts:           c.Queue.MaxAttempts,
		BatchSize:             c.Queue.BatchSize,
		CheckInterval:         c.Scheduler.CheckInterval,
		QueueInterval:         c.Scheduler.QueueInterval,
		CheckNewCollections:   c.Scheduler.CheckNewCollections,
		CheckNewUnits:         c.Scheduler.CheckNewUnits,
		MaxNewCollections:     c.Scheduler.MaxNewCollections,
		MaxCollectionsChecked: c.Scheduler.MaxCollectionsChecked,
		MaxNewUnits:           c.Scheduler.MaxNewUnits,
		RetryFailedEachTick:   c.Scheduler.RetryFailedEachTick,
		MergeAssets:           c.Merge.Enabled,
		MergeFormat:           c.Merge.Format,
	}
}

// FetchTimeout converts http.timeout_seconds to a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}
