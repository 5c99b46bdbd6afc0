package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JakeFAU/madara-crawler/internal/crawler"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Storage.Backend != "local" {
		t.Fatalf("unexpected backends: %s/%s", cfg.Database.Driver, cfg.Storage.Backend)
	}
	if got := cfg.Settings(); got != crawler.DefaultSettings() {
		t.Fatalf("default settings mismatch:\n got %+v\nwant %+v", got, crawler.DefaultSettings())
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
auth:
  enabled: true
  api_key: secret
http:
  timeout_seconds: 45
  user_agent: test-agent
  rate_per_second: 0.5
database:
  driver: postgres
  dsn: postgres://madara@localhost/madara
storage:
  backend: gcs
  bucket: manga-assets
crawler:
  request_delay_seconds: 1.5
  asset_delay_ms: 250
queue:
  attempt_mode: failure
  batch_size: 12
scheduler:
  check_interval: 6h
  queue_interval: 90s
merge:
  format: png
publish:
  backend: pubsub
  project_id: demo
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Fatalf("expected port 9090, got %d", cfg.Server.Port)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Database.Driver != "postgres" || cfg.Storage.Bucket != "manga-assets" {
		t.Fatalf("expected backend overrides to apply: %+v %+v", cfg.Database, cfg.Storage)
	}
	if got := cfg.FetchTimeout(); got != 45*time.Second {
		t.Fatalf("expected fetch timeout 45s, got %v", got)
	}
	if cfg.Publish.UnitTopic != "madara-units" {
		t.Fatalf("expected default unit topic, got %q", cfg.Publish.UnitTopic)
	}

	s := cfg.Settings()
	if s.RequestDelay != 1500*time.Millisecond || s.AssetDelay != 250*time.Millisecond {
		t.Fatalf("unexpected delays: %v %v", s.RequestDelay, s.AssetDelay)
	}
	if s.BatchSize != 12 || s.CheckInterval != 6*time.Hour || s.QueueInterval != 90*time.Second {
		t.Fatalf("unexpected queue settings: %+v", s)
	}
	if s.MergeFormat != "png" {
		t.Fatalf("expected png merge format, got %q", s.MergeFormat)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:    ServerConfig{Port: 8080},
		HTTP:      HTTPConfig{TimeoutSeconds: 10},
		Database:  DatabaseConfig{Driver: "memory"},
		Storage:   StorageConfig{Backend: "memory"},
		Publish:   PublishConfig{Backend: "none"},
		Queue:     QueueConfig{BatchSize: 5, MaxAttempts: 3},
		Scheduler: SchedulerConfig{Enabled: true, CheckInterval: time.Hour, QueueInterval: time.Minute},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("base config should validate: %v", err)
	}

	tests := []struct {
		name string
		mut  func(*Config)
		want string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"invalid timeout", func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, "http.timeout_seconds"},
		{"headless missing max parallel", func(c *Config) { c.Headless.Enabled = true }, "headless.max_parallel"},
		{"auth missing api key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"sqlite without dsn", func(c *Config) { c.Database.Driver = "sqlite" }, "database.dsn"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = "gcs" }, "storage.bucket"},
		{"local without dir", func(c *Config) { c.Storage.Backend = "local" }, "storage.base_dir"},
		{"pubsub without project", func(c *Config) { c.Publish.Backend = "pubsub" }, "publish.project_id"},
		{"unknown publisher", func(c *Config) { c.Publish.Backend = "kafka" }, "publish.backend"},
		{"attempt mode", func(c *Config) { c.Queue.AttemptMode = "sometimes" }, "queue.attempt_mode"},
		{"batch size", func(c *Config) { c.Queue.BatchSize = 0 }, "queue.batch_size"},
		{"scheduler intervals", func(c *Config) { c.Scheduler.QueueInterval = 0 }, "scheduler.check_interval"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mut(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
