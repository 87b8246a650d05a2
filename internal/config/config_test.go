package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  port: 9090
  request_timeout: 30s
auth:
  enabled: true
  api_key: secret
logging:
  development: false
storage:
  backend: postgres
db:
  dsn: postgres://localhost/pricewatch
  items_table: items
  max_conns: 8
renderer:
  backend: static
  nav_timeout: 5s
  user_agent: pricewatch-test
sandbox:
  timeout: 2s
  program_cache_size: 16
monitor:
  interval: 1h
  bulk_concurrency: 2
  timezone: UTC
screenshots:
  backend: gcs
  gcs:
    bucket: shots
    prefix: prod
pubsub:
  enabled: true
  project_id: demo
  topic_name: refreshes
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 || cfg.Server.RequestTimeout != 30*time.Second {
		t.Fatalf("expected server overrides, got %+v", cfg.Server)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "secret" {
		t.Fatalf("expected auth enabled with secret key")
	}
	if cfg.Logging.Development {
		t.Fatalf("expected development logging off")
	}
	if cfg.Storage.Backend != BackendPostgres || cfg.DB.ItemsTable != "items" || cfg.DB.MaxConns != 8 {
		t.Fatalf("expected postgres overrides, got %+v %+v", cfg.Storage, cfg.DB)
	}
	if cfg.DB.RoutinesTable != "scripts" {
		t.Fatalf("expected default routines table, got %q", cfg.DB.RoutinesTable)
	}
	if cfg.Renderer.Backend != BackendStatic || cfg.Renderer.NavTimeout != 5*time.Second {
		t.Fatalf("expected renderer overrides, got %+v", cfg.Renderer)
	}
	if cfg.Sandbox.Timeout != 2*time.Second || cfg.Sandbox.ProgramCacheSize != 16 {
		t.Fatalf("expected sandbox overrides, got %+v", cfg.Sandbox)
	}
	if cfg.Monitor.Interval != time.Hour || cfg.Monitor.BulkConcurrency != 2 {
		t.Fatalf("expected monitor overrides, got %+v", cfg.Monitor)
	}
	loc, err := cfg.Location()
	if err != nil || loc != time.UTC {
		t.Fatalf("expected UTC location, got %v (%v)", loc, err)
	}
	if cfg.Screenshots.Backend != BackendGCS || cfg.Screenshots.GCS.Bucket != "shots" || cfg.Screenshots.GCS.Prefix != "prod" {
		t.Fatalf("expected screenshot overrides, got %+v", cfg.Screenshots)
	}
	if !cfg.PubSub.Enabled || cfg.PubSub.TopicName != "refreshes" {
		t.Fatalf("expected pubsub overrides, got %+v", cfg.PubSub)
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Storage.Backend != BackendSQLite || cfg.SQLite.Path != "watchlist.db" {
		t.Fatalf("expected sqlite defaults, got %+v %+v", cfg.Storage, cfg.SQLite)
	}
	if cfg.Renderer.Backend != BackendChromedp || cfg.Renderer.MaxParallel != 2 || cfg.Renderer.NavTimeout != 10*time.Second {
		t.Fatalf("expected renderer defaults, got %+v", cfg.Renderer)
	}
	if cfg.Renderer.ViewportWidth != 1080 || cfg.Renderer.ViewportHeight != 1024 {
		t.Fatalf("expected default viewport, got %dx%d", cfg.Renderer.ViewportWidth, cfg.Renderer.ViewportHeight)
	}
	if cfg.Sandbox.Timeout != 10*time.Second || cfg.Sandbox.ProgramCacheSize != 256 {
		t.Fatalf("expected sandbox defaults, got %+v", cfg.Sandbox)
	}
	if cfg.Monitor.Interval != 0 || cfg.Monitor.BulkConcurrency != 4 || cfg.Monitor.Timezone != "Local" {
		t.Fatalf("expected monitor defaults, got %+v", cfg.Monitor)
	}
	if cfg.Screenshots.Backend != BackendMemory {
		t.Fatalf("expected memory screenshots, got %q", cfg.Screenshots.Backend)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil || !strings.Contains(err.Error(), "read config") {
		t.Fatalf("expected read config error, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Server:      ServerConfig{Port: 8080},
		Storage:     StorageConfig{Backend: BackendMemory},
		Renderer:    RendererConfig{Backend: BackendStatic, NavTimeout: time.Second},
		Sandbox:     SandboxConfig{Timeout: time.Second},
		Monitor:     MonitorConfig{BulkConcurrency: 1, Timezone: "UTC"},
		Screenshots: ScreenshotsConfig{Backend: BackendNone},
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected base config to be valid: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "auth missing api key", mutate: func(c *Config) { c.Auth.Enabled = true }, want: "auth.api_key"},
		{name: "unknown storage", mutate: func(c *Config) { c.Storage.Backend = "redis" }, want: "storage.backend"},
		{name: "sqlite missing path", mutate: func(c *Config) { c.Storage.Backend = BackendSQLite }, want: "sqlite.path"},
		{name: "postgres missing dsn", mutate: func(c *Config) { c.Storage.Backend = BackendPostgres }, want: "db.dsn"},
		{name: "unknown renderer", mutate: func(c *Config) { c.Renderer.Backend = "rod" }, want: "renderer.backend"},
		{name: "chromedp missing max parallel", mutate: func(c *Config) { c.Renderer.Backend = BackendChromedp }, want: "renderer.max_parallel"},
		{name: "zero nav timeout", mutate: func(c *Config) { c.Renderer.NavTimeout = 0 }, want: "renderer.nav_timeout"},
		{name: "zero sandbox timeout", mutate: func(c *Config) { c.Sandbox.Timeout = 0 }, want: "sandbox.timeout"},
		{name: "negative cache", mutate: func(c *Config) { c.Sandbox.ProgramCacheSize = -1 }, want: "sandbox.program_cache_size"},
		{name: "negative interval", mutate: func(c *Config) { c.Monitor.Interval = -time.Second }, want: "monitor.interval"},
		{name: "zero bulk concurrency", mutate: func(c *Config) { c.Monitor.BulkConcurrency = 0 }, want: "monitor.bulk_concurrency"},
		{name: "unknown timezone", mutate: func(c *Config) { c.Monitor.Timezone = "Mars/Olympus" }, want: "monitor.timezone"},
		{name: "unknown screenshots", mutate: func(c *Config) { c.Screenshots.Backend = "s3" }, want: "screenshots.backend"},
		{name: "gcs missing bucket", mutate: func(c *Config) { c.Screenshots.Backend = BackendGCS }, want: "screenshots.gcs.bucket"},
		{name: "pubsub missing project", mutate: func(c *Config) { c.PubSub.Enabled = true }, want: "pubsub.project_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
