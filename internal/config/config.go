// Package config loads and validates pricewatch configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Storage, renderer and screenshot backends.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
	BackendChromedp = "chromedp"
	BackendStatic   = "static"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendNone     = "none"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Storage     StorageConfig     `mapstructure:"storage"`
	SQLite      SQLiteConfig      `mapstructure:"sqlite"`
	DB          DBConfig          `mapstructure:"db"`
	Renderer    RendererConfig    `mapstructure:"renderer"`
	Sandbox     SandboxConfig     `mapstructure:"sandbox"`
	Monitor     MonitorConfig     `mapstructure:"monitor"`
	Screenshots ScreenshotsConfig `mapstructure:"screenshots"`
	Events      EventsConfig      `mapstructure:"events"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
	// Level overrides the mode's default level (debug, info, warn, error).
	Level string `mapstructure:"level"`
}

// StorageConfig selects the item and routine store.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
}

// SQLiteConfig locates the SQLite database file.
type SQLiteConfig struct {
	Path          string `mapstructure:"path"`
	BusyTimeoutMs int    `mapstructure:"busy_timeout_ms"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	ItemsTable      string        `mapstructure:"items_table"`
	RoutinesTable   string        `mapstructure:"routines_table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	Migrate         bool          `mapstructure:"migrate"`
}

// RendererConfig configures page rendering.
type RendererConfig struct {
	Backend        string        `mapstructure:"backend"`
	MaxParallel    int           `mapstructure:"max_parallel"`
	NavTimeout     time.Duration `mapstructure:"nav_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
	ViewportWidth  int64         `mapstructure:"viewport_width"`
	ViewportHeight int64         `mapstructure:"viewport_height"`
	ExecPath       string        `mapstructure:"exec_path"`
}

// SandboxConfig bounds extraction routine execution.
type SandboxConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	ProgramCacheSize int           `mapstructure:"program_cache_size"`
}

// MonitorConfig controls refresh scheduling.
type MonitorConfig struct {
	// Interval between scheduled bulk refreshes. Zero turns the scheduler off.
	Interval        time.Duration `mapstructure:"interval"`
	BulkConcurrency int           `mapstructure:"bulk_concurrency"`
	// Timezone decides which calendar day an observation belongs to.
	Timezone string `mapstructure:"timezone"`
}

// ScreenshotsConfig selects where page.screenshot artifacts go.
type ScreenshotsConfig struct {
	Backend string `mapstructure:"backend"`
	Prefix  string `mapstructure:"prefix"`
	Local   struct {
		BaseDir string `mapstructure:"base_dir"`
	} `mapstructure:"local"`
	GCS struct {
		Bucket string `mapstructure:"bucket"`
		Prefix string `mapstructure:"prefix"`
	} `mapstructure:"gcs"`
}

// EventsConfig tunes the refresh event hub.
type EventsConfig struct {
	BufferSize     int           `mapstructure:"buffer_size"`
	MaxBatchEvents int           `mapstructure:"max_batch_events"`
	MaxBatchWait   time.Duration `mapstructure:"max_batch_wait"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
	// EmulatorHost points the client at a local emulator when set.
	EmulatorHost string `mapstructure:"emulator_host"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PRICEWATCH")
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
	v.SetDefault("server.request_timeout", 60*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.api_key", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
	v.SetDefault("storage.backend", BackendSQLite)
	v.SetDefault("sqlite.path", "watchlist.db")
	v.SetDefault("sqlite.busy_timeout_ms", 10000)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.items_table", "watchlist")
	v.SetDefault("db.routines_table", "scripts")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.migrate", true)
	v.SetDefault("renderer.backend", BackendChromedp)
	v.SetDefault("renderer.max_parallel", 2)
	v.SetDefault("renderer.nav_timeout", 10*time.Second)
	v.SetDefault("renderer.user_agent", "")
	v.SetDefault("renderer.viewport_width", 1080)
	v.SetDefault("renderer.viewport_height", 1024)
	v.SetDefault("renderer.exec_path", "")
	v.SetDefault("sandbox.timeout", 10*time.Second)
	v.SetDefault("sandbox.program_cache_size", 256)
	v.SetDefault("monitor.interval", time.Duration(0))
	v.SetDefault("monitor.bulk_concurrency", 4)
	v.SetDefault("monitor.timezone", "Local")
	v.SetDefault("screenshots.backend", BackendMemory)
	v.SetDefault("screenshots.prefix", "screenshots")
	v.SetDefault("screenshots.local.base_dir", "screenshots")
	v.SetDefault("screenshots.gcs.bucket", "")
	v.SetDefault("screenshots.gcs.prefix", "")
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.max_batch_events", 100)
	v.SetDefault("events.max_batch_wait", 250*time.Millisecond)
	v.SetDefault("pubsub.enabled", false)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "pricewatch-refreshes")
	v.SetDefault("pubsub.emulator_host", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	switch c.Storage.Backend {
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage.backend must be one of sqlite, postgres, memory; got %q", c.Storage.Backend)
	}
	switch c.Renderer.Backend {
	case BackendChromedp:
		if c.Renderer.MaxParallel <= 0 {
			return fmt.Errorf("renderer.max_parallel must be > 0 for the chromedp backend")
		}
	case BackendStatic:
	default:
		return fmt.Errorf("renderer.backend must be one of chromedp, static; got %q", c.Renderer.Backend)
	}
	if c.Renderer.NavTimeout <= 0 {
		return fmt.Errorf("renderer.nav_timeout must be > 0")
	}
	if c.Sandbox.Timeout <= 0 {
		return fmt.Errorf("sandbox.timeout must be > 0")
	}
	if c.Sandbox.ProgramCacheSize < 0 {
		return fmt.Errorf("sandbox.program_cache_size must be >= 0")
	}
	if c.Monitor.Interval < 0 {
		return fmt.Errorf("monitor.interval must be >= 0")
	}
	if c.Monitor.BulkConcurrency <= 0 {
		return fmt.Errorf("monitor.bulk_concurrency must be > 0")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	switch c.Screenshots.Backend {
	case BackendMemory, BackendNone:
	case BackendLocal:
		if c.Screenshots.Local.BaseDir == "" {
			return fmt.Errorf("screenshots.local.base_dir is required for the local backend")
		}
	case BackendGCS:
		if c.Screenshots.GCS.Bucket == "" {
			return fmt.Errorf("screenshots.gcs.bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("screenshots.backend must be one of memory, local, gcs, none; got %q", c.Screenshots.Backend)
	}
	if c.PubSub.Enabled && (c.PubSub.ProjectID == "" || c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set when pubsub is enabled")
	}
	return nil
}

// Location returns the timezone observations are dated in.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Monitor.Timezone)
	if err != nil {
		return nil, fmt.Errorf("monitor.timezone: %w", err)
	}
	return loc, nil
}
