// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// SCREENSHOT_RENDER_DEFAULT_WIDTH.
const EnvPrefix = "SCREENSHOT"

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Render  RenderConfig  `mapstructure:"render"`
	Logging LoggingConfig `mapstructure:"logging"`
	Events  EventsConfig  `mapstructure:"events"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port              int           `mapstructure:"port"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// EngineConfig controls how Chrome is launched.
type EngineConfig struct {
	ExecPath      string        `mapstructure:"exec_path"`
	ExtraFlags    []string      `mapstructure:"extra_flags"`
	LaunchTimeout time.Duration `mapstructure:"launch_timeout"`
}

// RenderConfig holds per-request defaults and limits.
type RenderConfig struct {
	DefaultWidth          int           `mapstructure:"default_width"`
	DefaultHeight         int           `mapstructure:"default_height"`
	NavigationTimeout     time.Duration `mapstructure:"navigation_timeout"`
	CleanupTimeout        time.Duration `mapstructure:"cleanup_timeout"`
	MaxConcurrentSurfaces int64         `mapstructure:"max_concurrent_surfaces"`
}

// LoggingConfig toggles zap development features and the minimum level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// EventsConfig configures the render event hub and its optional sinks.
type EventsConfig struct {
	BufferSize   int                `mapstructure:"buffer_size"`
	MaxBatch     int                `mapstructure:"max_batch"`
	MaxBatchWait time.Duration      `mapstructure:"max_batch_wait"`
	DB           EventsDBConfig     `mapstructure:"db"`
	PubSub       EventsPubSubConfig `mapstructure:"pubsub"`
}

// EventsDBConfig enables the Postgres audit sink when DSN is set.
type EventsDBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// EventsPubSubConfig enables the Pub/Sub sink when both fields are set.
type EventsPubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Enabled reports whether Pub/Sub publishing is configured.
func (c EventsPubSubConfig) Enabled() bool {
	return c.ProjectID != "" && c.Topic != ""
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindAliases(v); err != nil {
		return Config{}, err
	}

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
	v.SetDefault("server.port", 3001)
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("engine.exec_path", "")
	v.SetDefault("engine.extra_flags", []string{})
	v.SetDefault("engine.launch_timeout", 30*time.Second)
	v.SetDefault("render.default_width", 1024)
	v.SetDefault("render.default_height", 600)
	v.SetDefault("render.navigation_timeout", time.Duration(0))
	v.SetDefault("render.cleanup_timeout", time.Second)
	v.SetDefault("render.max_concurrent_surfaces", 0)
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "")
	v.SetDefault("events.buffer_size", 1024)
	v.SetDefault("events.max_batch", 256)
	v.SetDefault("events.max_batch_wait", time.Second)
	v.SetDefault("events.db.dsn", "")
	v.SetDefault("events.db.table", "render_records")
	v.SetDefault("events.db.max_conns", 4)
	v.SetDefault("events.pubsub.project_id", "")
	v.SetDefault("events.pubsub.topic", "")
}

// bindAliases keeps the bare PORT and CHROME_BIN variables working. The
// prefixed names take precedence.
func bindAliases(v *viper.Viper) error {
	aliases := map[string]string{
		"server.port":      "PORT",
		"engine.exec_path": "CHROME_BIN",
	}
	for key, env := range aliases {
		prefixed := EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, prefixed, env); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
	}
	return nil
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}
	if c.Engine.LaunchTimeout <= 0 {
		return fmt.Errorf("engine.launch_timeout must be > 0")
	}
	if c.Render.DefaultWidth <= 0 || c.Render.DefaultHeight <= 0 {
		return fmt.Errorf("render.default_width and render.default_height must be > 0")
	}
	if c.Render.NavigationTimeout < 0 {
		return fmt.Errorf("render.navigation_timeout must be >= 0")
	}
	if c.Render.CleanupTimeout <= 0 {
		return fmt.Errorf("render.cleanup_timeout must be > 0")
	}
	if c.Render.MaxConcurrentSurfaces < 0 {
		return fmt.Errorf("render.max_concurrent_surfaces must be >= 0")
	}
	if c.Events.BufferSize <= 0 {
		return fmt.Errorf("events.buffer_size must be > 0")
	}
	if c.Events.MaxBatch <= 0 {
		return fmt.Errorf("events.max_batch must be > 0")
	}
	if (c.Events.PubSub.ProjectID == "") != (c.Events.PubSub.Topic == "") {
		return fmt.Errorf("events.pubsub.project_id and events.pubsub.topic must be set together")
	}
	return nil
}
