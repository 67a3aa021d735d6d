package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/tom-sapletta-com/coval/internal/shell/overlay"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all daemon configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Log     LogConfig     `mapstructure:"log"`
	Storage StorageConfig `mapstructure:"storage"`
	Paths   PathsConfig   `mapstructure:"paths"`
	Docker  DockerConfig  `mapstructure:"docker"`
	Deploy  DeployConfig  `mapstructure:"deploy"`
	Monitor MonitorConfig `mapstructure:"monitor"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StorageConfig holds deployment store configuration.
type StorageConfig struct {
	Path string `mapstructure:"path"`
}

// PathsConfig holds workspace layout configuration. Iterations live at
// <root>/iterations/<id>, merged build trees at <root>/build/<id> and log
// snapshots at <root>/logs.
type PathsConfig struct {
	Root string `mapstructure:"root"`
}

// DockerConfig holds container engine configuration.
type DockerConfig struct {
	Host    string `mapstructure:"host"` // empty uses the environment default
	Network string `mapstructure:"network"`
}

// DeployConfig holds deployment pipeline configuration.
type DeployConfig struct {
	BasePort     int           `mapstructure:"base_port"`
	MaxPort      int           `mapstructure:"max_port"`
	Strategy     string        `mapstructure:"strategy"`
	HealthWait   time.Duration `mapstructure:"health_wait"`
	StopTimeout  time.Duration `mapstructure:"stop_timeout"`
	BuildTimeout time.Duration `mapstructure:"build_timeout"`
	KeepCount    int           `mapstructure:"keep_count"`
}

// MonitorConfig holds continuous health monitoring configuration.
type MonitorConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	HistorySize int           `mapstructure:"history_size"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 7070)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("storage.path", "coval.db")
	v.SetDefault("paths.root", ".coval")
	v.SetDefault("docker.host", "")
	v.SetDefault("docker.network", "coval-network")
	v.SetDefault("deploy.base_port", 8000)
	v.SetDefault("deploy.max_port", 65535)
	v.SetDefault("deploy.strategy", overlay.StrategyUnion)
	v.SetDefault("deploy.health_wait", "120s")
	v.SetDefault("deploy.stop_timeout", "10s")
	v.SetDefault("deploy.build_timeout", "300s")
	v.SetDefault("deploy.keep_count", 3)
	v.SetDefault("monitor.interval", "10s")
	v.SetDefault("monitor.history_size", 10)

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("COVAL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configuration the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Deploy.BasePort < 1 || c.Deploy.BasePort > 65535 {
		return fmt.Errorf("deploy.base_port %d is out of range", c.Deploy.BasePort)
	}
	if c.Deploy.MaxPort < c.Deploy.BasePort || c.Deploy.MaxPort > 65535 {
		return fmt.Errorf("deploy.max_port %d must be within [deploy.base_port, 65535]", c.Deploy.MaxPort)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format %q is not one of text, json", c.Log.Format)
	}
	switch c.Deploy.Strategy {
	case overlay.StrategyUnion, overlay.StrategyCopy, overlay.StrategySymlink:
	default:
		return fmt.Errorf("deploy.strategy %q is not one of %s, %s, %s",
			c.Deploy.Strategy, overlay.StrategyUnion, overlay.StrategyCopy, overlay.StrategySymlink)
	}
	return nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
