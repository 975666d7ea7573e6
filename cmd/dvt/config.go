package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	DataDir string        `mapstructure:"data_dir"`
	Docker  DockerConfig  `mapstructure:"docker"`
	Log     LogConfig     `mapstructure:"log"`
	Backup  BackupConfig  `mapstructure:"backup"`
	Catalog CatalogConfig `mapstructure:"catalog"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	Host string `mapstructure:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// BackupConfig holds backup defaults.
type BackupConfig struct {
	// OutputDir is where bundles are written unless --output-dir overrides it.
	OutputDir string `mapstructure:"output_dir"`

	// Workers is the number of concurrent volume captures. 1 means sequential.
	Workers int `mapstructure:"workers"`

	// Timeout bounds each transient container run. 0 means no limit.
	Timeout time.Duration `mapstructure:"timeout"`
}

// CatalogConfig holds backup catalog configuration.
type CatalogConfig struct {
	// Enabled determines whether produced bundles are recorded in the catalog.
	Enabled bool `mapstructure:"enabled"`

	// Path is the catalog database file. Derived from DataDir when empty.
	Path string `mapstructure:"path"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("data_dir", "")
	v.SetDefault("docker.host", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("backup.output_dir", "./backups")
	v.SetDefault("backup.workers", 1)
	v.SetDefault("backup.timeout", "10m")
	v.SetDefault("catalog.enabled", true)
	v.SetDefault("catalog.path", "")

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
	v.SetEnvPrefix("DVT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Derive the catalog path from the data directory when not set explicitly.
	if cfg.Catalog.Path == "" {
		dataDir := cfg.DataDir
		if dataDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				dataDir = "."
			} else {
				dataDir = filepath.Join(home, ".dvt")
			}
		}
		cfg.Catalog.Path = filepath.Join(dataDir, "catalog.db")
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format. Logs go
// to stderr so stdout stays clean for command output.
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
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	return slog.New(handler)
}
