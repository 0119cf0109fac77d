// Package config loads InkShelf configuration from file, environment and
// defaults.
//
// Precedence, highest first: environment variables (INKSHELF_*), the config
// file (inkshelf.yaml in the data directory or an explicit --config path),
// then built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved application configuration.
type Config struct {
	// DataDir holds the database, cursor file and logs.
	DataDir string `mapstructure:"data_dir"`

	// ServerURL is the base URL of the sync service.
	ServerURL string `mapstructure:"server_url"`

	Sync struct {
		// Interval between automatic sync cycles.
		Interval time.Duration `mapstructure:"interval"`
		// RetryDelay between transport-level retries.
		RetryDelay time.Duration `mapstructure:"retry_delay"`
		// MaxRetries per queued change before it fails permanently.
		MaxRetries int `mapstructure:"max_retries"`
		// QueueMax bounds pending offline changes.
		QueueMax int `mapstructure:"queue_max"`
	} `mapstructure:"sync"`

	Monitor struct {
		// ProbeInterval between connectivity checks.
		ProbeInterval time.Duration `mapstructure:"probe_interval"`
	} `mapstructure:"monitor"`

	Dashboard struct {
		// Port for the local dashboard server.
		Port int `mapstructure:"port"`
	} `mapstructure:"dashboard"`

	Inbox struct {
		// Dir watched for Markdown drops. Empty disables the inbox.
		Dir string `mapstructure:"dir"`
		// Debounce before a dropped file is ingested.
		Debounce time.Duration `mapstructure:"debounce"`
	} `mapstructure:"inbox"`

	Log struct {
		// File receives rotated logs when set; empty logs to stderr only.
		File string `mapstructure:"file"`
		// MaxSizeMB per log file before rotation.
		MaxSizeMB int `mapstructure:"max_size_mb"`
		// MaxBackups of rotated files to keep.
		MaxBackups int `mapstructure:"max_backups"`
	} `mapstructure:"log"`
}

// DefaultDataDir returns ~/.inkshelf, falling back to the working directory
// when the home directory cannot be resolved.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".inkshelf"
	}
	return filepath.Join(home, ".inkshelf")
}

// Load reads configuration. path may be empty; the default locations are
// then searched and missing files are not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("data_dir", DefaultDataDir())
	v.SetDefault("server_url", "https://api.inkshelf.app")
	v.SetDefault("sync.interval", 30*time.Second)
	v.SetDefault("sync.retry_delay", 5*time.Second)
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("sync.queue_max", 100)
	v.SetDefault("monitor.probe_interval", 10*time.Second)
	v.SetDefault("dashboard.port", 7788)
	v.SetDefault("inbox.debounce", 500*time.Millisecond)
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)

	v.SetEnvPrefix("INKSHELF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("inkshelf")
		v.SetConfigType("yaml")
		v.AddConfigPath(DefaultDataDir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		// A missing file in the search path means defaults apply; an
		// explicit --config path must exist.
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Inbox.Dir == "" {
		cfg.Inbox.Dir = filepath.Join(cfg.DataDir, "inbox")
	}

	return &cfg, nil
}

// DatabasePath returns the SQLite file location under the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "inkshelf.db")
}

// CursorPath returns the sync cursor file location.
func (c *Config) CursorPath() string {
	return filepath.Join(c.DataDir, "sync-cursor")
}
