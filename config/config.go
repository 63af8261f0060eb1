// Package config loads notemill configuration from a YAML file with
// environment-variable overrides for deployment-sensitive values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full notemill configuration.
type Config struct {
	// InboxDir is the watched folder for incoming note files.
	InboxDir string `yaml:"inbox_dir"`
	// DBPath is the SQLite database file.
	DBPath string `yaml:"db_path"`
	// DigestDir receives rendered digest .md files.
	DigestDir string `yaml:"digest_dir"`

	// APIKey authenticates against the language-model API.
	// Overridden by ANTHROPIC_API_KEY. Empty disables LLM-backed steps.
	APIKey string `yaml:"api_key"`
	// Model is the language-model identifier.
	Model string `yaml:"model"`
	// OCREndpoint is the HTTP OCR service URL. Empty disables the OCR tier.
	OCREndpoint string `yaml:"ocr_endpoint"`

	// Workers is the number of concurrent ingestion workers.
	Workers int `yaml:"workers"`
	// ScanIntervalMs is how often the inbox is polled for new files,
	// in milliseconds.
	ScanIntervalMs int64 `yaml:"scan_interval_ms"`
	// WeekStartDay aligns weekly digest windows ("monday" .. "sunday").
	WeekStartDay string `yaml:"week_start_day"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// Defaults fills zero-valued fields with sensible defaults.
func (c *Config) Defaults() {
	if c.InboxDir == "" {
		c.InboxDir = "inbox"
	}
	if c.DBPath == "" {
		c.DBPath = "notemill.db"
	}
	if c.DigestDir == "" {
		c.DigestDir = "digests"
	}
	if c.Model == "" {
		c.Model = "claude-sonnet-4-20250514"
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.ScanIntervalMs <= 0 {
		c.ScanIntervalMs = 30_000
	}
	if c.WeekStartDay == "" {
		c.WeekStartDay = "monday"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Load reads a YAML config file, applies env overrides and defaults.
// A missing file is not an error — defaults apply.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// defaults only
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.APIKey = v
	}
	if v := os.Getenv("NOTEMILL_DB"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("NOTEMILL_INBOX"); v != "" {
		cfg.InboxDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	cfg.Defaults()
	return &cfg, nil
}

// ScanInterval returns the inbox poll interval as a Duration.
func (c *Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalMs) * time.Millisecond
}

// WeekStart maps the configured week-start day name to a time.Weekday.
// Unknown names fall back to Monday.
func (c *Config) WeekStart() time.Weekday {
	switch c.WeekStartDay {
	case "sunday":
		return time.Sunday
	case "tuesday":
		return time.Tuesday
	case "wednesday":
		return time.Wednesday
	case "thursday":
		return time.Thursday
	case "friday":
		return time.Friday
	case "saturday":
		return time.Saturday
	default:
		return time.Monday
	}
}
