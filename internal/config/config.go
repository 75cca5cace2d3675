// Package config loads Arke's process configuration from a YAML file
// merged onto built-in defaults. It reads no command-line flags.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Store configures the block-store client (C1).
type Store struct {
	BaseURL       string `yaml:"base_url"`
	ContainerName string `yaml:"container_name"`
}

// Snapshot configures the snapshot builder (C5).
type Snapshot struct {
	IntervalMinutes  int    `yaml:"interval_minutes"`
	LockPath         string `yaml:"lock_path"`
	StaleLockSeconds int    `yaml:"stale_lock_seconds"`
	AllowBigBlock    bool   `yaml:"allow_big_block"`
}

// Export configures the disaster-recovery exporter (C6).
type Export struct {
	OutputDir     string `yaml:"output_dir"`
	IntervalHours int    `yaml:"interval_hours"`
}

// HTTP configures the public API surface (C8).
type HTTP struct {
	ListenAddr   string        `yaml:"listen_addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Retry configures the block-store client's retry budget.
type Retry struct {
	MaxAttempts   int `yaml:"max_attempts"`
	BaseBackoffMS int `yaml:"base_backoff_ms"`
}

// Log configures the global logger.
type Log struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Config is the complete process configuration.
type Config struct {
	Store    Store    `yaml:"store"`
	Snapshot Snapshot `yaml:"snapshot"`
	Export   Export   `yaml:"export"`
	HTTP     HTTP     `yaml:"http"`
	Retry    Retry    `yaml:"retry"`
	Log      Log      `yaml:"log"`
}

// Default returns the configuration's zero-value-safe defaults.
func Default() *Config {
	return &Config{
		Store: Store{
			BaseURL: "http://127.0.0.1:5001",
		},
		Snapshot: Snapshot{
			IntervalMinutes:  60,
			LockPath:         "/tmp/arke-snapshot.lock",
			StaleLockSeconds: 600,
			AllowBigBlock:    true,
		},
		Export: Export{
			OutputDir:     "./arke-exports",
			IntervalHours: 24,
		},
		HTTP: HTTP{
			ListenAddr:   ":8090",
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Minute,
		},
		Retry: Retry{
			MaxAttempts:   5,
			BaseBackoffMS: 200,
		},
		Log: Log{
			Level: "info",
			JSON:  false,
		},
	}
}

// Load reads a YAML config file and merges it onto the defaults. An
// empty path returns the defaults unchanged.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
