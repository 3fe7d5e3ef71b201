package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds configuration for the atomsched daemon.
type ServerConfig struct {
	Addr      string `yaml:"addr"`       // listen address (default ":8080")
	LogLevel  string `yaml:"log_level"`  // debug, info, warn, error
	LogFormat string `yaml:"log_format"` // text, json
	TracePath string `yaml:"trace_path"` // SQLite trace database, ":memory:" keeps it in RAM

	JobSlots           int `yaml:"job_slots"`            // hardware job slots
	JobTickMS          int `yaml:"job_tick_ms"`          // scheduling tick in milliseconds
	TimeoutMS          int `yaml:"timeout_ms"`           // execution watchdog in milliseconds
	SemaphoreTimeoutMS int `yaml:"semaphore_timeout_ms"` // soft atom wait watchdog in milliseconds
	DefaultDurationMS  int `yaml:"default_duration_ms"`  // simulated runtime for atoms without a profile
}

// DefaultServerConfig returns sensible defaults. The scheduling knobs match
// the scheduler's own defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Addr:               ":8080",
		LogLevel:           "info",
		LogFormat:          "text",
		TracePath:          ":memory:",
		JobSlots:           2,
		JobTickMS:          100,
		TimeoutMS:          2000,
		SemaphoreTimeoutMS: 5000,
		DefaultDurationMS:  50,
	}
}

// LoadFile reads a YAML config file and overlays it on the defaults, so a
// partial file only overrides what it names.
func LoadFile(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config YAML: %w", err)
	}
	return cfg, nil
}
