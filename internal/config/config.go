// Package config loads the monitor process configuration from file,
// environment, and defaults.
package config

import (
	"time"
)

// Config is the full monitor process configuration.
type Config struct {
	Tracking TrackingConfig `mapstructure:"tracking"`
	Runner   RunnerConfig   `mapstructure:"runner"`
	Health   HealthConfig   `mapstructure:"health"`
	Log      LogConfig      `mapstructure:"log"`

	// Warnings collected while loading, logged once at startup.
	Warnings []string `mapstructure:"-"`
}

// TrackingConfig points the monitor at its tracking backend.
type TrackingConfig struct {
	BaseURL  string        `mapstructure:"baseUrl"`
	APIToken string        `mapstructure:"apiToken"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// RunnerConfig tunes the multi-source scheduling loop.
type RunnerConfig struct {
	TickInterval       time.Duration `mapstructure:"tickInterval"`
	HeartbeatInterval  time.Duration `mapstructure:"heartbeatInterval"`
	RefreshInterval    time.Duration `mapstructure:"refreshInterval"`
	StopTimeout        time.Duration `mapstructure:"stopTimeout"`
	UnhealthyThreshold int           `mapstructure:"unhealthyThreshold"`
}

// HealthConfig configures the health and metrics HTTP server.
type HealthConfig struct {
	Port int `mapstructure:"port"`
}

// LogConfig configures process logging.
type LogConfig struct {
	Format string `mapstructure:"format"`
	Debug  bool   `mapstructure:"debug"`
	Quiet  bool   `mapstructure:"quiet"`
}
