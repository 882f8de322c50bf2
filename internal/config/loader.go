package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	envPrefix = "DBND"

	defaultHealthPort = 8589
)

// Loader reads and merges configuration from file, environment, and
// defaults.
type Loader struct {
	v          *viper.Viper
	configFile string
	warnings   []string
}

// LoaderOption is a functional option for configuring a Loader.
type LoaderOption func(*Loader)

// WithConfigFile sets an explicit configuration file path.
func WithConfigFile(configFile string) LoaderOption {
	return func(l *Loader) {
		l.configFile = configFile
	}
}

// Load builds the monitor configuration.
func Load(opts ...LoaderOption) (*Config, error) {
	loader := &Loader{v: viper.New()}
	for _, opt := range opts {
		opt(loader)
	}
	return loader.load()
}

func (l *Loader) load() (*Config, error) {
	l.setDefaults()

	l.v.SetEnvPrefix(envPrefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	if err := l.readConfigFile(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	l.validate(&cfg)
	cfg.Warnings = l.warnings
	return &cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("runner.tickInterval", time.Second)
	l.v.SetDefault("runner.heartbeatInterval", 10*time.Second)
	l.v.SetDefault("runner.refreshInterval", 30*time.Second)
	l.v.SetDefault("runner.stopTimeout", 30*time.Second)
	l.v.SetDefault("runner.unhealthyThreshold", 5)
	l.v.SetDefault("tracking.timeout", 30*time.Second)
	l.v.SetDefault("health.port", defaultHealthPort)
	l.v.SetDefault("log.format", "text")
}

func (l *Loader) readConfigFile() error {
	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
		if err := l.v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", l.configFile, err)
		}
		return nil
	}

	l.v.SetConfigName("monitor")
	l.v.SetConfigType("yaml")
	l.v.AddConfigPath(defaultConfigDir())
	l.v.AddConfigPath(".")
	if err := l.v.ReadInConfig(); err != nil {
		// Env and defaults are a complete configuration on their own.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("failed to read config: %w", err)
		}
	}
	return nil
}

func (l *Loader) validate(cfg *Config) {
	if cfg.Tracking.BaseURL == "" {
		l.warnings = append(l.warnings,
			"tracking.baseUrl is not set; set it or export DBND_TRACKING_BASEURL")
	}
	if cfg.Runner.TickInterval < time.Second {
		l.warnings = append(l.warnings, fmt.Sprintf(
			"runner.tickInterval %s is below 1s, using 1s", cfg.Runner.TickInterval))
		cfg.Runner.TickInterval = time.Second
	}
}

func defaultConfigDir() string {
	if home := os.Getenv("DBND_HOME"); home != "" {
		return home
	}
	dir, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(dir, ".dbnd")
}
