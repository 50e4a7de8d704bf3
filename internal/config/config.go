// Package config loads scrubcache settings from YAML files and SCRUBCACHE_
// environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/raaihank/scrubcache/internal/privacy"
)

// EnvPrefix prefixes every environment override, e.g. SCRUBCACHE_CACHE_TTL.
const EnvPrefix = "SCRUBCACHE"

// Loader reads configuration and can watch the file it came from.
type Loader struct {
	v *viper.Viper
}

// NewLoader prepares a loader. An empty configPath searches the default
// locations for scrubcache.yaml.
func NewLoader(configPath string) (*Loader, error) {
	v := viper.New()
	if err := setDefaults(v, GetDefaults()); err != nil {
		return nil, err
	}

	v.SetConfigName("scrubcache")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/scrubcache/")
	v.AddConfigPath("$HOME/.scrubcache/")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	}
	return &Loader{v: v}, nil
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	loader, err := NewLoader(configPath)
	if err != nil {
		return nil, err
	}
	return loader.Load()
}

// Load reads the file (if any) and returns the validated configuration.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		// A missing file in the search path is fine; defaults apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return l.decode()
}

// ConfigFileUsed returns the file the configuration was read from, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) decode() (*Config, error) {
	config := &Config{}
	if err := l.v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// Watch calls callback with every valid configuration written to the file.
// Invalid edits are logged and ignored.
func (l *Loader) Watch(logger *zap.Logger, callback func(*Config)) {
	if logger == nil {
		logger = zap.NewNop()
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		config, err := l.decode()
		if err != nil {
			logger.Warn("Ignoring configuration change", zap.String("file", e.Name), zap.Error(err))
			return
		}
		logger.Info("Configuration reloaded", zap.String("file", e.Name))
		callback(config)
	})
	l.v.WatchConfig()
}

// setDefaults registers every field of defaults with viper so that
// environment variables can override keys absent from the file.
func setDefaults(v *viper.Viper, defaults *Config) error {
	raw, err := yaml.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}
	var tree map[string]any
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return fmt.Errorf("failed to decode defaults: %w", err)
	}
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for k, val := range node {
			key := prefix + k
			if child, ok := val.(map[string]any); ok {
				walk(key+".", child)
				continue
			}
			v.SetDefault(key, val)
		}
	}
	walk("", tree)
	return nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}
	if config.Server.RateLimit.Enabled && config.Server.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("invalid rate_limit requests_per_minute: %d", config.Server.RateLimit.RequestsPerMinute)
	}

	if config.Cache.TTL <= 0 {
		return fmt.Errorf("invalid cache ttl: %s (must be positive)", config.Cache.TTL)
	}
	if config.Cache.MaxEntries <= 0 {
		return fmt.Errorf("invalid cache max_entries: %d (must be positive)", config.Cache.MaxEntries)
	}
	if config.Cache.MaxPIIBudget < 0 {
		return fmt.Errorf("invalid cache max_pii_budget: %d (must not be negative)", config.Cache.MaxPIIBudget)
	}

	if utf8.RuneCountInString(config.Privacy.MaskChar) != 1 {
		return fmt.Errorf("invalid mask_char: %q (must be a single character)", config.Privacy.MaskChar)
	}
	for _, d := range config.Privacy.Detectors {
		if d == "all" {
			continue
		}
		if _, err := privacy.ParseCategory(d); err != nil {
			return fmt.Errorf("invalid detector: %w", err)
		}
	}

	if config.Batch.WorkerCount <= 0 {
		return fmt.Errorf("invalid batch worker_count: %d", config.Batch.WorkerCount)
	}
	if config.Batch.RateLimit < 0 {
		return fmt.Errorf("invalid batch rate_limit: %g", config.Batch.RateLimit)
	}
	if _, err := privacy.ParseScope(config.Batch.DefaultScope); err != nil {
		return fmt.Errorf("invalid batch default_scope: %w", err)
	}

	if config.Audit.QueueSize < 0 {
		return fmt.Errorf("invalid audit queue_size: %d", config.Audit.QueueSize)
	}
	if config.Audit.WriteTimeout < 0 {
		return fmt.Errorf("invalid audit write_timeout: %s", config.Audit.WriteTimeout)
	}
	if config.Audit.Redis.Enabled && config.Audit.Redis.URL == "" {
		return fmt.Errorf("audit redis sink enabled without url")
	}
	if config.Audit.Postgres.Enabled && config.Audit.Postgres.DatabaseURL == "" {
		return fmt.Errorf("audit postgres sink enabled without database_url")
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// MaskRune returns the configured mask character.
func (p PrivacyConfig) MaskRune() rune {
	r, _ := utf8.DecodeRuneInString(p.MaskChar)
	return r
}
