// Package config loads engine configuration from a TOML file via
// spf13/viper, with environment-variable overrides, adapted from the
// teacher's internal/config package. The trading/risk/UI/notification
// sections are replaced with the partition root, pool, cache, and
// retry sections this engine actually has; the load-with-template-
// fallback and env-override shapes are kept as-is.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all engine configuration.
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	Pool    PoolConfig    `mapstructure:"pool"`
	Cache   CacheConfig   `mapstructure:"cache"`
	Retry   RetryConfig   `mapstructure:"retry"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// StorageConfig locates the partition tree and its symbol vocabulary.
type StorageConfig struct {
	Root       string   `mapstructure:"root"`
	Vocabulary []string `mapstructure:"vocabulary"`
}

// PoolConfig configures the handle pool (spec.md §4.8).
type PoolConfig struct {
	Size          int           `mapstructure:"size"`
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// CacheConfig configures the query engine's hot caches (spec.md §5).
type CacheConfig struct {
	ChainEntries int           `mapstructure:"chain_entries"`
	ChainTTL     time.Duration `mapstructure:"chain_ttl"`
	BarEntries   int           `mapstructure:"bar_entries"`
	BarTTL       time.Duration `mapstructure:"bar_ttl"`
	SpotEntries  int           `mapstructure:"spot_entries"`
	SpotTTL      time.Duration `mapstructure:"spot_ttl"`
}

// RetryConfig configures the write-path transient-error retry policy
// (spec.md §5: "writes may retry on transient storage busy... up to 5
// attempts").
type RetryConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`
	InitialDelay  time.Duration `mapstructure:"initial_delay"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
}

// LoggingConfig configures obslog.
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Console  bool   `mapstructure:"console"`
	File     bool   `mapstructure:"file"`
	FilePath string `mapstructure:"file_path"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/alphahistory"
	}
	return filepath.Join(home, ".config", "alphahistory")
}

// Default returns the built-in configuration, used when no config.toml
// is present and as the baseline viper defaults are set from.
func Default() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Storage: StorageConfig{
			Root:       filepath.Join(home, ".local", "share", "alphahistory", "data"),
			Vocabulary: []string{"SPX", "XSP", "VIX", "QQQ", "GLD", "USO"},
		},
		Pool: PoolConfig{
			Size:          20,
			IdleTimeout:   30 * time.Minute,
			SweepInterval: 10 * time.Minute,
		},
		Cache: CacheConfig{
			ChainEntries: 256,
			ChainTTL:     15 * time.Minute,
			BarEntries:   256,
			BarTTL:       5 * time.Minute,
			SpotEntries:  512,
			SpotTTL:      time.Minute,
		},
		Retry: RetryConfig{
			MaxAttempts:   5,
			InitialDelay:  100 * time.Millisecond,
			MaxDelay:      5 * time.Second,
			BackoffFactor: 2.0,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Console:  true,
			File:     true,
			FilePath: filepath.Join(DefaultConfigDir(), "logs", "engine.log"),
		},
	}
}

// Load loads configuration from configDir/config.toml, falling back to
// Default() (and writing a template file) when absent.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v, cfg)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if tmplErr := writeTemplateConfig(configDir); tmplErr != nil {
				return nil, fmt.Errorf("writing template config: %w", tmplErr)
			}
		} else {
			return nil, fmt.Errorf("reading config.toml: %w", err)
		}
	} else if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config.toml: %w", err)
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("storage.root", cfg.Storage.Root)
	v.SetDefault("storage.vocabulary", cfg.Storage.Vocabulary)
	v.SetDefault("pool.size", cfg.Pool.Size)
	v.SetDefault("pool.idle_timeout", cfg.Pool.IdleTimeout)
	v.SetDefault("pool.sweep_interval", cfg.Pool.SweepInterval)
	v.SetDefault("cache.chain_entries", cfg.Cache.ChainEntries)
	v.SetDefault("cache.chain_ttl", cfg.Cache.ChainTTL)
	v.SetDefault("cache.bar_entries", cfg.Cache.BarEntries)
	v.SetDefault("cache.bar_ttl", cfg.Cache.BarTTL)
	v.SetDefault("cache.spot_entries", cfg.Cache.SpotEntries)
	v.SetDefault("cache.spot_ttl", cfg.Cache.SpotTTL)
	v.SetDefault("retry.max_attempts", cfg.Retry.MaxAttempts)
	v.SetDefault("retry.initial_delay", cfg.Retry.InitialDelay)
	v.SetDefault("retry.max_delay", cfg.Retry.MaxDelay)
	v.SetDefault("retry.backoff_factor", cfg.Retry.BackoffFactor)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.console", cfg.Logging.Console)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.file_path", cfg.Logging.FilePath)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ALPHAHISTORY_ROOT"); v != "" {
		cfg.Storage.Root = v
	}
	if v := os.Getenv("ALPHAHISTORY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the loaded configuration for internally-consistent
// values.
func (c *Config) Validate() error {
	if c.Storage.Root == "" {
		return fmt.Errorf("storage.root must not be empty")
	}
	if c.Pool.Size <= 0 {
		return fmt.Errorf("pool.size must be positive")
	}
	if c.Retry.MaxAttempts <= 0 || c.Retry.MaxAttempts > 5 {
		return fmt.Errorf("retry.max_attempts must be in [1,5] per spec")
	}
	if c.Retry.BackoffFactor <= 1.0 {
		return fmt.Errorf("retry.backoff_factor must be > 1.0")
	}
	return nil
}
