package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging"`
	Backend     BackendConfig     `mapstructure:"backend"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Retry       RetryConfig       `mapstructure:"retry"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Performance PerformanceConfig `mapstructure:"performance"`
	Probe       ProbeConfig       `mapstructure:"probe"`
	Streaming   bool              `mapstructure:"streaming"`
	CacheDir    string            `mapstructure:"cache_dir"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	LogFile  string `mapstructure:"log_file"`
	Preserve bool   `mapstructure:"preserve"`
	Level    string `mapstructure:"level"`
}

// BackendConfig holds the code-generation backend endpoint configuration.
// Token is opaque and passed through as a bearer credential.
type BackendConfig struct {
	URL        string        `mapstructure:"url"`
	Token      string        `mapstructure:"token"`
	Timeout    time.Duration `mapstructure:"-"`
	TimeoutStr string        `mapstructure:"timeout"`
}

// CacheConfig holds response cache configuration
type CacheConfig struct {
	MaxBytes       int64         `mapstructure:"max_bytes"`
	BaseTTL        time.Duration `mapstructure:"-"`
	BaseTTLStr     string        `mapstructure:"base_ttl"`
	SweepInterval  time.Duration `mapstructure:"-"`
	SweepIntStr    string        `mapstructure:"sweep_interval"`
	PersistEntries bool          `mapstructure:"persist_entries"`
}

// QueueConfig holds offline request queue configuration
type QueueConfig struct {
	MaxEntries int `mapstructure:"max_entries"`
	BatchSize  int `mapstructure:"batch_size"`
}

// RetryConfig holds retry engine configuration
type RetryConfig struct {
	MaxRetries   int           `mapstructure:"max_retries"`
	BaseDelay    time.Duration `mapstructure:"-"`
	BaseDelayStr string        `mapstructure:"base_delay"`
}

// PipelineConfig holds message pipeline configuration
type PipelineConfig struct {
	QueueSize   int           `mapstructure:"queue_size"`
	DedupTTL    time.Duration `mapstructure:"-"`
	DedupTTLStr string        `mapstructure:"dedup_ttl"`
}

// PerformanceConfig holds hard ceilings applied to streaming exchanges.
// All values must be >= 0; zero means "use default".
type PerformanceConfig struct {
	MaxChunks   int           `mapstructure:"max_chunks"`
	MaxBytes    int           `mapstructure:"max_bytes"`
	MaxDuration time.Duration `mapstructure:"-"`
	MaxDurStr   string        `mapstructure:"max_duration"`
}

// ProbeConfig holds connectivity probe configuration
type ProbeConfig struct {
	Interval    time.Duration `mapstructure:"-"`
	IntervalStr string        `mapstructure:"interval"`
}

// Global config instance
var cfg *Config

// Get returns the global config instance
func Get() *Config {
	if cfg == nil {
		panic("config not initialized")
	}
	return cfg
}

// Load loads configuration from file and environment
func Load(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}

		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome == "" {
			xdgConfigHome = filepath.Join(home, ".config")
		}

		viper.AddConfigPath("./.hapa") // Check project directory first
		viper.AddConfigPath(filepath.Join(xdgConfigHome, "hapa"))
		viper.SetConfigType("yaml")
		viper.SetConfigName("settings")
	}

	viper.AutomaticEnv()
	bindEnvironmentVariables()

	// Missing config file is fine, defaults apply
	_ = viper.ReadInConfig()

	cfg = &Config{}
	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := processDurations(cfg); err != nil {
		return nil, fmt.Errorf("failed to process durations: %w", err)
	}

	return cfg, nil
}

// setDefaults sets all default configuration values
func setDefaults() {
	viper.SetDefault("streaming", true)
	viper.SetDefault("cache_dir", "./.hapa/cache")

	// Logging defaults
	viper.SetDefault("logging.log_file", "./.hapa/system.log")
	viper.SetDefault("logging.preserve", false)
	viper.SetDefault("logging.level", "info")

	// Backend defaults
	viper.SetDefault("backend.url", "http://localhost:8000")
	viper.SetDefault("backend.token", "")
	viper.SetDefault("backend.timeout", "90s")

	// Cache defaults
	viper.SetDefault("cache.max_bytes", int64(100*1024*1024))
	viper.SetDefault("cache.base_ttl", "1h")
	viper.SetDefault("cache.sweep_interval", "5m")
	viper.SetDefault("cache.persist_entries", true)

	// Queue defaults
	viper.SetDefault("queue.max_entries", 1000)
	viper.SetDefault("queue.batch_size", 5)

	// Retry defaults
	viper.SetDefault("retry.max_retries", 3)
	viper.SetDefault("retry.base_delay", "1s")

	// Pipeline defaults
	viper.SetDefault("pipeline.queue_size", 100)
	viper.SetDefault("pipeline.dedup_ttl", "60s")

	// Performance ceiling defaults
	viper.SetDefault("performance.max_chunks", 100)
	viper.SetDefault("performance.max_bytes", 50*1024)
	viper.SetDefault("performance.max_duration", "30s")

	// Probe defaults
	viper.SetDefault("probe.interval", "30s")
}

// bindEnvironmentVariables binds specific environment variables to viper keys
func bindEnvironmentVariables() {
	viper.BindEnv("backend.url", "HAPA_BACKEND_URL")
	viper.BindEnv("backend.token", "HAPA_BACKEND_TOKEN")
	viper.BindEnv("logging.log_file", "HAPA_LOG_FILE")
	viper.BindEnv("logging.level", "HAPA_LOG_LEVEL")
	viper.BindEnv("cache_dir", "HAPA_CACHE_DIR")
	viper.BindEnv("cache.max_bytes", "HAPA_CACHE_MAX_BYTES")
	viper.BindEnv("queue.max_entries", "HAPA_QUEUE_MAX_ENTRIES")
	viper.BindEnv("retry.max_retries", "HAPA_RETRY_MAX_RETRIES")
	viper.BindEnv("probe.interval", "HAPA_PROBE_INTERVAL")
	viper.BindEnv("streaming", "HAPA_STREAMING")
}

// processDurations converts string durations to time.Duration
func processDurations(cfg *Config) error {
	parse := func(s string, def time.Duration, name string) (time.Duration, error) {
		if s == "" {
			return def, nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", name, err)
		}
		return d, nil
	}

	var err error
	if cfg.Backend.Timeout, err = parse(cfg.Backend.TimeoutStr, 90*time.Second, "backend.timeout"); err != nil {
		return err
	}
	if cfg.Cache.BaseTTL, err = parse(cfg.Cache.BaseTTLStr, time.Hour, "cache.base_ttl"); err != nil {
		return err
	}
	if cfg.Cache.SweepInterval, err = parse(cfg.Cache.SweepIntStr, 5*time.Minute, "cache.sweep_interval"); err != nil {
		return err
	}
	if cfg.Retry.BaseDelay, err = parse(cfg.Retry.BaseDelayStr, time.Second, "retry.base_delay"); err != nil {
		return err
	}
	if cfg.Pipeline.DedupTTL, err = parse(cfg.Pipeline.DedupTTLStr, 60*time.Second, "pipeline.dedup_ttl"); err != nil {
		return err
	}
	if cfg.Performance.MaxDuration, err = parse(cfg.Performance.MaxDurStr, 30*time.Second, "performance.max_duration"); err != nil {
		return err
	}
	if cfg.Probe.Interval, err = parse(cfg.Probe.IntervalStr, 30*time.Second, "probe.interval"); err != nil {
		return err
	}

	return nil
}

// GetConfigFileUsed returns the path to the config file being used
func GetConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
