package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	AppName    = "Trans-Hub"
	AppVersion = "3.0.0"
)

// RetryPolicy bounds the processing policy's retry loop.
type RetryPolicy struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
}

// CacheConfig bounds the in-memory translation cache.
type CacheConfig struct {
	MaxSize int           `mapstructure:"maxsize"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// RateLimiterConfig configures token-bucket admission control before engine
// calls. A zero RefillRate disables the limiter.
type RateLimiterConfig struct {
	RefillRate float64 `mapstructure:"refill_rate"`
	Capacity   int     `mapstructure:"capacity"`
}

// LoggingConfig selects log level and output format.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type Config struct {
	ActiveEngine    string            `mapstructure:"active_engine"`
	DatabaseURL     string            `mapstructure:"database_url"`
	SourceLang      string            `mapstructure:"source_lang"`
	BatchSize       int               `mapstructure:"batch_size"`
	GCRetentionDays int               `mapstructure:"gc_retention_days"`
	WorkerInterval  time.Duration     `mapstructure:"worker_interval"`
	WorkerLangs     []string          `mapstructure:"worker_langs"`
	AuditEnabled    bool              `mapstructure:"audit_enabled"`
	RetryPolicy     RetryPolicy       `mapstructure:"retry_policy"`
	CacheConfig     CacheConfig       `mapstructure:"cache_config"`
	RateLimiter     RateLimiterConfig `mapstructure:"rate_limiter"`
	Logging         LoggingConfig     `mapstructure:"logging"`
}

// Load reads configuration from TH_-prefixed environment variables, with
// double underscores denoting nesting (TH_RETRY_POLICY__MAX_ATTEMPTS).
func Load() (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("th")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "__"))
	v.AutomaticEnv()

	setDefaults(v)

	// AutomaticEnv alone does not surface keys to Unmarshal; defaults above
	// register every key we care about, so BindEnv is implicit.
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("active_engine", "debug")
	v.SetDefault("database_url", "sqlite://./data/transhub.db")
	v.SetDefault("source_lang", "")
	v.SetDefault("batch_size", 50)
	v.SetDefault("gc_retention_days", 30)
	v.SetDefault("worker_interval", time.Minute)
	v.SetDefault("worker_langs", []string{})
	v.SetDefault("audit_enabled", false)
	v.SetDefault("retry_policy.max_attempts", 3)
	v.SetDefault("retry_policy.initial_backoff", time.Second)
	v.SetDefault("retry_policy.max_backoff", 30*time.Second)
	v.SetDefault("cache_config.maxsize", 10000)
	v.SetDefault("cache_config.ttl", time.Hour)
	v.SetDefault("rate_limiter.refill_rate", 0.0)
	v.SetDefault("rate_limiter.capacity", 0)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// Validate checks option ranges and the database URL scheme.
func (c Config) Validate() error {
	if c.ActiveEngine == "" {
		return fmt.Errorf("config: active_engine must not be empty")
	}
	scheme, _, ok := strings.Cut(c.DatabaseURL, "://")
	if !ok {
		return fmt.Errorf("config: database_url %q has no scheme", c.DatabaseURL)
	}
	switch scheme {
	case "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("config: unsupported database scheme %q", scheme)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("config: batch_size must be positive, got %d", c.BatchSize)
	}
	if c.RetryPolicy.MaxAttempts < 1 {
		return fmt.Errorf("config: retry_policy.max_attempts must be at least 1")
	}
	if c.RetryPolicy.InitialBackoff < 0 || c.RetryPolicy.MaxBackoff < 0 {
		return fmt.Errorf("config: retry backoffs must not be negative")
	}
	if c.RetryPolicy.MaxBackoff < c.RetryPolicy.InitialBackoff {
		return fmt.Errorf("config: retry_policy.max_backoff below initial_backoff")
	}
	if c.CacheConfig.MaxSize < 0 || c.CacheConfig.TTL < 0 {
		return fmt.Errorf("config: cache_config values must not be negative")
	}
	if c.RateLimiter.RefillRate < 0 {
		return fmt.Errorf("config: rate_limiter.refill_rate must not be negative")
	}
	if c.RateLimiter.RefillRate > 0 && c.RateLimiter.Capacity <= 0 {
		return fmt.Errorf("config: rate_limiter.capacity required with refill_rate")
	}
	return nil
}
