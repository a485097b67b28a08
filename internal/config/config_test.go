package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"transhub/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	require.Equal(t, "debug", cfg.ActiveEngine)
	require.Equal(t, "sqlite://./data/transhub.db", cfg.DatabaseURL)
	require.Equal(t, 50, cfg.BatchSize)
	require.Equal(t, 30, cfg.GCRetentionDays)
	require.Equal(t, time.Minute, cfg.WorkerInterval)
	require.False(t, cfg.AuditEnabled)
	require.Equal(t, 3, cfg.RetryPolicy.MaxAttempts)
	require.Equal(t, time.Second, cfg.RetryPolicy.InitialBackoff)
	require.Equal(t, 30*time.Second, cfg.RetryPolicy.MaxBackoff)
	require.Equal(t, 10000, cfg.CacheConfig.MaxSize)
	require.Equal(t, time.Hour, cfg.CacheConfig.TTL)
	require.Zero(t, cfg.RateLimiter.RefillRate)
	require.Equal(t, "info", cfg.Logging.Level)
	require.Equal(t, "console", cfg.Logging.Format)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("TH_ACTIVE_ENGINE", "debug")
	t.Setenv("TH_DATABASE_URL", "postgres://app@localhost:5432/transhub")
	t.Setenv("TH_BATCH_SIZE", "10")
	t.Setenv("TH_AUDIT_ENABLED", "true")
	t.Setenv("TH_RETRY_POLICY__MAX_ATTEMPTS", "5")
	t.Setenv("TH_RETRY_POLICY__INITIAL_BACKOFF", "100ms")
	t.Setenv("TH_CACHE_CONFIG__MAXSIZE", "256")
	t.Setenv("TH_RATE_LIMITER__REFILL_RATE", "20")
	t.Setenv("TH_RATE_LIMITER__CAPACITY", "40")
	t.Setenv("TH_LOGGING__LEVEL", "debug")

	cfg, err := config.Load()
	require.NoError(t, err)

	require.Equal(t, "postgres://app@localhost:5432/transhub", cfg.DatabaseURL)
	require.Equal(t, 10, cfg.BatchSize)
	require.True(t, cfg.AuditEnabled)
	require.Equal(t, 5, cfg.RetryPolicy.MaxAttempts)
	require.Equal(t, 100*time.Millisecond, cfg.RetryPolicy.InitialBackoff)
	require.Equal(t, 256, cfg.CacheConfig.MaxSize)
	require.Equal(t, 20.0, cfg.RateLimiter.RefillRate)
	require.Equal(t, 40, cfg.RateLimiter.Capacity)
	require.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_WorkerLangsFromEnv(t *testing.T) {
	t.Setenv("TH_WORKER_LANGS", "fr,de,ja")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, []string{"fr", "de", "ja"}, cfg.WorkerLangs)
}

func TestLoad_RejectsBadDatabaseScheme(t *testing.T) {
	t.Setenv("TH_DATABASE_URL", "mysql://localhost/transhub")

	_, err := config.Load()
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported database scheme")
}

func TestValidate(t *testing.T) {
	base := func() config.Config {
		return config.Config{
			ActiveEngine: "debug",
			DatabaseURL:  "sqlite://:memory:",
			BatchSize:    50,
			RetryPolicy: config.RetryPolicy{
				MaxAttempts:    3,
				InitialBackoff: time.Second,
				MaxBackoff:     30 * time.Second,
			},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{"valid", func(c *config.Config) {}, ""},
		{"empty engine", func(c *config.Config) { c.ActiveEngine = "" }, "active_engine"},
		{"no scheme", func(c *config.Config) { c.DatabaseURL = "transhub.db" }, "no scheme"},
		{"zero batch", func(c *config.Config) { c.BatchSize = 0 }, "batch_size"},
		{"zero attempts", func(c *config.Config) { c.RetryPolicy.MaxAttempts = 0 }, "max_attempts"},
		{"backoff inverted", func(c *config.Config) { c.RetryPolicy.MaxBackoff = time.Millisecond }, "max_backoff"},
		{"rate without capacity", func(c *config.Config) { c.RateLimiter.RefillRate = 5 }, "capacity"},
		{"negative cache ttl", func(c *config.Config) { c.CacheConfig.TTL = -time.Second }, "cache_config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
