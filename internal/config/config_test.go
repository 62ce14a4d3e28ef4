package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

// ============================================
// Load
// ============================================

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StoreMemory, cfg.StoreType)
	assert.Equal(t, "membership-reminders", cfg.KafkaReminderTopic)
	assert.Equal(t, 3, cfg.RenewalThresholdDays)
	assert.Equal(t, 5*time.Second, cfg.CheckoutRollbackTimeout)
	assert.Equal(t, 15*time.Minute, cfg.CartCacheTTL)
	assert.True(t, cfg.RunMigrations)
	assert.False(t, cfg.KafkaEnabled())
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("STORE_TYPE", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://gym@localhost/gym")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("RENEWAL_THRESHOLD_DAYS", "7")
	t.Setenv("CHECKOUT_ROLLBACK_TIMEOUT", "2s")
	t.Setenv("LOG_DEV", "true")
	t.Setenv("SMTP_PORT", "2525")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StorePostgres, cfg.StoreType)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.True(t, cfg.KafkaEnabled())
	assert.Equal(t, 7, cfg.RenewalThresholdDays)
	assert.Equal(t, 2*time.Second, cfg.CheckoutRollbackTimeout)
	assert.True(t, cfg.LogDev)
	assert.Equal(t, 2525, cfg.SMTPPort)
}

func TestLoad_ReportsEveryBadValue(t *testing.T) {
	t.Setenv("SMTP_PORT", "smtp")
	t.Setenv("CART_CACHE_TTL", "forever")
	t.Setenv("RUN_MIGRATIONS", "maybe")

	_, err := Load()
	require.Error(t, err)

	for _, key := range []string{"SMTP_PORT", "CART_CACHE_TTL", "RUN_MIGRATIONS"} {
		assert.True(t, strings.Contains(err.Error(), key), "missing %s in %v", key, err)
	}
}

// ============================================
// Validate
// ============================================

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load()
	require.NoError(t, err)
	cfg.JWTSecret = testSecret
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(c *Config)
		requireJWT bool
		wantErr    string
	}{
		{
			name:       "defaults",
			mutate:     func(c *Config) {},
			requireJWT: true,
		},
		{
			name:    "postgres without url",
			mutate:  func(c *Config) { c.StoreType = StorePostgres },
			wantErr: "DATABASE_URL",
		},
		{
			name:    "unknown store",
			mutate:  func(c *Config) { c.StoreType = "sqlite" },
			wantErr: "unknown STORE_TYPE",
		},
		{
			name:       "missing secret",
			mutate:     func(c *Config) { c.JWTSecret = "" },
			requireJWT: true,
			wantErr:    "JWT_SECRET is required",
		},
		{
			name:       "short secret",
			mutate:     func(c *Config) { c.JWTSecret = "short" },
			requireJWT: true,
			wantErr:    "at least 32",
		},
		{
			name:   "secret not needed",
			mutate: func(c *Config) { c.JWTSecret = "" },
		},
		{
			name:    "negative threshold",
			mutate:  func(c *Config) { c.RenewalThresholdDays = -1 },
			wantErr: "RENEWAL_THRESHOLD_DAYS",
		},
		{
			name:   "zero threshold",
			mutate: func(c *Config) { c.RenewalThresholdDays = 0 },
		},
		{
			name:    "non-numeric port",
			mutate:  func(c *Config) { c.Port = "http" },
			wantErr: "PORT",
		},
		{
			name:    "zero rollback timeout",
			mutate:  func(c *Config) { c.CheckoutRollbackTimeout = 0 },
			wantErr: "CHECKOUT_ROLLBACK_TIMEOUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)

			err := cfg.Validate(tt.requireJWT)

			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
