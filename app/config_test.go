package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DATABASE_URL", "postgres://localhost/hoa")
	t.Setenv("JWT_SECRET", "secret")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("RATE_LIMIT_BACKEND", "")
	for _, name := range []string{"ACCESS_TOKEN_TTL_MINUTES", "REFRESH_TOKEN_TTL_HOURS", "AUTH_REFRESH_TOKEN_RETENTION_DAYS", "AUTH_CLEANUP_BATCH_SIZE"} {
		t.Setenv(name, "")
	}
	t.Setenv("PLATFORM_ADMIN_EMAILS", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, rateLimitBackendPostgres, cfg.RateLimitBackend)
	assert.Equal(t, 15*time.Minute, cfg.AccessTokenTTL)
	assert.Equal(t, 168*time.Hour, cfg.RefreshTokenTTL)
	assert.Equal(t, 14*24*time.Hour, cfg.RefreshTokenRetention)
	assert.Equal(t, 500, cfg.CleanupBatchSize)
	assert.Empty(t, cfg.PlatformAdminEmails)
}

func TestLoadConfig_RequiresDatabaseAndSecret(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "secret")
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "DATABASE_URL")

	t.Setenv("DATABASE_URL", "postgres://localhost/hoa")
	t.Setenv("JWT_SECRET", "  ")
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "JWT_SECRET")
}

func TestLoadConfig_RateLimitBackend(t *testing.T) {
	setRequiredEnv(t)

	t.Setenv("RATE_LIMIT_BACKEND", "Redis")
	t.Setenv("REDIS_URL", "")
	_, err := LoadConfig()
	assert.ErrorContains(t, err, "REDIS_URL")

	t.Setenv("REDIS_URL", "redis://localhost:6379/0")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, rateLimitBackendRedis, cfg.RateLimitBackend)

	t.Setenv("RATE_LIMIT_BACKEND", "memcached")
	_, err = LoadConfig()
	assert.ErrorContains(t, err, "unsupported")
}

func TestLoadConfig_PlatformAdminEmails(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("PLATFORM_ADMIN_EMAILS", " a@example.com, ,b@example.com ,")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.PlatformAdminEmails)
}

func TestEnvIntOrDefault_IgnoresInvalidValues(t *testing.T) {
	t.Setenv("TEST_INT", "abc")
	assert.Equal(t, 7, envIntOrDefault("TEST_INT", 7))

	t.Setenv("TEST_INT", "-3")
	assert.Equal(t, 7, envIntOrDefault("TEST_INT", 7))

	t.Setenv("TEST_INT", "42")
	assert.Equal(t, 42, envIntOrDefault("TEST_INT", 7))
}

func TestEnvBoolOrDefault(t *testing.T) {
	cases := map[string]bool{
		"1":     true,
		"TRUE":  true,
		"on":    true,
		"0":     false,
		"no":    false,
		"Off":   false,
		"maybe": true,
		"":      true,
	}
	for value, want := range cases {
		t.Setenv("TEST_BOOL", value)
		assert.Equal(t, want, EnvBoolOrDefault("TEST_BOOL", true), value)
	}
}
