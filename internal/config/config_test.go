package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "agentops-security", cfg.App.Name)
	assert.Equal(t, "development", cfg.App.Env)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, int64(1<<20), cfg.Server.MaxBodySize)

	assert.True(t, cfg.Security.RateLimit.Enabled)
	assert.False(t, cfg.Security.RateLimit.Distributed)
	assert.Equal(t, 20, cfg.Security.RateLimit.Auth.Max)
	assert.Equal(t, 15*time.Minute, cfg.Security.RateLimit.Auth.Window)

	assert.Equal(t, 5, cfg.Security.BruteForce.MaxAttempts)
	assert.Equal(t, time.Hour, cfg.Security.BruteForce.BlockDuration)

	assert.Equal(t, 32, cfg.Security.CSRF.SecretLength)
	assert.Equal(t, "X-CSRF-Token", cfg.Security.CSRF.HeaderName)
	assert.Contains(t, cfg.Security.CSRF.ExemptPaths, "/health")

	assert.Contains(t, cfg.Security.Sanitizer.SkipFields, "password")
	assert.False(t, cfg.Security.Sanitizer.BlockOnIssue)

	assert.True(t, cfg.Security.Monitor.BlockSuspicious)
	assert.Equal(t, 10, cfg.Security.Monitor.Threshold)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("SERVER_PORT", "9091")
	t.Setenv("RATELIMIT_AUTH_MAX", "7")
	t.Setenv("RATELIMIT_AUTH_WINDOW", "1m")
	t.Setenv("BRUTEFORCE_BLOCK_DURATION", "30m")
	t.Setenv("SANITIZER_SKIP_FIELDS", "password, secret ,api_key")
	t.Setenv("MONITOR_BLOCK_SUSPICIOUS", "false")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9091, cfg.Server.Port)
	assert.Equal(t, 7, cfg.Security.RateLimit.Auth.Max)
	assert.Equal(t, time.Minute, cfg.Security.RateLimit.Auth.Window)
	assert.Equal(t, 30*time.Minute, cfg.Security.BruteForce.BlockDuration)
	assert.Equal(t, []string{"password", "secret", "api_key"}, cfg.Security.Sanitizer.SkipFields)
	assert.False(t, cfg.Security.Monitor.BlockSuspicious)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")
	t.Setenv("BRUTEFORCE_WINDOW", "soon")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 15*time.Minute, cfg.Security.BruteForce.Window)
}

func TestValidateRejectsBadPort(t *testing.T) {
	t.Setenv("SERVER_PORT", "70000")

	_, err := Load()
	assert.Error(t, err)
}

func TestValidateDistributedRequiresRedis(t *testing.T) {
	t.Setenv("RATELIMIT_DISTRIBUTED", "true")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "REDIS_ENABLED")

	t.Setenv("REDIS_ENABLED", "true")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.Security.RateLimit.Distributed)
}

func TestValidateProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_JWT_SECRET")

	t.Setenv("AUTH_JWT_SECRET", "short")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 characters")

	t.Setenv("AUTH_JWT_SECRET", "0123456789abcdef0123456789abcdef")
	_, err = Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CSRF_COOKIE_SECURE")

	t.Setenv("CSRF_COOKIE_SECURE", "true")
	cfg, err := Load()
	require.NoError(t, err)
	assert.True(t, cfg.IsProduction())
}

func TestValidateProductionRejectsWildcardOrigin(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("AUTH_JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv("CSRF_COOKIE_SECURE", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "*")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CORS_ALLOWED_ORIGINS")
}

func TestRedisAddr(t *testing.T) {
	cfg := RedisConfig{Host: "cache.internal", Port: 6380}
	assert.Equal(t, "cache.internal:6380", cfg.RedisAddr())
}
