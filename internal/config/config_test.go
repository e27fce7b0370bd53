package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	assert.Empty(t, cfg.AuthSecret)
	assert.Empty(t, cfg.ManagerPIN)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("CACHE_TTL_SECONDS", "")
	t.Setenv("BUSINESS_TIMEZONE", "")

	cfg := Load()
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, time.Minute, cfg.CacheTTL())
	assert.Equal(t, 8*time.Hour, cfg.AccessTokenTTL())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, http://b.test,")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("CACHE_TTL_SECONDS", "0")
	t.Setenv("BUSINESS_TIMEZONE", "Asia/Jakarta")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("METRICS_ENABLED", "false")

	cfg := Load()
	assert.Equal(t, ":9090", cfg.Address())
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.Equal(t, 60, cfg.CacheTTLSeconds)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.MetricsEnabled)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Asia/Jakarta", loc.String())
}

func TestLocationRejectsUnknownZone(t *testing.T) {
	_, err := Config{BusinessTimezone: "Mars/Olympus"}.Location()
	assert.Error(t, err)
}
