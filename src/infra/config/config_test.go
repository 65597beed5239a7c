package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_DATABASE_URL", "postgres://app:pw@localhost:5432/hiremebahamas")
	clearOptionalVars(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.False(t, cfg.Env.IsProduction())
	assert.Equal(t, "postgres://app:pw@localhost:5432/hiremebahamas", cfg.Database.URL)
	assert.Equal(t, 5, cfg.Database.WarmupAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.Database.WarmupBackoff)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadMissingDatabaseURL(t *testing.T) {
	// t.Setenv registers the restore; Unsetenv makes the variable truly absent.
	t.Setenv("APP_DATABASE_URL", "placeholder")
	os.Unsetenv("APP_DATABASE_URL")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadEmptyDatabaseURL(t *testing.T) {
	t.Setenv("APP_DATABASE_URL", "   ")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "APP_DATABASE_URL")
}

func TestLoadEnvironmentTier(t *testing.T) {
	t.Setenv("APP_DATABASE_URL", "postgres://app:pw@localhost:5432/hiremebahamas")

	t.Run("production", func(t *testing.T) {
		t.Setenv("APP_ENV", "production")
		cfg, err := Load()
		require.NoError(t, err)
		assert.True(t, cfg.Env.IsProduction())
	})

	t.Run("case insensitive", func(t *testing.T) {
		t.Setenv("APP_ENV", "PRODUCTION")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, EnvProduction, cfg.Env)
	})

	t.Run("unknown tier rejected", func(t *testing.T) {
		t.Setenv("APP_ENV", "staging")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "staging")
	})
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_DATABASE_URL", "postgres://app:pw@localhost:5432/hiremebahamas")
	t.Setenv("APP_DB_WARMUP_ATTEMPTS", "8")
	t.Setenv("APP_DB_WARMUP_BACKOFF", "2s")
	t.Setenv("APP_LOG_LEVEL", "debug")
	t.Setenv("APP_LOG_FORMAT", "text")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Database.WarmupAttempts)
	assert.Equal(t, 2*time.Second, cfg.Database.WarmupBackoff)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestMustLoadPanicsOnError(t *testing.T) {
	t.Setenv("APP_DATABASE_URL", "placeholder")
	os.Unsetenv("APP_DATABASE_URL")

	assert.Panics(t, func() { MustLoad() })
}

// clearOptionalVars makes defaults deterministic regardless of the host env.
func clearOptionalVars(t *testing.T) {
	t.Helper()
	for _, key := range []string{"APP_ENV", "APP_DB_WARMUP_ATTEMPTS", "APP_DB_WARMUP_BACKOFF", "APP_LOG_LEVEL", "APP_LOG_FORMAT"} {
		t.Setenv(key, "placeholder")
		os.Unsetenv(key)
	}
}
