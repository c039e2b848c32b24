package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, "development", cfg.AppEnv)
	require.Equal(t, 10*time.Second, cfg.DueLockTTL)
	require.Equal(t, "5 0 * * *", cfg.MaterializeCron)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("APP_ADDR", ":9999")
	t.Setenv("DUE_LOCK_WAIT", "1s")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":9999", cfg.AppAddr)
	require.Equal(t, time.Second, cfg.DueLockWait)
	require.True(t, cfg.IsProduction())
}
