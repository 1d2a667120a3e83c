package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8787", cfg.Addr)
	assert.Equal(t, RealtimePostgres, cfg.RealtimeBackend)
	assert.Equal(t, "table_changes", cfg.RealtimeChannel)
	assert.Equal(t, 5*time.Second, cfg.RealtimeRetry)
	assert.Equal(t, CacheMemory, cfg.CacheBackend)
	assert.Equal(t, 300*time.Second, cfg.CacheTTL)
	assert.Equal(t, 14*24*time.Hour, cfg.CalendarWindow)
	assert.Equal(t, int64(50<<20), cfg.MaxUploadBytes)
	assert.Equal(t, "ad-media", cfg.MinioBucket)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("REALTIME_BACKEND", "Redis")
	t.Setenv("CACHE_TTL_SECONDS", "60")
	t.Setenv("CALENDAR_WINDOW_DAYS", "7")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("MEDIA_MAX_UPLOAD_MB", "5")

	cfg := Load()

	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, RealtimeRedis, cfg.RealtimeBackend)
	assert.Equal(t, time.Minute, cfg.CacheTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.CalendarWindow)
	assert.True(t, cfg.MinioUseSSL)
	assert.Equal(t, int64(5<<20), cfg.MaxUploadBytes)
}

func TestLoadInvalidNumbersFallBack(t *testing.T) {
	t.Setenv("CACHE_TTL_SECONDS", "-3")
	t.Setenv("REALTIME_RETRY_SECONDS", "0")

	cfg := Load()

	assert.Equal(t, 300*time.Second, cfg.CacheTTL)
	assert.Equal(t, 5*time.Second, cfg.RealtimeRetry)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portal.yaml")
	require.NoError(t, os.WriteFile(path, []byte("API_ADDR: \":7000\"\nMINIO_BUCKET: creatives\n"), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.Addr)
	assert.Equal(t, "creatives", cfg.MinioBucket)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
