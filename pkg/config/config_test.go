package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper() {
	viper.Reset()
	cfg = nil
}

func TestLoadDefaults(t *testing.T) {
	resetViper()
	defer resetViper()

	c, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", c.Backend.URL)
	assert.Equal(t, int64(100*1024*1024), c.Cache.MaxBytes)
	assert.Equal(t, time.Hour, c.Cache.BaseTTL)
	assert.Equal(t, 1000, c.Queue.MaxEntries)
	assert.Equal(t, 5, c.Queue.BatchSize)
	assert.Equal(t, 3, c.Retry.MaxRetries)
	assert.Equal(t, time.Second, c.Retry.BaseDelay)
	assert.Equal(t, 100, c.Pipeline.QueueSize)
	assert.Equal(t, 60*time.Second, c.Pipeline.DedupTTL)
	assert.Equal(t, 100, c.Performance.MaxChunks)
	assert.Equal(t, 50*1024, c.Performance.MaxBytes)
	assert.Equal(t, 30*time.Second, c.Performance.MaxDuration)
	assert.Equal(t, 30*time.Second, c.Probe.Interval)
	assert.True(t, c.Streaming)
}

func TestLoadFromFile(t *testing.T) {
	resetViper()
	defer resetViper()

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	content := `
backend:
  url: https://api.example.dev
  timeout: 15s
cache:
  max_bytes: 1048576
queue:
  max_entries: 42
performance:
  max_chunks: 7
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.dev", c.Backend.URL)
	assert.Equal(t, 15*time.Second, c.Backend.Timeout)
	assert.Equal(t, int64(1048576), c.Cache.MaxBytes)
	assert.Equal(t, 42, c.Queue.MaxEntries)
	assert.Equal(t, 7, c.Performance.MaxChunks)
	// Untouched keys keep defaults
	assert.Equal(t, 3, c.Retry.MaxRetries)
}

func TestLoadInvalidDuration(t *testing.T) {
	resetViper()
	defer resetViper()

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retry:\n  base_delay: nonsense\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestEnvOverride(t *testing.T) {
	resetViper()
	defer resetViper()

	t.Setenv("HAPA_BACKEND_URL", "https://env.example.dev")

	c, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.dev", c.Backend.URL)
}

func TestGetPanicsWhenUninitialized(t *testing.T) {
	resetViper()
	defer resetViper()

	assert.Panics(t, func() { Get() })
}
