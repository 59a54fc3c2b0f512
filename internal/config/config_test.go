package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://127.0.0.1:6379/0")
	t.Setenv("ARENA_JWT_SECRET", "s3cret")
	t.Setenv("ARENA_CLEANUP_GRACE", "45s")
	t.Setenv("ARENA_ALLOWED_ORIGINS", "localhost:3000, example.com")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "redis://127.0.0.1:6379/0", cfg.RedisURL)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
	assert.Equal(t, 45*time.Second, cfg.CleanupGrace)
	assert.Equal(t, 100*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 1000, cfg.DefaultRating)
	assert.Equal(t, []string{"localhost:3000", "example.com"}, cfg.AllowedOrigins)
}

func TestLoadFileThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "arena.yaml")
	body := "addr: \":9090\"\nredis_url: redis://file:6379/1\njwt_secret: from-file\ndefault_rating: 1200\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	t.Setenv("ARENA_ADDR", ":7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Addr)
	assert.Equal(t, "redis://file:6379/1", cfg.RedisURL)
	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, 1200, cfg.DefaultRating)
}

func TestLoadRequiresSecrets(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://127.0.0.1:6379/0")
	_, err := Load("")
	require.Error(t, err)
}

func TestWriteDefaultRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "arena.yaml")
	require.NoError(t, WriteDefault(path))
	t.Setenv("ARENA_REDIS_URL", "redis://127.0.0.1:6379/0")
	t.Setenv("ARENA_JWT_SECRET", "x")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, Default().CleanupGrace, cfg.CleanupGrace)
	assert.Equal(t, Default().WSPingInterval, cfg.WSPingInterval)
}
