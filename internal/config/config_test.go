package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerDefaults(t *testing.T) {
	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, "data/warroom.db", cfg.DBPath)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Equal(t, "ALL_REGISTERED", cfg.ReadinessRule)
	assert.True(t, cfg.Metrics)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoadServerOverrides(t *testing.T) {
	t.Setenv("WARROOM_DB_PATH", ":memory:")
	t.Setenv("WARROOM_CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("WARROOM_READINESS_RULE", "TOUCHED_ONLY")
	t.Setenv("WARROOM_LOG_LEVEL", "DEBUG")
	t.Setenv("WARROOM_METRICS", "false")

	cfg, err := LoadServer()
	require.NoError(t, err)
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, "TOUCHED_ONLY", cfg.ReadinessRule)
	assert.False(t, cfg.Metrics)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestLoadServerErrors(t *testing.T) {
	t.Setenv("WARROOM_RATE_BURST", "lots")
	_, err := LoadServer()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")

	t.Setenv("WARROOM_RATE_BURST", "0")
	_, err = LoadServer()
	assert.ErrorContains(t, err, "must be positive")
}

func TestClientDefaults(t *testing.T) {
	t.Setenv("WARROOM_PLAYER_ID", "p1")
	var c Client
	require.NoError(t, ParseEnv(&c))
	assert.Equal(t, "http://localhost:8080", c.APIURL)
	assert.Equal(t, "p1", c.PlayerID)
}
