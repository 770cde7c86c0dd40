package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "rules.yaml", cfg.Rules.Path)
	assert.Equal(t, "evidence", cfg.Evidence.Dir)
	assert.Equal(t, "sqlite", cfg.Evidence.Driver)
	assert.Equal(t, 4, cfg.Runner.Workers)
	assert.Equal(t, 3, cfg.Runner.MaxAttempts)
	assert.Equal(t, 500, cfg.Runner.BackoffMS)
	assert.Equal(t, 30, cfg.HTTP.TimeoutSecs)
	assert.Equal(t, "pdftoppm", cfg.PDF.PdftoppmPath)
	assert.Equal(t, 250, cfg.PDF.DPI)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CASEFILL_RUNNER_WORKERS", "8")
	t.Setenv("CASEFILL_EVIDENCE_DRIVER", "postgres")
	t.Setenv("CASEFILL_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Runner.Workers)
	assert.Equal(t, "postgres", cfg.Evidence.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "nope"}))
}
