package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, 1024, cfg.Classifier.HiddenSize)
	assert.Equal(t, 500, cfg.Classifier.MaxEpochs)
	assert.Equal(t, 20, cfg.Classifier.Patience)
	assert.Equal(t, 128, cfg.Classifier.BatchSize)
	assert.InDelta(t, 1e-3, cfg.Classifier.LearnRate, 1e-12)
	assert.Equal(t, 5, cfg.LowShot.Shots)
	assert.Equal(t, 5, cfg.LowShot.Repetitions)
	assert.Equal(t, 64, cfg.Loader.BatchSize)
	assert.Equal(t, 1, cfg.Loader.Workers)
	assert.Equal(t, "csv", cfg.Results.Store)
	assert.Equal(t, "eval_runs", cfg.Results.Postgres.Table)
	assert.Equal(t, "localhost:6379", cfg.Results.Redis.Addr)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PROBE_SEED", "7")
	t.Setenv("PROBE_HIDDEN_SIZE", "256")
	t.Setenv("PROBE_LEARN_RATE", "0.01")
	t.Setenv("PROBE_RESULTS_STORE", "redis")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, int64(7), cfg.Seed)
	assert.Equal(t, 256, cfg.Classifier.HiddenSize)
	assert.InDelta(t, 0.01, cfg.Classifier.LearnRate, 1e-12)
	assert.Equal(t, "redis", cfg.Results.Store)
}

func TestLoad_BadValuesFallBack(t *testing.T) {
	t.Setenv("PROBE_SEED", "not-a-number")
	t.Setenv("PROBE_MAX_EPOCHS", "many")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, int64(42), cfg.Seed)
	assert.Equal(t, 500, cfg.Classifier.MaxEpochs)
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("PROBE_DATA_DIR=/data/audio\nPROBE_SHOTS=10\n"), 0o644))

	// godotenv does not override variables that are already set, so make
	// sure these are absent (t.Setenv registers the restore).
	t.Setenv("PROBE_DATA_DIR", "")
	t.Setenv("PROBE_SHOTS", "")
	os.Unsetenv("PROBE_DATA_DIR")
	os.Unsetenv("PROBE_SHOTS")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/data/audio", cfg.DataDir)
	assert.Equal(t, 10, cfg.LowShot.Shots)
}

func TestLoad_MissingEnvFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}
