package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/car-classifier/internal/domain"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"PORT", "CLASSIFIER_PORT", "CLASSIFIER_DATASET", "CLASSIFIER_MODEL_PATH",
		"CLASSIFIER_BATCH_SIZE", "CLASSIFIER_EPOCHS", "CLASSIFIER_LEARNING_RATE",
		"CLASSIFIER_BACKEND", "CLASSIFIER_LOG_LEVEL", "CLASSIFIER_MODEL_URL",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "dataset", cfg.Dataset)
	assert.Equal(t, "model.born", cfg.Model.Weights)
	assert.Equal(t, "classes.txt", cfg.Model.Classes)
	assert.Equal(t, 16, cfg.Train.BatchSize)
	assert.Equal(t, 5, cfg.Train.Epochs)
	assert.InDelta(t, 1e-4, cfg.Train.LearningRate, 1e-12)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 128, cfg.Server.CacheSize)
	assert.Equal(t, BackendBorn, cfg.Model.Backend)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
dataset: /data/cars
model:
  weights: out/model.born
  url: https://example.com/model.born
train:
  batch_size: 8
  epochs: 2
server:
  shutdown_timeout: 3s
log:
  level: debug
`), 0o644))
	t.Setenv("CLASSIFIER_EPOCHS", "9")
	t.Setenv("CLASSIFIER_BATCH_SIZE", "not-a-number")
	t.Setenv("PORT", "9090")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/data/cars", cfg.Dataset)
	assert.Equal(t, "out/model.born", cfg.Model.Weights)
	assert.Equal(t, "https://example.com/model.born", cfg.Model.URL)
	assert.Equal(t, 8, cfg.Train.BatchSize)
	assert.Equal(t, 9, cfg.Train.Epochs)
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "classes.txt", cfg.Model.Classes)
}

func TestLoadErrors(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, domain.ErrConfiguration)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("train: [1, 2"), 0o644))
	_, err = Load(bad)
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero batch", func(c *Config) { c.Train.BatchSize = 0 }},
		{"negative epochs", func(c *Config) { c.Train.Epochs = -1 }},
		{"zero lr", func(c *Config) { c.Train.LearningRate = 0 }},
		{"unknown backend", func(c *Config) { c.Model.Backend = "tpu" }},
		{"no weights path", func(c *Config) { c.Model.Weights = "" }},
		{"negative cache", func(c *Config) { c.Server.CacheSize = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), domain.ErrConfiguration)
		})
	}
}
