package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexviseme/internal/viseme"
)

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, viseme.DefaultOptions(), cfg.ClassifierOptions())
	assert.Equal(t, 512, cfg.Audio.BlockSize)
	assert.Equal(t, 44100, cfg.Audio.SampleRate)
	assert.Equal(t, 16*time.Millisecond, cfg.Monitor.Interval)
	assert.Equal(t, "visemes.bin", filepath.Base(cfg.Model.Path))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"block size", func(c *Config) { c.Audio.BlockSize = 1024 }},
		{"sample rate", func(c *Config) { c.Audio.SampleRate = 0 }},
		{"meter decay", func(c *Config) { c.Audio.MeterDecay = 1 }},
		{"meter gain", func(c *Config) { c.Audio.MeterGain = 0 }},
		{"interval", func(c *Config) { c.Monitor.Interval = 0 }},
		{"smoothing", func(c *Config) { c.Classifier.Smoothing = 1 }},
		{"scan range", func(c *Config) { c.Classifier.ScanFrom, c.Classifier.ScanTo = 4, 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestLoad_ExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cortexviseme.yaml")
	yaml := `
classifier:
  smoothing: 0.25
  threshold: 0.4
model:
  path: /tmp/custom.bin
  watch: false
monitor:
  interval: 40ms
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, cfg.Classifier.Smoothing, 1e-9)
	assert.InDelta(t, 0.4, cfg.Classifier.Threshold, 1e-9)
	assert.Equal(t, 1, cfg.Classifier.ScanFrom)
	assert.Equal(t, "/tmp/custom.bin", cfg.Model.Path)
	assert.False(t, cfg.Model.Watch)
	assert.True(t, cfg.Model.Autoload)
	assert.Equal(t, 40*time.Millisecond, cfg.Monitor.Interval)
}

func TestLoad_InvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("audio:\n  block_size: 256\n"), 0644))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_DefaultLocationCreatesFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".cortexviseme", "visemes.bin"), cfg.Model.Path)
	assert.FileExists(t, filepath.Join(home, ".cortexviseme", "config.yaml"))

	again, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CORTEXVISEME_CLASSIFIER_THRESHOLD", "0.45")
	t.Setenv("CORTEXVISEME_MODEL_PATH", "~/models/v.bin")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.InDelta(t, 0.45, cfg.Classifier.Threshold, 1e-9)
	assert.Equal(t, filepath.Join(os.Getenv("HOME"), "models", "v.bin"), cfg.Model.Path)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.Classifier.ScanTo = 9
	cfg.Monitor.Addr = "127.0.0.1:0"
	cfg.Monitor.Interval = 100 * time.Millisecond

	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestMeterConfig(t *testing.T) {
	mc := DefaultConfig().MeterConfig()
	assert.InDelta(t, 0.95, mc.Decay, 1e-6)
	assert.InDelta(t, 5, mc.Gain, 1e-6)
	assert.InDelta(t, 0.15, mc.TalkThreshold, 1e-6)
}
