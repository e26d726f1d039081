// Package config provides configuration management for CortexViseme
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/normanking/cortexviseme/internal/audio"
	"github.com/normanking/cortexviseme/internal/spectral"
	"github.com/normanking/cortexviseme/internal/viseme"
)

const (
	dirName    = ".cortexviseme"
	fileName   = "config"
	envPrefix  = "CORTEXVISEME"
	modelFile  = "visemes.bin"
	configType = "yaml"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all application configuration
type Config struct {
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Audio      AudioConfig      `mapstructure:"audio"`
	Model      ModelConfig      `mapstructure:"model"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Log        LogConfig        `mapstructure:"log"`
}

// ClassifierConfig configures confidence smoothing and the best-slot decision
type ClassifierConfig struct {
	Smoothing float64 `mapstructure:"smoothing"`
	Threshold float64 `mapstructure:"threshold"`
	ScanFrom  int     `mapstructure:"scan_from"`
	ScanTo    int     `mapstructure:"scan_to"`
}

// AudioConfig configures the audio input
type AudioConfig struct {
	SampleRate    int     `mapstructure:"sample_rate"`
	BlockSize     int     `mapstructure:"block_size"`
	TalkThreshold float64 `mapstructure:"talk_threshold"`
	MeterDecay    float64 `mapstructure:"meter_decay"`
	MeterGain     float64 `mapstructure:"meter_gain"`
}

// ModelConfig configures where trained models live
type ModelConfig struct {
	Path     string `mapstructure:"path"`
	Watch    bool   `mapstructure:"watch"`    // Reload when the file changes on disk
	Autoload bool   `mapstructure:"autoload"` // Load at startup if present
}

// MonitorConfig configures the websocket monitor
type MonitorConfig struct {
	Addr     string        `mapstructure:"addr"`
	Interval time.Duration `mapstructure:"interval"`
}

// LogConfig configures logging
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Dir     string `mapstructure:"dir"`
	Console bool   `mapstructure:"console"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	dir, _ := GetConfigDir()
	return &Config{
		Classifier: ClassifierConfig{
			Smoothing: viseme.DefaultSmoothing,
			Threshold: viseme.DefaultThreshold,
			ScanFrom:  viseme.SlotSilence,
			ScanTo:    viseme.SlotAA,
		},
		Audio: AudioConfig{
			SampleRate:    audio.DefaultSampleRate,
			BlockSize:     spectral.FFTSize,
			TalkThreshold: 0.15,
			MeterDecay:    0.95,
			MeterGain:     5,
		},
		Model: ModelConfig{
			Path:     filepath.Join(dir, modelFile),
			Watch:    true,
			Autoload: true,
		},
		Monitor: MonitorConfig{
			Addr:     "127.0.0.1:8765",
			Interval: 16 * time.Millisecond,
		},
		Log: LogConfig{
			Level:   "info",
			Dir:     filepath.Join(dir, "logs"),
			Console: true,
		},
	}
}

// values flattens cfg into dotted viper keys.
func values(cfg *Config) map[string]any {
	return map[string]any{
		"classifier.smoothing": cfg.Classifier.Smoothing,
		"classifier.threshold": cfg.Classifier.Threshold,
		"classifier.scan_from": cfg.Classifier.ScanFrom,
		"classifier.scan_to":   cfg.Classifier.ScanTo,
		"audio.sample_rate":    cfg.Audio.SampleRate,
		"audio.block_size":     cfg.Audio.BlockSize,
		"audio.talk_threshold": cfg.Audio.TalkThreshold,
		"audio.meter_decay":    cfg.Audio.MeterDecay,
		"audio.meter_gain":     cfg.Audio.MeterGain,
		"model.path":           cfg.Model.Path,
		"model.watch":          cfg.Model.Watch,
		"model.autoload":       cfg.Model.Autoload,
		"monitor.addr":         cfg.Monitor.Addr,
		"monitor.interval":     cfg.Monitor.Interval.String(),
		"log.level":            cfg.Log.Level,
		"log.dir":              cfg.Log.Dir,
		"log.console":          cfg.Log.Console,
	}
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, val := range values(DefaultConfig()) {
		v.SetDefault(k, val)
	}

	// Environment variable overrides, e.g. CORTEXVISEME_MODEL_PATH
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads configuration from path, or from ~/.cortexviseme/config.yaml
// when path is empty. A missing default file is created with defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	v := newViper()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		configDir, err := GetConfigDir()
		if err != nil {
			return cfg, err
		}

		v.SetConfigName(fileName)
		v.SetConfigType(configType)
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return cfg, err
			}
			// Config file not found, use defaults and create one
			if err := Save(cfg, ""); err != nil {
				return cfg, err
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config: %w", err)
	}

	cfg.Model.Path = expandHome(cfg.Model.Path)
	cfg.Log.Dir = expandHome(cfg.Log.Dir)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Save writes the configuration to path, or to the default location when
// path is empty.
func Save(cfg *Config, path string) error {
	if path == "" {
		configDir, err := GetConfigDir()
		if err != nil {
			return err
		}
		path = filepath.Join(configDir, fileName+"."+configType)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	v := viper.New()
	for k, val := range values(cfg) {
		v.Set(k, val)
	}
	return v.WriteConfigAs(path)
}

// Validate checks values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Audio.BlockSize != spectral.FFTSize {
		return fmt.Errorf("%w: audio.block_size must be %d, got %d",
			ErrInvalidConfig, spectral.FFTSize, c.Audio.BlockSize)
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("%w: audio.sample_rate must be positive", ErrInvalidConfig)
	}
	if c.Audio.MeterDecay < 0 || c.Audio.MeterDecay >= 1 {
		return fmt.Errorf("%w: audio.meter_decay must be in [0, 1)", ErrInvalidConfig)
	}
	if c.Audio.MeterGain <= 0 {
		return fmt.Errorf("%w: audio.meter_gain must be positive", ErrInvalidConfig)
	}
	if c.Monitor.Interval <= 0 {
		return fmt.Errorf("%w: monitor.interval must be positive", ErrInvalidConfig)
	}
	if err := c.ClassifierOptions().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// ClassifierOptions converts the classifier section to viseme options.
func (c *Config) ClassifierOptions() viseme.Options {
	return viseme.Options{
		Smoothing: float32(c.Classifier.Smoothing),
		Threshold: float32(c.Classifier.Threshold),
		ScanFrom:  c.Classifier.ScanFrom,
		ScanTo:    c.Classifier.ScanTo,
	}
}

// MeterConfig converts the audio section to meter settings.
func (c *Config) MeterConfig() *audio.MeterConfig {
	return &audio.MeterConfig{
		Decay:         float32(c.Audio.MeterDecay),
		Gain:          float32(c.Audio.MeterGain),
		TalkThreshold: float32(c.Audio.TalkThreshold),
	}
}

// GetConfigDir returns the configuration directory path
func GetConfigDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, dirName), nil
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
