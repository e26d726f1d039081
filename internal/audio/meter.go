package audio

import "math"

// Meter tracks the microphone level with a peak-hold envelope: a louder
// block raises the level immediately, quieter blocks let it decay.
//
// Process is called from the audio thread; Level, Volume and Talking may be
// called from any goroutine.
type Meter struct {
	config *MeterConfig
	level  AtomicFloat32
}

// MeterConfig holds meter configuration
type MeterConfig struct {
	Decay         float32 `json:"decay"`          // Per-block decay factor, default 0.95
	Gain          float32 `json:"gain"`           // Level to volume multiplier, default 5
	TalkThreshold float32 `json:"talk_threshold"` // Volume above which the avatar talks, default 0.15
}

// DefaultMeterConfig returns sensible defaults
func DefaultMeterConfig() *MeterConfig {
	return &MeterConfig{
		Decay:         0.95,
		Gain:          5,
		TalkThreshold: 0.15,
	}
}

// NewMeter creates a new meter. A non-positive Gain is treated as 1.
func NewMeter(config *MeterConfig) *Meter {
	if config == nil {
		config = DefaultMeterConfig()
	}
	cfg := *config
	if cfg.Gain <= 0 {
		cfg.Gain = 1
	}
	return &Meter{config: &cfg}
}

// Process folds one callback frame of any length into the envelope and
// returns its RMS.
// It does not allocate.
func (m *Meter) Process(samples []float32) float32 {
	rms := RMS(samples)

	level := m.level.Load()
	if rms > level {
		level = rms
	} else {
		level *= m.config.Decay
	}
	m.level.Store(level)

	return rms
}

// Level returns the raw envelope value.
func (m *Meter) Level() float32 {
	return m.level.Load()
}

// Volume returns the envelope scaled by the gain and capped at 1.
func (m *Meter) Volume() float32 {
	v := m.level.Load() * m.config.Gain
	if v > 1 {
		v = 1
	}
	return v
}

// Talking reports whether the volume is above the talk threshold.
func (m *Meter) Talking() bool {
	return m.Volume() > m.config.TalkThreshold
}

// RMS computes the root mean square of samples.
func RMS(samples []float32) float32 {
	if len(samples) == 0 {
		return 0
	}

	var sum float32
	for _, s := range samples {
		sum += s * s
	}
	return float32(math.Sqrt(float64(sum / float32(len(samples)))))
}
