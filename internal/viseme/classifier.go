// Package viseme implements the online nearest-centroid viseme classifier:
// a fixed array of trainable slot models, smoothed per-slot confidence and
// the best-slot decision consumed by the avatar.
package viseme

import (
	"errors"
	"fmt"
	"math"

	"github.com/normanking/cortexviseme/internal/spectral"
)

const (
	// SlotCount is the number of trainable slots.
	SlotCount = 10

	// NoSlot disables training.
	NoSlot = -1

	// DefaultSmoothing weights the previous confidence in the one-pole filter.
	DefaultSmoothing = 0.5

	// DefaultThreshold is the confidence BestSlot must exceed.
	DefaultThreshold = 0.3

	renormMinNorm = 1e-4
)

var (
	ErrInit           = errors.New("viseme: invalid classifier options")
	ErrSlotOutOfRange = errors.New("viseme: slot out of range")
)

// Options tunes the classifier. The zero value is not valid; start from
// DefaultOptions.
type Options struct {
	// Smoothing is α in conf = conf·α + raw·(1−α). Higher is slower.
	Smoothing float32
	// Threshold is the confidence BestSlot must exceed.
	Threshold float32
	// ScanFrom and ScanTo bound the slots BestSlot considers, inclusive.
	ScanFrom int
	ScanTo   int
}

// DefaultOptions returns the empirical constants the avatar was tuned with:
// α=0.5, threshold 0.3, and the four viseme slots 1..4.
func DefaultOptions() Options {
	return Options{
		Smoothing: DefaultSmoothing,
		Threshold: DefaultThreshold,
		ScanFrom:  SlotSilence,
		ScanTo:    SlotAA,
	}
}

// Validate reports whether the options can drive a classifier.
func (o Options) Validate() error {
	if o.Smoothing < 0 || o.Smoothing >= 1 || math.IsNaN(float64(o.Smoothing)) {
		return fmt.Errorf("%w: smoothing %v not in [0,1)", ErrInit, o.Smoothing)
	}
	if o.Threshold < 0 || o.Threshold > 1 || math.IsNaN(float64(o.Threshold)) {
		return fmt.Errorf("%w: threshold %v not in [0,1]", ErrInit, o.Threshold)
	}
	if !ValidSlot(o.ScanFrom) || !ValidSlot(o.ScanTo) || o.ScanFrom > o.ScanTo {
		return fmt.Errorf("%w: scan range %d..%d", ErrInit, o.ScanFrom, o.ScanTo)
	}
	return nil
}

// ValidSlot reports whether slot indexes a model.
func ValidSlot(slot int) bool {
	return slot >= 0 && slot < SlotCount
}

// Classifier scores each PCM block against the trained slot models.
//
// A Classifier is owned by one goroutine and has no internal locking.
// Analyze and Train never allocate. Callers that read confidences from a
// second goroutine must synchronize themselves; lipsync.Engine does this
// for the audio-callback/UI split.
type Classifier struct {
	opts      Options
	extractor *spectral.Extractor

	models      Models
	confidences [SlotCount]float32
}

// New builds a classifier with its own transform tables.
func New(opts Options) (*Classifier, error) {
	return NewWithTables(opts, nil)
}

// NewWithTables builds a classifier that shares read-only transform tables.
func NewWithTables(opts Options, tables *spectral.Tables) (*Classifier, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Classifier{
		opts:      opts,
		extractor: spectral.NewExtractor(tables),
	}, nil
}

// Options returns the options the classifier was built with.
func (c *Classifier) Options() Options {
	return c.opts
}

// Analyze fingerprints pcm and updates every slot's smoothed confidence.
// Untrained slots are forced to zero.
func (c *Classifier) Analyze(pcm *[spectral.FFTSize]float32) {
	fp := c.extractor.Extract(pcm)

	alpha := c.opts.Smoothing
	for s := range c.models {
		m := &c.models[s]
		if m.TrainCount == 0 {
			c.confidences[s] = 0
			continue
		}

		raw := 1 - fp.Distance(&m.Bins)
		if raw < 0 {
			raw = 0
		}
		c.confidences[s] = c.confidences[s]*alpha + raw*(1-alpha)
	}
}

// Train folds the fingerprint of the last analyzed block into slot's running
// mean and renormalizes it. An out-of-range slot is a no-op and returns
// ErrSlotOutOfRange.
func (c *Classifier) Train(slot int) error {
	if !ValidSlot(slot) {
		return ErrSlotOutOfRange
	}

	m := &c.models[slot]
	m.TrainCount++

	fp := c.extractor.Last()
	inv := 1 / float32(m.TrainCount)
	for i := range m.Bins {
		m.Bins[i] += (fp[i] - m.Bins[i]) * inv
	}

	if norm := m.Norm(); norm > renormMinNorm {
		for i := range m.Bins {
			m.Bins[i] /= norm
		}
	}
	return nil
}

// ClearSlot resets slot to untrained. An out-of-range slot is a no-op and
// returns ErrSlotOutOfRange.
func (c *Classifier) ClearSlot(slot int) error {
	if !ValidSlot(slot) {
		return ErrSlotOutOfRange
	}
	c.models[slot] = SlotModel{}
	return nil
}

// Confidences returns a copy of the smoothed per-slot scores.
func (c *Classifier) Confidences() [SlotCount]float32 {
	return c.confidences
}

// Confidence returns the smoothed score of one slot, or 0 when out of range.
func (c *Classifier) Confidence(slot int) float32 {
	if !ValidSlot(slot) {
		return 0
	}
	return c.confidences[slot]
}

// BestSlot returns the most confident slot in the configured scan range.
// Ties keep the lowest index. It returns false unless the best score is
// strictly above the threshold.
func (c *Classifier) BestSlot() (int, bool) {
	return PickBest(&c.confidences, c.opts)
}

// PickBest applies the best-slot decision to an arbitrary confidence set.
func PickBest(conf *[SlotCount]float32, opts Options) (int, bool) {
	best := opts.ScanFrom
	top := conf[best]
	for s := opts.ScanFrom + 1; s <= opts.ScanTo; s++ {
		if conf[s] > top {
			top = conf[s]
			best = s
		}
	}
	if top <= opts.Threshold {
		return NoSlot, false
	}
	return best, true
}

// Model returns a copy of one slot model.
func (c *Classifier) Model(slot int) (SlotModel, error) {
	if !ValidSlot(slot) {
		return SlotModel{}, ErrSlotOutOfRange
	}
	return c.models[slot], nil
}

// Models returns a copy of every slot model.
func (c *Classifier) Models() Models {
	return c.models
}

// SetModels replaces every slot model. Confidences are left to re-converge.
func (c *Classifier) SetModels(m *Models) {
	c.models = *m
}
