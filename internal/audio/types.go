// Package audio provides the PCM plumbing around the viseme classifier:
// volume metering, fixed-size block framing and WAV sources.
package audio

import (
	"errors"
	"math"
	"sync/atomic"
)

// Common errors
var (
	ErrInvalidFormat     = errors.New("invalid audio format")
	ErrUnsupportedDepth  = errors.New("unsupported bit depth")
	ErrNoSamples         = errors.New("no audio samples")
	ErrInvalidSampleRate = errors.New("invalid sample rate")
)

// DefaultSampleRate is the capture rate the classifier is tuned for.
const DefaultSampleRate = 44100

// Format describes interleaved PCM.
type Format struct {
	SampleRate int `json:"sample_rate"`
	Channels   int `json:"channels"`
}

// AtomicFloat32 is a float32 that can be stored by one goroutine and loaded
// by others without locking.
type AtomicFloat32 struct {
	bits atomic.Uint32
}

// Load atomically loads the value.
func (f *AtomicFloat32) Load() float32 {
	return math.Float32frombits(f.bits.Load())
}

// Store atomically stores v.
func (f *AtomicFloat32) Store(v float32) {
	f.bits.Store(math.Float32bits(v))
}
