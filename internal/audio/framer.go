package audio

import "github.com/normanking/cortexviseme/internal/spectral"

// Framer regroups arbitrary-length PCM into exact spectral.FFTSize blocks.
// Blocks do not overlap. The callback receives a pointer into the framer's
// buffer that is only valid for the duration of the call.
type Framer struct {
	buf   [spectral.FFTSize]float32
	fill  int
	emit  func(block *[spectral.FFTSize]float32)
	count int
}

// NewFramer returns a framer that calls emit for every complete block.
func NewFramer(emit func(block *[spectral.FFTSize]float32)) *Framer {
	return &Framer{emit: emit}
}

// Write appends samples and emits each block completed by them.
func (f *Framer) Write(samples []float32) {
	for len(samples) > 0 {
		n := copy(f.buf[f.fill:], samples)
		f.fill += n
		samples = samples[n:]

		if f.fill == spectral.FFTSize {
			f.emit(&f.buf)
			f.fill = 0
			f.count++
		}
	}
}

// Pending returns the number of buffered samples not yet emitted.
func (f *Framer) Pending() int {
	return f.fill
}

// Blocks returns the number of blocks emitted so far.
func (f *Framer) Blocks() int {
	return f.count
}
