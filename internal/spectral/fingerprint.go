package spectral

import "math"

const silenceEnergy = 1e-5

// Fingerprint is the unit-norm magnitude spectrum of one block, or the zero
// vector for a silent block.
type Fingerprint [Bins]float32

// Norm returns the L2 norm of the fingerprint.
func (f *Fingerprint) Norm() float32 {
	var sum float32
	for _, v := range f {
		sum += v * v
	}
	return float32(math.Sqrt(float64(sum)))
}

// Distance returns the Euclidean distance between f and other.
func (f *Fingerprint) Distance(other *[Bins]float32) float32 {
	var sum float32
	for i, v := range f {
		d := v - other[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

// Extractor turns PCM blocks into fingerprints using fixed work buffers.
// It is not safe for concurrent use; the Tables it reads are.
type Extractor struct {
	tables *Tables

	re  [FFTSize]float32
	im  [FFTSize]float32
	mag Fingerprint
}

// NewExtractor returns an extractor backed by tables. A nil tables value
// builds a private set.
func NewExtractor(tables *Tables) *Extractor {
	if tables == nil {
		tables = NewTables()
	}
	return &Extractor{tables: tables}
}

// Tables returns the tables the extractor transforms with.
func (e *Extractor) Tables() *Tables {
	return e.tables
}

// Extract windows and transforms pcm and returns the normalized magnitude
// spectrum. The returned pointer aliases the extractor's buffer and is
// overwritten by the next call. Extract does not allocate.
func (e *Extractor) Extract(pcm *[FFTSize]float32) *Fingerprint {
	for i := 0; i < FFTSize; i++ {
		e.re[i] = pcm[i] * e.tables.window[i]
		e.im[i] = 0
	}

	e.tables.Transform(&e.re, &e.im)

	var energy float32
	for i := 0; i < Bins; i++ {
		r, im := e.re[i], e.im[i]
		m := float32(math.Sqrt(float64(r*r + im*im)))
		e.mag[i] = m
		energy += m * m
	}
	energy = float32(math.Sqrt(float64(energy)))

	if energy > silenceEnergy {
		for i := range e.mag {
			e.mag[i] /= energy
		}
	} else {
		clear(e.mag[:])
	}

	return &e.mag
}

// Last returns the fingerprint computed by the most recent Extract call.
func (e *Extractor) Last() *Fingerprint {
	return &e.mag
}
