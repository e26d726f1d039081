// Package spectral provides the fixed-size FFT engine and the spectral
// fingerprint extractor used by the viseme classifier.
package spectral

import "math"

const (
	// FFTSize is the transform length. Every analyzed block has exactly this
	// many samples.
	FFTSize = 512

	// Bins is the size of the half spectrum kept after the transform.
	Bins = FFTSize / 2

	log2Size = 9
)

// Tables holds the precomputed twiddle factors, bit-reversal permutation and
// Hann window for an FFTSize transform. A Tables value is immutable after
// NewTables returns and may be shared read-only between goroutines.
type Tables struct {
	cos        [Bins]float32
	sin        [Bins]float32
	bitReverse [FFTSize]uint16
	window     [FFTSize]float32
}

// NewTables computes the transform tables and the window LUT.
func NewTables() *Tables {
	t := &Tables{}

	for i := 0; i < FFTSize; i++ {
		t.window[i] = float32(0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(FFTSize-1))))
	}

	for i := 0; i < Bins; i++ {
		angle := -2 * math.Pi * float64(i) / FFTSize
		t.cos[i] = float32(math.Cos(angle))
		t.sin[i] = float32(math.Sin(angle))
	}

	for i := 0; i < FFTSize; i++ {
		t.bitReverse[i] = uint16(reverseBits(i, log2Size))
	}

	return t
}

// Window returns the Hann window coefficient at index i.
func (t *Tables) Window(i int) float32 {
	return t.window[i]
}

// BitReverse returns the permuted position of index i.
func (t *Tables) BitReverse(i int) int {
	return int(t.bitReverse[i])
}

// Twiddle returns the cos/sin pair of exp(-2πik/N).
func (t *Tables) Twiddle(k int) (float32, float32) {
	return t.cos[k], t.sin[k]
}

func reverseBits(x, bits int) int {
	var r int
	for i := 0; i < bits; i++ {
		r = (r << 1) | (x & 1)
		x >>= 1
	}
	return r
}
