package spectral

// Transform runs an in-place iterative radix-2 decimation-in-time FFT over
// the split real/imaginary buffers. It does not allocate.
func (t *Tables) Transform(re, im *[FFTSize]float32) {
	for i := 0; i < FFTSize; i++ {
		j := int(t.bitReverse[i])
		if i < j {
			re[i], re[j] = re[j], re[i]
			im[i], im[j] = im[j], im[i]
		}
	}

	for size := 2; size <= FFTSize; size <<= 1 {
		half := size >> 1
		step := FFTSize / size
		for start := 0; start < FFTSize; start += size {
			for j := 0; j < half; j++ {
				c := t.cos[j*step]
				s := t.sin[j*step]

				u := start + j
				v := u + half

				tr := re[v]*c - im[v]*s
				ti := re[v]*s + im[v]*c

				ur, ui := re[u], im[u]
				re[u] = ur + tr
				im[u] = ui + ti
				re[v] = ur - tr
				im[v] = ui - ti
			}
		}
	}
}
