package audio

import (
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	resampling "github.com/tphakala/go-audio-resampling"
)

// Clip is mono float PCM in [-1, 1].
type Clip struct {
	Samples    []float32
	SampleRate int
	// Source is the format the clip was decoded from.
	Source Format
}

// Duration returns the clip length in seconds.
func (c *Clip) Duration() float64 {
	if c.SampleRate == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// ReadWAVFile decodes a PCM WAV file into a mono clip at sampleRate.
func ReadWAVFile(path string, sampleRate int) (*Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("could not open file: %w", err)
	}
	defer f.Close()

	clip, err := ReadWAV(f, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return clip, nil
}

// ReadWAV decodes PCM WAV data, downmixes it to mono and resamples it to
// sampleRate when the source rate differs.
func ReadWAV(r io.ReadSeeker, sampleRate int) (*Clip, error) {
	if sampleRate <= 0 {
		return nil, ErrInvalidSampleRate
	}

	decoder := wav.NewDecoder(r)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("%w: not a PCM WAV file", ErrInvalidFormat)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("could not read PCM buffer: %w", err)
	}
	if buf.Format == nil || buf.Format.NumChannels <= 0 || buf.Format.SampleRate <= 0 {
		return nil, ErrInvalidFormat
	}
	if len(buf.Data) == 0 {
		return nil, ErrNoSamples
	}

	mono, err := downmix(buf)
	if err != nil {
		return nil, err
	}

	clip := &Clip{
		Samples:    mono,
		SampleRate: buf.Format.SampleRate,
		Source: Format{
			SampleRate: buf.Format.SampleRate,
			Channels:   buf.Format.NumChannels,
		},
	}

	if clip.SampleRate != sampleRate {
		resampled, err := Resample(clip.Samples, clip.SampleRate, sampleRate)
		if err != nil {
			return nil, err
		}
		clip.Samples = resampled
		clip.SampleRate = sampleRate
	}

	return clip, nil
}

func downmix(buf *goaudio.IntBuffer) ([]float32, error) {
	depth := buf.SourceBitDepth
	var scale, offset float32
	switch depth {
	case 8:
		// 8-bit WAV is unsigned.
		scale, offset = 128, 128
	case 16, 24, 32:
		scale = float32(int64(1) << (depth - 1))
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedDepth, depth)
	}

	channels := buf.Format.NumChannels
	frames := len(buf.Data) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += (float32(buf.Data[i*channels+ch]) - offset) / scale
		}
		out[i] = sum / float32(channels)
	}
	return out, nil
}

// Resample converts mono samples from one rate to another.
func Resample(samples []float32, from, to int) ([]float32, error) {
	if from <= 0 || to <= 0 {
		return nil, ErrInvalidSampleRate
	}
	if from == to {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}

	r, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	input := make([]float64, len(samples))
	for i, s := range samples {
		input[i] = float64(s)
	}

	output, err := r.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}
	tail, err := r.Flush()
	if err != nil {
		return nil, fmt.Errorf("resample flush error: %w", err)
	}
	output = append(output, tail...)

	out := make([]float32, len(output))
	for i, s := range output {
		out[i] = float32(s)
	}
	return out, nil
}
