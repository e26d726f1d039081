package viseme

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/cortexviseme/internal/spectral"
)

func newTestClassifier(t *testing.T) *Classifier {
	t.Helper()
	c, err := New(DefaultOptions())
	require.NoError(t, err)
	return c
}

func toneBlock(bin float64) *[spectral.FFTSize]float32 {
	var pcm [spectral.FFTSize]float32
	for i := range pcm {
		pcm[i] = 0.5 * float32(math.Sin(2*math.Pi*bin*float64(i)/spectral.FFTSize))
	}
	return &pcm
}

func noiseBlock(seed int64) *[spectral.FFTSize]float32 {
	rng := rand.New(rand.NewSource(seed))
	var pcm [spectral.FFTSize]float32
	for i := range pcm {
		pcm[i] = rng.Float32()*2 - 1
	}
	return &pcm
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Options)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Options) {}},
		{name: "instant smoothing", mutate: func(o *Options) { o.Smoothing = 0 }},
		{name: "smoothing one", mutate: func(o *Options) { o.Smoothing = 1 }, wantErr: true},
		{name: "negative smoothing", mutate: func(o *Options) { o.Smoothing = -0.1 }, wantErr: true},
		{name: "threshold above one", mutate: func(o *Options) { o.Threshold = 1.5 }, wantErr: true},
		{name: "full scan", mutate: func(o *Options) { o.ScanFrom, o.ScanTo = 0, SlotCount-1 }},
		{name: "inverted scan", mutate: func(o *Options) { o.ScanFrom, o.ScanTo = 4, 1 }, wantErr: true},
		{name: "scan past end", mutate: func(o *Options) { o.ScanTo = SlotCount }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(&opts)

			_, err := New(opts)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInit)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAnalyze_UntrainedSlotsStayZero(t *testing.T) {
	c := newTestClassifier(t)

	for i := 0; i < 5; i++ {
		c.Analyze(noiseBlock(int64(i)))
	}

	for s, v := range c.Confidences() {
		assert.Equal(t, float32(0), v, "slot %d", s)
	}
	_, ok := c.BestSlot()
	assert.False(t, ok)
}

func TestTrain_Convergence(t *testing.T) {
	c := newTestClassifier(t)
	x := toneBlock(24)

	prev := float32(0)
	for i := 0; i < 25; i++ {
		c.Analyze(x)
		conf := c.Confidence(SlotOU)
		assert.GreaterOrEqual(t, conf, prev-1e-6, "iteration %d", i)
		prev = conf
		require.NoError(t, c.Train(SlotOU))
	}

	c.Analyze(x)
	assert.InDelta(t, 1.0, c.Confidence(SlotOU), 1e-3)

	best, ok := c.BestSlot()
	require.True(t, ok)
	assert.Equal(t, SlotOU, best)

	m, err := c.Model(SlotOU)
	require.NoError(t, err)
	assert.Equal(t, uint32(25), m.TrainCount)
	assert.InDelta(t, 1.0, m.Norm(), 1e-4)
}

func TestTrain_DiscriminatesSlots(t *testing.T) {
	c := newTestClassifier(t)
	low, high := toneBlock(8), toneBlock(90)

	for i := 0; i < 20; i++ {
		c.Analyze(low)
		require.NoError(t, c.Train(SlotCH))
		c.Analyze(high)
		require.NoError(t, c.Train(SlotAA))
	}

	for i := 0; i < 10; i++ {
		c.Analyze(high)
	}
	best, ok := c.BestSlot()
	require.True(t, ok)
	assert.Equal(t, SlotAA, best)
	assert.Less(t, c.Confidence(SlotCH), c.Confidence(SlotAA))

	for i := 0; i < 10; i++ {
		c.Analyze(low)
	}
	best, ok = c.BestSlot()
	require.True(t, ok)
	assert.Equal(t, SlotCH, best)
}

func TestTrain_SlotIndependence(t *testing.T) {
	c := newTestClassifier(t)

	c.Analyze(toneBlock(40))
	require.NoError(t, c.Train(SlotCH))
	before := c.Models()

	for i := 0; i < 5; i++ {
		c.Analyze(noiseBlock(int64(i)))
		require.NoError(t, c.Train(SlotAA))
	}

	after := c.Models()
	for s := range after {
		if s == SlotAA {
			continue
		}
		assert.Equal(t, before[s], after[s], "slot %d changed", s)
	}
	assert.Equal(t, uint32(5), after[SlotAA].TrainCount)
}

func TestTrain_SilenceKeepsZeroModel(t *testing.T) {
	c := newTestClassifier(t)
	var silent [spectral.FFTSize]float32

	c.Analyze(&silent)
	require.NoError(t, c.Train(SlotSilence))

	m, err := c.Model(SlotSilence)
	require.NoError(t, err)
	assert.True(t, m.Trained())
	assert.Equal(t, float32(0), m.Norm())

	c.Analyze(&silent)
	assert.InDelta(t, 0.5, c.Confidence(SlotSilence), 1e-6)
}

func TestBoundsAreNoOps(t *testing.T) {
	c := newTestClassifier(t)
	c.Analyze(toneBlock(16))
	require.NoError(t, c.Train(SlotCH))
	before := c.Models()

	for _, slot := range []int{-1, SlotCount, 1 << 20} {
		assert.ErrorIs(t, c.Train(slot), ErrSlotOutOfRange)
		assert.ErrorIs(t, c.ClearSlot(slot), ErrSlotOutOfRange)
		_, err := c.Model(slot)
		assert.ErrorIs(t, err, ErrSlotOutOfRange)
		assert.Equal(t, float32(0), c.Confidence(slot))
	}

	assert.Equal(t, before, c.Models())
}

func TestClearSlot(t *testing.T) {
	c := newTestClassifier(t)
	x := toneBlock(30)
	for i := 0; i < 3; i++ {
		c.Analyze(x)
		require.NoError(t, c.Train(SlotAA))
	}
	c.Analyze(x)
	require.Greater(t, c.Confidence(SlotAA), float32(0))

	require.NoError(t, c.ClearSlot(SlotAA))

	m, err := c.Model(SlotAA)
	require.NoError(t, err)
	assert.Equal(t, SlotModel{}, m)

	c.Analyze(x)
	assert.Equal(t, float32(0), c.Confidence(SlotAA))
}

func TestPickBest(t *testing.T) {
	opts := DefaultOptions()

	tests := []struct {
		name     string
		conf     map[int]float32
		wantSlot int
		wantOK   bool
	}{
		{name: "all zero", conf: nil, wantSlot: NoSlot},
		{name: "exactly threshold", conf: map[int]float32{SlotCH: 0.3}, wantSlot: NoSlot},
		{name: "just above threshold", conf: map[int]float32{SlotCH: 0.30001}, wantSlot: SlotCH, wantOK: true},
		{name: "tie keeps lowest", conf: map[int]float32{SlotSilence: 0.8, SlotOU: 0.8}, wantSlot: SlotSilence, wantOK: true},
		{name: "highest wins", conf: map[int]float32{SlotSilence: 0.4, SlotAA: 0.9}, wantSlot: SlotAA, wantOK: true},
		{name: "outside range ignored", conf: map[int]float32{0: 0.99, 5: 0.99, SlotCH: 0.2}, wantSlot: NoSlot},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var conf [SlotCount]float32
			for s, v := range tt.conf {
				conf[s] = v
			}
			slot, ok := PickBest(&conf, opts)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantSlot, slot)
		})
	}
}

func TestPickBest_CustomRange(t *testing.T) {
	opts := DefaultOptions()
	opts.ScanFrom, opts.ScanTo = 5, 9
	opts.Threshold = 0.1

	var conf [SlotCount]float32
	conf[SlotAA] = 0.9
	conf[7] = 0.2

	slot, ok := PickBest(&conf, opts)
	require.True(t, ok)
	assert.Equal(t, 7, slot)
}

func TestPickBest_ZeroThresholdNeedsSignal(t *testing.T) {
	opts := DefaultOptions()
	opts.Threshold = 0

	var conf [SlotCount]float32
	slot, ok := PickBest(&conf, opts)
	assert.False(t, ok)
	assert.Equal(t, NoSlot, slot)

	conf[SlotOU] = 0.01
	slot, ok = PickBest(&conf, opts)
	assert.True(t, ok)
	assert.Equal(t, SlotOU, slot)
}

func TestSmoothing_Instant(t *testing.T) {
	opts := DefaultOptions()
	opts.Smoothing = 0
	c, err := New(opts)
	require.NoError(t, err)

	x := toneBlock(50)
	c.Analyze(x)
	require.NoError(t, c.Train(SlotCH))

	c.Analyze(x)
	assert.InDelta(t, 1.0, c.Confidence(SlotCH), 1e-4)
}

func TestAnalyzeTrain_DoNotAllocate(t *testing.T) {
	c := newTestClassifier(t)
	x := toneBlock(20)

	allocs := testing.AllocsPerRun(50, func() {
		c.Analyze(x)
		_ = c.Train(SlotCH)
	})
	assert.Equal(t, 0.0, allocs)
}

func TestSlotNames(t *testing.T) {
	assert.Equal(t, "Silence", SlotName(SlotSilence))
	assert.Equal(t, "AA", SlotName(SlotAA))
	assert.Equal(t, "Custom", SlotName(7))
	assert.Equal(t, "Invalid", SlotName(-1))

	slot, ok := ParseSlot("ou")
	require.True(t, ok)
	assert.Equal(t, SlotOU, slot)

	_, ok = ParseSlot("zz")
	assert.False(t, ok)
}
