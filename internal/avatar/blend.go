package avatar

import (
	"encoding/json"
	"math"
	"sync"
	"time"
)

// Blendshape indexes the ARKit-style mouth weights a renderer consumes.
type Blendshape int

const (
	JawOpen Blendshape = iota
	MouthClose
	MouthFunnel
	MouthPucker
	MouthStretchLeft
	MouthStretchRight
	BlendshapeCount
)

var blendshapeNames = [BlendshapeCount]string{
	JawOpen:           "jawOpen",
	MouthClose:        "mouthClose",
	MouthFunnel:       "mouthFunnel",
	MouthPucker:       "mouthPucker",
	MouthStretchLeft:  "mouthStretchLeft",
	MouthStretchRight: "mouthStretchRight",
}

func (b Blendshape) String() string {
	if b < 0 || b >= BlendshapeCount {
		return "unknown"
	}
	return blendshapeNames[b]
}

type blendTarget struct {
	shape  Blendshape
	weight float32
}

var mouthToBlendshapes = map[MouthShape][]blendTarget{
	MouthClosed: {{MouthClose, 0.3}},
	MouthAh:     {{JawOpen, 0.6}, {MouthStretchLeft, 0.2}, {MouthStretchRight, 0.2}},
	MouthCH:     {{JawOpen, 0.15}, {MouthFunnel, 0.4}, {MouthPucker, 0.3}},
	MouthOO:     {{JawOpen, 0.25}, {MouthPucker, 0.6}, {MouthFunnel, 0.4}},
}

// Weights holds one value in [0, 1] per blendshape.
type Weights [BlendshapeCount]float32

// MarshalJSON encodes the weights keyed by blendshape name.
func (w Weights) MarshalJSON() ([]byte, error) {
	m := make(map[string]float32, BlendshapeCount)
	for i, v := range w {
		m[Blendshape(i).String()] = v
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes weights keyed by blendshape name. Unknown names are
// ignored.
func (w *Weights) UnmarshalJSON(data []byte) error {
	var m map[string]float32
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*w = Weights{}
	for i := range w {
		if v, ok := m[Blendshape(i).String()]; ok {
			w[i] = v
		}
	}
	return nil
}

// DefaultBlendRate is the exponential approach rate in 1/s.
const DefaultBlendRate = 12.0

// Blender eases mouth blendshape weights toward the current mouth shape so
// the rendered mouth does not snap between classifier decisions.
type Blender struct {
	mu      sync.Mutex
	rate    float32
	weights Weights
}

// NewBlender creates a blender. A non-positive rate selects DefaultBlendRate.
func NewBlender(rate float32) *Blender {
	if rate <= 0 {
		rate = DefaultBlendRate
	}
	return &Blender{rate: rate}
}

// Update moves every weight toward the targets of shape scaled by intensity
// and returns the new weights. dt is the time since the previous update.
func (b *Blender) Update(shape MouthShape, intensity float32, dt time.Duration) Weights {
	intensity = clamp(intensity, 0, 1)

	var target Weights
	for _, t := range mouthToBlendshapes[shape] {
		target[t.shape] = t.weight * intensity
	}

	lerp := float32(1 - math.Exp(-float64(b.rate)*dt.Seconds()))

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.weights {
		b.weights[i] = clamp(b.weights[i]+(target[i]-b.weights[i])*lerp, 0, 1)
	}
	return b.weights
}

// Weights returns the current weights.
func (b *Blender) Weights() Weights {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.weights
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
