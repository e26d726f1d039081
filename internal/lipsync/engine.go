// Package lipsync couples the viseme classifier to a real-time audio source
// and to the UI that reads its decisions.
//
// Two goroutines share an Engine. The audio goroutine calls Process (or
// Feed) once per block and never waits: when a UI command holds the engine
// lock the block is dropped and counted. The UI goroutine reads
// confidences, the best slot and the meter level from atomics, and takes
// the lock only for commands that touch the models.
package lipsync

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/cortexviseme/internal/audio"
	"github.com/normanking/cortexviseme/internal/avatar"
	"github.com/normanking/cortexviseme/internal/bus"
	"github.com/normanking/cortexviseme/internal/spectral"
	"github.com/normanking/cortexviseme/internal/viseme"
)

// ErrShortBlock is returned by Process for frames shorter than one block.
var ErrShortBlock = fmt.Errorf("lipsync: block shorter than %d samples", spectral.FFTSize)

// ErrNoModelPath is returned by Save and Load when neither the call nor the
// engine config names a model file.
var ErrNoModelPath = errors.New("lipsync: no model path configured")

// Config configures an Engine.
type Config struct {
	Options   viseme.Options
	Meter     *audio.MeterConfig
	ModelPath string
}

// DefaultConfig returns the tuned classifier options and meter settings.
func DefaultConfig() Config {
	return Config{
		Options: viseme.DefaultOptions(),
		Meter:   audio.DefaultMeterConfig(),
	}
}

// Frame is one UI-side snapshot of the engine.
type Frame struct {
	Confidences  [viseme.SlotCount]float32 `json:"confidences"`
	Best         int                       `json:"best"`
	BestName     string                    `json:"bestName"`
	HasBest      bool                      `json:"hasBest"`
	Mouth        avatar.MouthShape         `json:"mouth"`
	Level        float32                   `json:"level"`
	Talking      bool                      `json:"talking"`
	TrainingSlot int                       `json:"trainingSlot"`
	Blend        avatar.Weights            `json:"blend"`
	Processed    uint64                    `json:"processed"`
	Dropped      uint64                    `json:"dropped"`
}

// Engine runs the classifier for one audio stream.
type Engine struct {
	cfg     Config
	logger  zerolog.Logger
	bus     *bus.EventBus
	avatar  *avatar.Controller
	blender *avatar.Blender

	// mu guards classifier and block. The audio side only ever TryLocks it.
	mu         sync.Mutex
	classifier *viseme.Classifier
	block      [spectral.FFTSize]float32
	framer     *audio.Framer

	meter        *audio.Meter
	confidences  [viseme.SlotCount]audio.AtomicFloat32
	trainingSlot atomic.Int32
	processed    atomic.Uint64
	dropped      atomic.Uint64

	// Poll state, owned by the UI goroutine.
	pollMu       sync.Mutex
	lastBest     int
	lastHasBest  bool
	lastTalking  bool
	lastTraining int
	lastPoll     time.Time
}

// New creates an engine. The bus and avatar controller are optional.
func New(cfg Config, logger zerolog.Logger, eventBus *bus.EventBus, ctrl *avatar.Controller) (*Engine, error) {
	if cfg.Meter == nil {
		cfg.Meter = audio.DefaultMeterConfig()
	}

	classifier, err := viseme.New(cfg.Options)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:          cfg,
		logger:       logger,
		bus:          eventBus,
		avatar:       ctrl,
		blender:      avatar.NewBlender(avatar.DefaultBlendRate),
		classifier:   classifier,
		meter:        audio.NewMeter(cfg.Meter),
		lastBest:     viseme.NoSlot,
		lastTraining: viseme.NoSlot,
	}
	e.trainingSlot.Store(viseme.NoSlot)
	e.framer = audio.NewFramer(e.processBlock)

	return e, nil
}

// Options returns the classifier options.
func (e *Engine) Options() viseme.Options {
	return e.cfg.Options
}

// ModelPath returns the configured model file.
func (e *Engine) ModelPath() string {
	return e.cfg.ModelPath
}

// Process analyzes the first block of frames. It is the audio callback entry
// point: it never blocks and never allocates. The meter always runs over the
// whole frame; when the UI holds the engine lock the block is not classified
// and is counted as dropped.
func (e *Engine) Process(frames []float32) error {
	if len(frames) < spectral.FFTSize {
		return ErrShortBlock
	}

	e.meter.Process(frames)

	if !e.mu.TryLock() {
		e.dropped.Add(1)
		return nil
	}
	copy(e.block[:], frames[:spectral.FFTSize])
	e.analyzeLocked()
	e.mu.Unlock()
	return nil
}

// Feed splits an arbitrary-length stream into blocks and processes each
// one. It must be called from the same goroutine as Process.
func (e *Engine) Feed(samples []float32) {
	e.framer.Write(samples)
}

func (e *Engine) processBlock(block *[spectral.FFTSize]float32) {
	e.meter.Process(block[:])

	if !e.mu.TryLock() {
		e.dropped.Add(1)
		return
	}
	e.block = *block
	e.analyzeLocked()
	e.mu.Unlock()
}

func (e *Engine) analyzeLocked() {
	e.classifier.Analyze(&e.block)
	if slot := int(e.trainingSlot.Load()); slot > 0 {
		// slot is validated by SetTrainingSlot
		_ = e.classifier.Train(slot)
	}
	e.publishLocked()
	e.processed.Add(1)
}

func (e *Engine) publishLocked() {
	conf := e.classifier.Confidences()
	for s := range conf {
		e.confidences[s].Store(conf[s])
	}
}

// SetTrainingSlot selects the slot later blocks are trained into.
// viseme.NoSlot stops training. Slot 0 is accepted but never trained.
func (e *Engine) SetTrainingSlot(slot int) error {
	if slot != viseme.NoSlot && !viseme.ValidSlot(slot) {
		return viseme.ErrSlotOutOfRange
	}
	e.trainingSlot.Store(int32(slot))
	return nil
}

// TrainingSlot returns the slot being trained, or viseme.NoSlot.
func (e *Engine) TrainingSlot() int {
	return int(e.trainingSlot.Load())
}

// Confidences returns the last published per-slot scores. Each value is read
// atomically; the set may straddle two consecutive blocks.
func (e *Engine) Confidences() [viseme.SlotCount]float32 {
	var conf [viseme.SlotCount]float32
	for s := range conf {
		conf[s] = e.confidences[s].Load()
	}
	return conf
}

// BestSlot applies the best-slot decision to the published confidences.
func (e *Engine) BestSlot() (int, bool) {
	conf := e.Confidences()
	return viseme.PickBest(&conf, e.cfg.Options)
}

// Level returns the meter volume in [0, 1].
func (e *Engine) Level() float32 {
	return e.meter.Volume()
}

// Talking reports whether the volume is above the talk threshold.
func (e *Engine) Talking() bool {
	return e.meter.Talking()
}

// ProcessedBlocks returns how many blocks were analyzed.
func (e *Engine) ProcessedBlocks() uint64 {
	return e.processed.Load()
}

// DroppedBlocks returns how many blocks were skipped because the UI held
// the engine lock.
func (e *Engine) DroppedBlocks() uint64 {
	return e.dropped.Load()
}

// ClearSlot resets one slot to untrained.
func (e *Engine) ClearSlot(slot int) error {
	e.mu.Lock()
	err := e.classifier.ClearSlot(slot)
	if err == nil {
		e.confidences[slot].Store(0)
	}
	e.mu.Unlock()

	if err != nil {
		return err
	}
	e.logger.Info().Int("slot", slot).Msg("Slot cleared")
	e.publish(bus.EventTypeSlotCleared, map[string]any{"slot": slot})
	return nil
}

// Model returns a copy of one slot model.
func (e *Engine) Model(slot int) (viseme.SlotModel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.classifier.Model(slot)
}

// Models returns a copy of every slot model.
func (e *Engine) Models() viseme.Models {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.classifier.Models()
}

// SetModels replaces every slot model.
func (e *Engine) SetModels(m *viseme.Models) {
	e.mu.Lock()
	e.classifier.SetModels(m)
	e.mu.Unlock()
}

func (e *Engine) resolvePath(path string) (string, error) {
	if path == "" {
		path = e.cfg.ModelPath
	}
	if path == "" {
		return "", ErrNoModelPath
	}
	return path, nil
}

// Save writes the models to path, or to the configured model path when path
// is empty. The lock is held only while the models are copied.
func (e *Engine) Save(path string) error {
	path, err := e.resolvePath(path)
	if err != nil {
		return err
	}

	models := e.Models()
	if err := viseme.SaveModels(path, &models); err != nil {
		return err
	}

	e.logger.Info().Str("path", path).Msg("Model saved")
	e.publish(bus.EventTypeModelSaved, map[string]any{"path": path})
	return nil
}

// Load replaces the models with the contents of path, or of the configured
// model path when path is empty. The models are unchanged on error.
func (e *Engine) Load(path string) error {
	path, err := e.resolvePath(path)
	if err != nil {
		return err
	}

	models, err := viseme.LoadModels(path)
	if err != nil {
		return err
	}
	e.SetModels(models)

	e.logger.Info().Str("path", path).Msg("Model loaded")
	e.publish(bus.EventTypeModelLoaded, map[string]any{"path": path})
	return nil
}

// Snapshot reads the published state without side effects: no events, no
// avatar update and no blend step. Blend holds the weights of the last Poll.
// It is safe from any goroutine.
func (e *Engine) Snapshot() Frame {
	conf := e.Confidences()
	best, ok := viseme.PickBest(&conf, e.cfg.Options)
	talking := e.meter.Talking()

	return Frame{
		Confidences:  conf,
		Best:         best,
		BestName:     viseme.SlotName(best),
		HasBest:      ok,
		Mouth:        avatar.MouthForSlot(best, ok, talking),
		Level:        e.meter.Volume(),
		Talking:      talking,
		TrainingSlot: e.TrainingSlot(),
		Blend:        e.blender.Weights(),
		Processed:    e.processed.Load(),
		Dropped:      e.dropped.Load(),
	}
}

// Poll takes a UI-side snapshot, drives the avatar controller and publishes
// transition events. Call it from the UI goroutine, typically once per
// rendered frame.
func (e *Engine) Poll() Frame {
	frame := e.Snapshot()
	conf := frame.Confidences
	best, ok, talking, training := frame.Best, frame.HasBest, frame.Talking, frame.TrainingSlot

	if e.avatar != nil {
		e.avatar.Apply(best, ok, talking)
		frame.Mouth = e.avatar.GetState().MouthShape
	}

	e.pollMu.Lock()
	now := time.Now()
	var dt time.Duration
	if !e.lastPoll.IsZero() {
		dt = now.Sub(e.lastPoll)
	}
	e.lastPoll = now
	bestChanged := best != e.lastBest || ok != e.lastHasBest
	talkChanged := talking != e.lastTalking
	prevTraining := e.lastTraining
	e.lastBest, e.lastHasBest, e.lastTalking, e.lastTraining = best, ok, talking, training
	e.pollMu.Unlock()

	intensity := frame.Level
	if ok {
		intensity = conf[best]
	}
	frame.Blend = e.blender.Update(frame.Mouth, intensity, dt)

	if bestChanged {
		e.publish(bus.EventTypeBestChanged, map[string]any{
			"slot": best,
			"name": frame.BestName,
			"ok":   ok,
		})
	}
	if talkChanged {
		if talking {
			e.publish(bus.EventTypeTalkingStarted, map[string]any{"level": frame.Level})
		} else {
			e.publish(bus.EventTypeTalkingStopped, map[string]any{"level": frame.Level})
		}
	}
	if training != prevTraining {
		if prevTraining > 0 {
			e.publish(bus.EventTypeTrainingStopped, map[string]any{"slot": prevTraining})
		}
		if training > 0 {
			e.publish(bus.EventTypeTrainingStarted, map[string]any{"slot": training})
		}
	}

	return frame
}

func (e *Engine) publish(t bus.EventType, data map[string]any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(bus.Event{Type: t, Data: data})
}
