// Package avatar holds the mouth state the classifier drives. Sprite
// compositing and animation belong to the renderer.
package avatar

import (
	"sync"

	"github.com/normanking/cortexviseme/internal/viseme"
)

// MouthShape for lip-sync (visemes)
type MouthShape string

const (
	MouthClosed MouthShape = "closed" // Rest, silence
	MouthAh     MouthShape = "ah"     // Open vowels: AA, AE, AH
	MouthCH     MouthShape = "ch"     // Affricates: CH, JH, SH, ZH
	MouthOO     MouthShape = "oo"     // Tight round: OU, UW
)

// MouthForSlot maps the classifier's decision to a mouth shape. Without a
// confident slot the mouth follows the volume meter: open while talking,
// closed otherwise. Custom slots (5..9) fall back the same way.
func MouthForSlot(slot int, ok, talking bool) MouthShape {
	if ok {
		switch slot {
		case viseme.SlotSilence:
			return MouthClosed
		case viseme.SlotCH:
			return MouthCH
		case viseme.SlotOU:
			return MouthOO
		case viseme.SlotAA:
			return MouthAh
		}
	}
	if talking {
		return MouthAh
	}
	return MouthClosed
}

// State represents the avatar's current mouth state
type State struct {
	MouthShape MouthShape `json:"mouthShape"`
	Slot       int        `json:"slot"`
	IsTalking  bool       `json:"isTalking"`
}

// Controller manages mouth state transitions
type Controller struct {
	state State
	mu    sync.RWMutex

	onStateChange func(State)
}

// NewController creates a new avatar controller with a closed mouth
func NewController() *Controller {
	return &Controller{
		state: State{
			MouthShape: MouthClosed,
			Slot:       viseme.NoSlot,
		},
	}
}

// SetStateHandler sets the callback for state changes
func (c *Controller) SetStateHandler(handler func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onStateChange = handler
}

// GetState returns the current state
func (c *Controller) GetState() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Apply updates the mouth from a classifier decision and the talking flag.
// It reports whether the state changed; the handler only fires on change.
func (c *Controller) Apply(slot int, ok, talking bool) bool {
	if !ok {
		slot = viseme.NoSlot
	}
	next := State{
		MouthShape: MouthForSlot(slot, ok, talking),
		Slot:       slot,
		IsTalking:  talking,
	}

	c.mu.Lock()
	if next == c.state {
		c.mu.Unlock()
		return false
	}
	c.state = next
	handler := c.onStateChange
	c.mu.Unlock()

	if handler != nil {
		handler(next)
	}
	return true
}

// SetIdle returns to a closed mouth
func (c *Controller) SetIdle() {
	c.Apply(viseme.NoSlot, false, false)
}
