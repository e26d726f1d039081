// Package bus provides an internal event bus between the classifier engine,
// the avatar controller and the monitor.
package bus

import (
	"sync"
)

// EventType identifies different event types
type EventType string

// Event types for CortexViseme
const (
	// Classifier events
	EventTypeBestChanged     EventType = "viseme.best_changed"
	EventTypeTrainingStarted EventType = "viseme.training_started"
	EventTypeTrainingStopped EventType = "viseme.training_stopped"
	EventTypeSlotCleared     EventType = "viseme.slot_cleared"
	EventTypeModelSaved      EventType = "viseme.model_saved"
	EventTypeModelLoaded     EventType = "viseme.model_loaded"

	// Audio events
	EventTypeTalkingStarted EventType = "audio.talking_started"
	EventTypeTalkingStopped EventType = "audio.talking_stopped"

	// Avatar events
	EventTypeMouthShapeChanged EventType = "avatar.mouth_shape_changed"
)

// Event represents a bus event
type Event struct {
	Type EventType      `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Handler is a function that handles events
type Handler func(Event)

// EventBus is a simple pub/sub event bus. Handlers registered with
// SubscribeAll see every event after the type-specific handlers.
//
// Publish queues the event and returns. A single dispatcher goroutine,
// started on demand, runs handlers one at a time in publish order, so a
// handler sees events in the order they were published and must not block.
// Publishing takes locks, so it must not be called from the audio callback.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler

	queueMu  sync.Mutex
	queue    []Event
	draining bool
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for an event type
func (b *EventBus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// SubscribeMultiple adds a handler for multiple event types
func (b *EventBus) SubscribeMultiple(eventTypes []EventType, handler Handler) {
	for _, et := range eventTypes {
		b.Subscribe(et, handler)
	}
}

// SubscribeAll adds a handler for every event type.
func (b *EventBus) SubscribeAll(handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.all = append(b.all, handler)
}

func (b *EventBus) snapshot(eventType EventType) []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()

	specific := b.handlers[eventType]
	handlers := make([]Handler, 0, len(specific)+len(b.all))
	handlers = append(handlers, specific...)
	return append(handlers, b.all...)
}

// Publish queues an event for delivery without waiting for handlers.
func (b *EventBus) Publish(event Event) {
	b.queueMu.Lock()
	b.queue = append(b.queue, event)
	start := !b.draining
	b.draining = true
	b.queueMu.Unlock()

	if start {
		go b.drain()
	}
}

// drain delivers queued events until the queue is empty.
func (b *EventBus) drain() {
	for {
		b.queueMu.Lock()
		if len(b.queue) == 0 {
			b.draining = false
			b.queueMu.Unlock()
			return
		}
		event := b.queue[0]
		b.queue[0] = Event{}
		b.queue = b.queue[1:]
		b.queueMu.Unlock()

		for _, handler := range b.snapshot(event.Type) {
			handler(event)
		}
	}
}
