package bus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan Event, n int) []Event {
	t.Helper()
	var got []Event
	deadline := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case ev := <-ch:
			got = append(got, ev)
		case <-deadline:
			t.Fatalf("got %d of %d events", len(got), n)
		}
	}
	return got
}

func TestEventBus_SubscribeRouting(t *testing.T) {
	b := NewEventBus()

	best := make(chan Event, 4)
	all := make(chan Event, 4)
	b.Subscribe(EventTypeBestChanged, func(e Event) { best <- e })
	b.SubscribeAll(func(e Event) { all <- e })

	b.Publish(Event{Type: EventTypeBestChanged, Data: map[string]any{"slot": 2}})
	b.Publish(Event{Type: EventTypeModelSaved})

	got := collect(t, all, 2)
	assert.Equal(t, EventTypeBestChanged, got[0].Type)
	assert.Equal(t, EventTypeModelSaved, got[1].Type)

	ev := collect(t, best, 1)[0]
	assert.Equal(t, 2, ev.Data["slot"])
	assert.Empty(t, best)
}

func TestEventBus_SubscribeMultiple(t *testing.T) {
	b := NewEventBus()

	ch := make(chan Event, 4)
	b.SubscribeMultiple([]EventType{EventTypeTalkingStarted, EventTypeTalkingStopped}, func(e Event) {
		ch <- e
	})

	b.Publish(Event{Type: EventTypeTalkingStarted})
	b.Publish(Event{Type: EventTypeSlotCleared})
	b.Publish(Event{Type: EventTypeTalkingStopped})

	got := collect(t, ch, 2)
	assert.Equal(t, EventTypeTalkingStarted, got[0].Type)
	assert.Equal(t, EventTypeTalkingStopped, got[1].Type)
}

func TestEventBus_PublishKeepsOrder(t *testing.T) {
	b := NewEventBus()

	const n = 500
	ch := make(chan Event, n)
	b.SubscribeAll(func(e Event) { ch <- e })

	for i := 0; i < n; i++ {
		typ := EventTypeTrainingStarted
		if i%2 == 1 {
			typ = EventTypeTrainingStopped
		}
		b.Publish(Event{Type: typ, Data: map[string]any{"seq": i}})
	}

	for i, ev := range collect(t, ch, n) {
		require.Equal(t, i, ev.Data["seq"])
	}
}

func TestEventBus_ConcurrentPublishers(t *testing.T) {
	b := NewEventBus()

	const publishers, each = 4, 100
	ch := make(chan Event, publishers*each)
	b.SubscribeAll(func(e Event) { ch <- e })

	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				b.Publish(Event{Type: EventTypeBestChanged, Data: map[string]any{"p": p, "i": i}})
			}
		}(p)
	}
	wg.Wait()

	// Each publisher's own events arrive in order.
	last := map[int]int{}
	for _, ev := range collect(t, ch, publishers*each) {
		p, i := ev.Data["p"].(int), ev.Data["i"].(int)
		if prev, ok := last[p]; ok {
			assert.Greater(t, i, prev)
		}
		last[p] = i
	}
}
