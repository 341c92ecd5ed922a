package stream

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucial-sub/stocklab/internal/domain"
)

func progressAt(day int, value float64) ProgressPayload {
	snap := domain.Snapshot{
		Date:             time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		PortfolioValue:   value,
		Cash:             value,
		CumulativeReturn: (value - 1_000_000) / 1_000_000 * 100,
	}
	return NewProgressPayload(snap, float64(day)*10)
}

func TestHubFanOut(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	ch1, cancel1 := hub.Subscribe("bt-1")
	ch2, cancel2 := hub.Subscribe("bt-1")
	defer cancel1()
	defer cancel2()

	hub.Publish("bt-1", Event{Type: EventProgress, Data: progressAt(2, 1_000_000)})
	for _, ch := range []<-chan Event{ch1, ch2} {
		ev := <-ch
		assert.Equal(t, EventProgress, ev.Type)
	}
}

func TestHubSessionIsolation(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	ch, cancel := hub.Subscribe("bt-other")
	defer cancel()

	hub.Publish("bt-1", Event{Type: EventProgress, Data: progressAt(2, 1_000_000)})
	select {
	case <-ch:
		t.Fatal("event leaked across sessions")
	default:
	}
}

func TestSlowConsumerKeepsTerminal(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	ch, cancel := hub.Subscribe("bt-1")
	defer cancel()

	// Overflow the buffer without draining.
	for i := 0; i < subscriberBuffer*3; i++ {
		hub.Publish("bt-1", Event{Type: EventProgress, Data: progressAt(2, float64(i))})
	}
	hub.Publish("bt-1", Event{Type: EventCompleted, Data: "done"})

	var last Event
	for ev := range ch {
		last = ev
	}
	assert.Equal(t, EventCompleted, last.Type, "terminal event survives drop-oldest")
}

func TestLateSubscriberGetsStickyTerminal(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.Publish("bt-1", Event{Type: EventError, Data: ErrorPayload{Code: "CANCELLED"}})

	ch, cancel := hub.Subscribe("bt-1")
	defer cancel()
	ev := <-ch
	assert.Equal(t, EventError, ev.Type)
}

func TestPublishAfterTerminalIsIgnored(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	hub.Publish("bt-1", Event{Type: EventCompleted, Data: "done"})
	hub.Publish("bt-1", Event{Type: EventProgress, Data: progressAt(3, 1)})

	ch, cancel := hub.Subscribe("bt-1")
	defer cancel()
	ev := <-ch
	assert.Equal(t, EventCompleted, ev.Type)
}

func TestDeltaFirstSnapshotIsFull(t *testing.T) {
	enc := NewDeltaEncoder()
	ev := enc.Encode(progressAt(2, 1_000_000))
	assert.Equal(t, EventProgress, ev.Type)
	_, isFull := ev.Data.(ProgressPayload)
	assert.True(t, isFull)
}

func TestDeltaCarriesOnlyChangedFields(t *testing.T) {
	enc := NewDeltaEncoder()
	enc.Encode(progressAt(2, 1_000_000))

	// Same value and cash as the prior snapshot; only date and percent move.
	p := progressAt(3, 1_000_000)
	ev := enc.Encode(p)
	require.Equal(t, EventDelta, ev.Type)
	delta := ev.Data.(map[string]interface{})

	assert.Contains(t, delta, "date")
	assert.Contains(t, delta, "progress_percent")
	assert.NotContains(t, delta, "portfolio_value", "unchanged fields are omitted")
	assert.NotContains(t, delta, "cash")
}

func TestDeltaReconstruction(t *testing.T) {
	values := []float64{1_000_000, 1_010_000, 1_010_000, 995_000, 1_020_000}
	enc := NewDeltaEncoder()

	var reconstructed []map[string]interface{}
	var current map[string]interface{}
	var fullSeries []map[string]interface{}

	for i, v := range values {
		p := progressAt(i+2, v)
		fullSeries = append(fullSeries, payloadFields(p))

		ev := enc.Encode(p)
		if ev.Type == EventProgress {
			current = payloadFields(ev.Data.(ProgressPayload))
		} else {
			current = ApplyDelta(current, ev.Data.(map[string]interface{}))
		}
		reconstructed = append(reconstructed, current)
	}

	require.Len(t, reconstructed, len(fullSeries))
	for i := range fullSeries {
		assert.Equal(t, fullSeries[i], reconstructed[i], fmt.Sprintf("day %d", i))
	}
}
