package stream

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/crucial-sub/stocklab/internal/metrics"
)

// subscriberBuffer is per-consumer; overflow drops the oldest queued event.
const subscriberBuffer = 64

type session struct {
	subs     map[chan Event]struct{}
	terminal *Event
}

// Hub routes progress events to subscribers keyed by backtest id. Publish
// never blocks the simulator; the terminal event is sticky so late or slow
// subscribers still observe completion.
type Hub struct {
	mu       sync.Mutex
	sessions map[string]*session
	log      zerolog.Logger
}

// NewHub creates an empty hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		sessions: make(map[string]*session),
		log:      log.With().Str("component", "stream_hub").Logger(),
	}
}

func (h *Hub) session(id string) *session {
	s, ok := h.sessions[id]
	if !ok {
		s = &session{subs: make(map[chan Event]struct{})}
		h.sessions[id] = s
	}
	return s
}

// Subscribe registers a consumer for the backtest id. The cancel func must
// be called when the consumer goes away. Subscribing to a finished session
// delivers the terminal event immediately.
func (h *Hub) Subscribe(id string) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.session(id)
	ch := make(chan Event, subscriberBuffer)
	if s.terminal != nil {
		ch <- *s.terminal
	} else {
		s.subs[ch] = struct{}{}
	}
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sess, ok := h.sessions[id]; ok {
			delete(sess.subs, ch)
		}
	}
	return ch, cancel
}

// Publish fans ev out to the session's subscribers without blocking. When a
// subscriber's buffer is full the oldest queued event is dropped; terminal
// events additionally close the session and stick for late subscribers.
func (h *Hub) Publish(id string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := h.session(id)
	if s.terminal != nil {
		return // session already finished
	}
	for ch := range s.subs {
		h.offer(ch, ev)
	}
	if ev.Terminal() {
		s.terminal = &ev
		for ch := range s.subs {
			close(ch)
		}
		s.subs = make(map[chan Event]struct{})
	}
}

// offer enqueues without blocking, evicting the oldest queued event if the
// buffer is full. Eviction keeps the terminal event deliverable.
func (h *Hub) offer(ch chan Event, ev Event) {
	for {
		select {
		case ch <- ev:
			return
		default:
			select {
			case <-ch:
				metrics.StreamEventsDropped.Inc()
			default:
			}
		}
	}
}

// Forget drops a finished session's sticky state. Called after the result
// has been persisted and the retention window elapsed.
func (h *Hub) Forget(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.sessions, id)
}
