package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// keepAliveInterval is how often an idle SSE connection gets a comment line
// so proxies do not cut it.
const keepAliveInterval = 15 * time.Second

// SSEHandler streams a session's events as Server-Sent Events. The id is
// resolved by the caller from the route.
func SSEHandler(hub *Hub, log zerolog.Logger) func(w http.ResponseWriter, r *http.Request, id string) {
	return func(w http.ResponseWriter, r *http.Request, id string) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		events, cancel := hub.Subscribe(id)
		defer cancel()

		ticker := time.NewTicker(keepAliveInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.Context().Done():
				return
			case <-ticker.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				flusher.Flush()
			case ev, open := <-events:
				if !open {
					return
				}
				body, err := json.Marshal(ev.Data)
				if err != nil {
					log.Error().Err(err).Str("backtest_id", id).Msg("event marshal failed")
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, body)
				flusher.Flush()
				if ev.Terminal() {
					return
				}
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSHandler streams a session's events over a websocket as JSON messages.
func WSHandler(hub *Hub, log zerolog.Logger) func(w http.ResponseWriter, r *http.Request, id string) {
	return func(w http.ResponseWriter, r *http.Request, id string) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Str("backtest_id", id).Msg("websocket upgrade failed")
			return
		}
		defer conn.Close()

		events, cancel := hub.Subscribe(id)
		defer cancel()

		// Reader goroutine only to observe client close.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case <-done:
				return
			case <-r.Context().Done():
				return
			case ev, open := <-events:
				if !open {
					return
				}
				conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(ev); err != nil {
					log.Debug().Err(err).Str("backtest_id", id).Msg("websocket write failed")
					return
				}
				if ev.Terminal() {
					conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}
