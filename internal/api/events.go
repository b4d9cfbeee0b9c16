package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/imdevinc/recipe-mirror/internal/events"
)

// DefaultKeepAlive is how often an idle stream gets a comment line.
const DefaultKeepAlive = 30 * time.Second

// EventStream serves broker events as server-sent events.
type EventStream struct {
	broker    *events.Broker
	keepAlive time.Duration
}

// NewEventStream creates an SSE handler over broker.
func NewEventStream(broker *events.Broker) *EventStream {
	return &EventStream{broker: broker, keepAlive: DefaultKeepAlive}
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (s *EventStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := s.broker.Subscribe()
	defer s.broker.Unsubscribe(ch)

	ticker := time.NewTicker(s.keepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
			flusher.Flush()
		}
	}
}
