package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/me/atomsched/pkg/model"
)

// Broadcaster fans scheduler events out to stream subscribers. Record is
// called on the dispatch goroutine and never blocks: a subscriber that
// cannot keep up loses events rather than stalling dispatch.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[int]chan model.Event
	next int
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]chan model.Event)}
}

// Record implements scheduler.EventSink.
func (b *Broadcaster) Record(ev model.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Subscribe registers a listener. The cancel function must be called when
// the listener goes away.
func (b *Broadcaster) Subscribe() (<-chan model.Event, func()) {
	ch := make(chan model.Event, 64)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
	return ch, cancel
}

// handleEventStream streams live trace events via Server-Sent Events.
// GET /api/v1/events/stream
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	if s.stream == nil {
		respondError(w, reqID, http.StatusServiceUnavailable, &model.APIError{
			Code:    model.ErrInternal,
			Message: "event stream not configured",
		})
		return
	}

	// Set headers for SSE.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	events, cancel := s.stream.Subscribe()
	defer cancel()

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Heartbeats keep intermediaries from timing out idle streams.
	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev := <-events:
			if err := sendSSEEvent(w, flusher, string(ev.Kind), ev); err != nil {
				s.logger.Debug("sse client disconnected", "error", err)
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	if err != nil {
		return err
	}

	flusher.Flush()
	return nil
}
