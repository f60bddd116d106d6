package correlation

import (
	"context"
	"log"
	"sync"
)

// Sink receives human-readable progress notifications for one tracked call.
// Implementations may be asynchronous; the correlator logs and swallows sink
// errors so a broken consumer never aborts the correlation loop.
type Sink interface {
	Notify(ctx context.Context, message string) error
}

// LogSink writes progress notifications to the process log. It is the
// fallback when no live subscriber is attached.
type LogSink struct {
	CallUUID string
}

// Notify logs the progress message.
func (s LogSink) Notify(_ context.Context, message string) error {
	log.Printf(`{"level":"info","message":"Call progress","call_uuid":"%s","progress":"%s"}`, s.CallUUID, message)
	return nil
}

// Hub fans progress notifications out to live subscribers, keyed by call
// uuid. The websocket gateway subscribes here; the correlator publishes
// through StreamSink.
type Hub struct {
	mu   sync.Mutex
	subs map[string][]chan string
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string][]chan string)}
}

// Subscribe registers a subscriber for one call's progress messages. The
// returned cancel function must be called to release the channel.
func (h *Hub) Subscribe(callUUID string) (<-chan string, func()) {
	ch := make(chan string, 16)

	h.mu.Lock()
	h.subs[callUUID] = append(h.subs[callUUID], ch)
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subs[callUUID]
		for i, sub := range subs {
			if sub == ch {
				h.subs[callUUID] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
		if len(h.subs[callUUID]) == 0 {
			delete(h.subs, callUUID)
		}
	}
	return ch, cancel
}

// Publish delivers a message to every subscriber of callUUID. Slow
// subscribers are skipped rather than blocked on.
func (h *Hub) Publish(callUUID, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs[callUUID] {
		select {
		case ch <- message:
		default:
		}
	}
}

// StreamSink publishes progress to hub subscribers and mirrors it to the
// process log.
type StreamSink struct {
	Hub      *Hub
	CallUUID string
}

// Notify publishes the progress message.
func (s StreamSink) Notify(_ context.Context, message string) error {
	log.Printf(`{"level":"info","message":"Call progress","call_uuid":"%s","progress":"%s"}`, s.CallUUID, message)
	s.Hub.Publish(s.CallUUID, message)
	return nil
}
