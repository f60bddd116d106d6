package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound is returned when an event id is not present in the store.
var ErrNotFound = errors.New("event not found")

// Event is a single stored callback notification. Events are immutable once
// appended; only Clear removes them.
type Event struct {
	ID          string            `json:"id"`
	Timestamp   time.Time         `json:"timestamp"`
	Endpoint    string            `json:"endpoint"`
	Method      string            `json:"method"`
	Headers     map[string]string `json:"headers"`
	QueryParams map[string]string `json:"query_params"`
	Body        map[string]any    `json:"body"`
}

// SpeechResult is one recognized-speech candidate from a speech event body.
type SpeechResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// SpeechEvent is the derived view of an event that carries at least one
// recognized-speech result. Text and Confidence come from the first (best)
// result.
type SpeechEvent struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	ConversationUUID string    `json:"conversation_uuid"`
	Text             string    `json:"text"`
	Confidence       float64   `json:"confidence"`
	CompleteEvent    Event     `json:"complete_event"`
}

// Store is an append-only, in-memory collection of callback events. Appends
// and scans are independently safe; scans see a snapshot of the slice taken
// under the read lock.
type Store struct {
	mu     sync.RWMutex
	events []Event
	seq    int
}

// NewStore creates an empty event store.
func NewStore() *Store {
	return &Store{}
}

// Append normalizes a raw request body into an event record and stores it.
// Malformed bodies are never rejected: if body is not valid JSON it is stored
// verbatim under "raw" together with a "parse_error" marker.
func (s *Store) Append(endpoint, method string, headers, queryParams map[string]string, rawBody []byte) string {
	return s.AppendBody(endpoint, method, headers, queryParams, ParseBody(rawBody))
}

// AppendBody stores an already-normalized body as an event record.
func (s *Store) AppendBody(endpoint, method string, headers, queryParams map[string]string, body map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	evt := Event{
		ID:          fmt.Sprintf("evt_%d_%d", s.seq, time.Now().Unix()),
		Timestamp:   time.Now().UTC(),
		Endpoint:    endpoint,
		Method:      method,
		Headers:     headers,
		QueryParams: queryParams,
		Body:        body,
	}
	s.events = append(s.events, evt)
	return evt.ID
}

// AppendError stores a record describing an ingress failure so that no
// inbound notification is lost even when processing blows up.
func (s *Store) AppendError(details map[string]any) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	evt := Event{
		ID:        fmt.Sprintf("err_%d_%d", s.seq, time.Now().Unix()),
		Timestamp: time.Now().UTC(),
		Body:      map[string]any{"error": details},
	}
	s.events = append(s.events, evt)
	return evt.ID
}

// ParseBody decodes rawBody as a JSON object, falling back to a raw-text
// record with a parse_error marker when it is not one.
func ParseBody(rawBody []byte) map[string]any {
	if len(rawBody) == 0 {
		return map[string]any{}
	}
	var body map[string]any
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return map[string]any{
			"raw":         string(rawBody),
			"parse_error": err.Error(),
		}
	}
	return body
}

// List returns the total event count and a page of events in insertion order.
func (s *Store) List(limit, skip int) (int, []Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := len(s.events)
	if skip < 0 {
		skip = 0
	}
	if skip > total {
		skip = total
	}
	end := skip + limit
	if limit <= 0 || end > total {
		end = total
	}
	page := make([]Event, end-skip)
	copy(page, s.events[skip:end])
	return total, page
}

// Get returns the event with the given id, or ErrNotFound.
func (s *Store) Get(id string) (Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, evt := range s.events {
		if evt.ID == id {
			return evt, nil
		}
	}
	return Event{}, ErrNotFound
}

// Snapshot returns a copy of all stored events in insertion order.
func (s *Store) Snapshot() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// ListSpeechEvents scans the store for events whose body carries a
// recognized-speech substructure with at least one result and returns the
// derived speech view, one entry per matching event.
func (s *Store) ListSpeechEvents() []SpeechEvent {
	snapshot := s.Snapshot()

	var out []SpeechEvent
	for _, evt := range snapshot {
		result, ok := FirstSpeechResult(evt.Body)
		if !ok {
			continue
		}
		conversationUUID, _ := evt.Body["conversation_uuid"].(string)
		out = append(out, SpeechEvent{
			ID:               evt.ID,
			Timestamp:        evt.Timestamp,
			ConversationUUID: conversationUUID,
			Text:             result.Text,
			Confidence:       result.Confidence,
			CompleteEvent:    evt,
		})
	}
	return out
}

// Clear removes all events and returns how many were evicted.
func (s *Store) Clear() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := len(s.events)
	s.events = nil
	return count
}

// FirstSpeechResult extracts the first recognized-speech result from an event
// body, if the body carries a speech substructure with at least one result.
func FirstSpeechResult(body map[string]any) (SpeechResult, bool) {
	speech, ok := body["speech"].(map[string]any)
	if !ok {
		return SpeechResult{}, false
	}
	results, ok := speech["results"].([]any)
	if !ok || len(results) == 0 {
		return SpeechResult{}, false
	}
	first, ok := results[0].(map[string]any)
	if !ok {
		return SpeechResult{}, false
	}
	text, _ := first["text"].(string)
	confidence, _ := first["confidence"].(float64)
	return SpeechResult{Text: text, Confidence: confidence}, true
}
