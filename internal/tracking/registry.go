package tracking

import (
	"errors"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned when no tracker exists for a call uuid.
	ErrNotFound = errors.New("tracker not found")
	// ErrDuplicateTracker is returned when a tracker is created with a
	// call uuid that is already live. Provider-assigned ids make this an
	// internal invariant violation rather than an expected condition.
	ErrDuplicateTracker = errors.New("tracker already exists")
)

// entry pairs a tracker with its own lock so distinct trackers mutate
// independently.
type entry struct {
	mu      sync.Mutex
	tracker Tracker
}

// Registry owns the collection of live trackers. The map itself is guarded
// by an RWMutex; each tracker carries a per-entry mutex, so concurrent
// mutation of distinct trackers never serializes.
type Registry struct {
	mu       sync.RWMutex
	trackers map[string]*entry
}

// NewRegistry creates an empty tracker registry.
func NewRegistry() *Registry {
	return &Registry{trackers: make(map[string]*entry)}
}

// Create registers a tracker for a newly issued outbound action. It fails
// with ErrDuplicateTracker if the call uuid is already live.
func (r *Registry) Create(callUUID, conversationUUID, to, from string, awaitingResult bool) (Tracker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.trackers[callUUID]; exists {
		return Tracker{}, ErrDuplicateTracker
	}

	e := &entry{tracker: Tracker{
		CallUUID:         callUUID,
		ConversationUUID: conversationUUID,
		To:               to,
		From:             from,
		CreatedAt:        time.Now().UTC(),
		Status:           StatusInitiated,
		StatusSent:       make(map[string]bool),
		AwaitingResult:   awaitingResult,
	}}
	r.trackers[callUUID] = e
	return e.tracker.clone(), nil
}

// Get returns a snapshot of the tracker for callUUID, or ErrNotFound.
func (r *Registry) Get(callUUID string) (Tracker, error) {
	r.mu.RLock()
	e, ok := r.trackers[callUUID]
	r.mu.RUnlock()
	if !ok {
		return Tracker{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tracker.clone(), nil
}

// Mutate applies fn to the tracker for callUUID under that tracker's lock.
// Other trackers are untouched and make progress concurrently.
func (r *Registry) Mutate(callUUID string, fn func(*Tracker)) error {
	r.mu.RLock()
	e, ok := r.trackers[callUUID]
	r.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.tracker)
	return nil
}

// ListAll returns a snapshot of every live tracker.
func (r *Registry) ListAll() []Tracker {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.trackers))
	for _, e := range r.trackers {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]Tracker, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		out = append(out, e.tracker.clone())
		e.mu.Unlock()
	}
	return out
}

// EvictOlderThan removes every tracker older than retention and returns the
// evicted call uuids. Correlation loops tolerate their tracker disappearing;
// eviction is an advisory stop signal, not a forced cancellation.
func (r *Registry) EvictOlderThan(retention time.Duration) []string {
	cutoff := time.Now().UTC().Add(-retention)

	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []string
	for uuid, e := range r.trackers {
		if e.tracker.CreatedAt.Before(cutoff) {
			delete(r.trackers, uuid)
			evicted = append(evicted, uuid)
		}
	}
	return evicted
}
