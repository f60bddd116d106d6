package correlation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bizmatters/telephony-correlator/internal/events"
	"github.com/bizmatters/telephony-correlator/internal/tracking"
)

var tracer = otel.Tracer("correlation")

const (
	// DefaultPollInterval is the cadence of the event-store scan.
	DefaultPollInterval = 5 * time.Second
	// DefaultMaxAttempts bounds the poll loop (~5 minutes at the default
	// interval).
	DefaultMaxAttempts = 60
)

// statusMessages maps raw provider status strings to the human-readable
// progress messages recorded in a tracker's history.
var statusMessages = map[string]string{
	"initiated": "Call initiated.",
	"started":   "Call started.",
	"ringing":   "Phone is ringing.",
	"answered":  "Call was answered.",
	"completed": "Call completed successfully.",
	"complete":  "Call completed successfully.",
	"failed":    "Call failed.",
	"rejected":  "Call was rejected.",
	"busy":      "Line was busy.",
	"timeout":   "Call timed out (no answer).",
}

// statusRank orders statuses along the call lifecycle. A status only ever
// advances the tracker; a late-arriving earlier status extends the history
// but cannot move the tracker backwards. Terminal statuses share the top
// rank so none of them replaces another.
var statusRank = map[tracking.Status]int{
	tracking.StatusInitiated: 1,
	tracking.StatusRinging:   2,
	tracking.StatusStarted:   3,
	tracking.StatusAnswered:  4,
	tracking.StatusCompleted: 5,
	tracking.StatusFailed:    5,
	tracking.StatusRejected:  5,
	tracking.StatusBusy:      5,
	tracking.StatusTimeout:   5,
}

// statusValues maps raw provider status strings to tracker statuses. Raw
// strings without a mapping (e.g. transfer substates) update the history but
// leave the tracker status alone.
var statusValues = map[string]tracking.Status{
	"initiated": tracking.StatusInitiated,
	"started":   tracking.StatusStarted,
	"ringing":   tracking.StatusRinging,
	"answered":  tracking.StatusAnswered,
	"completed": tracking.StatusCompleted,
	"complete":  tracking.StatusCompleted,
	"failed":    tracking.StatusFailed,
	"rejected":  tracking.StatusRejected,
	"busy":      tracking.StatusBusy,
	"timeout":   tracking.StatusTimeout,
}

// Correlator matches callback events to trackers and drives each tracker's
// state machine.
type Correlator struct {
	store    *events.Store
	registry *tracking.Registry
	tracer   trace.Tracer

	// PollInterval and MaxAttempts bound the tracking loop; WaitInterval
	// is the cadence of the blocking-wait primitives.
	PollInterval time.Duration
	MaxAttempts  int
	WaitInterval time.Duration
}

// New creates a correlator over the given store and registry.
func New(store *events.Store, registry *tracking.Registry) *Correlator {
	return &Correlator{
		store:        store,
		registry:     registry,
		tracer:       tracer,
		PollInterval: DefaultPollInterval,
		MaxAttempts:  DefaultMaxAttempts,
		WaitInterval: DefaultWaitInterval,
	}
}

// Track polls the event store for events correlated to callUUID until the
// tracker reaches a terminal status, the attempt budget is exhausted, or ctx
// is cancelled. Progress is reported through sink; sink failures are logged
// and swallowed. A tracker evicted mid-loop stops the loop quietly.
func (c *Correlator) Track(ctx context.Context, callUUID string, sink Sink) {
	ctx, span := c.tracer.Start(ctx, "correlation.track")
	defer span.End()
	span.SetAttributes(attribute.String("call.uuid", callUUID))

	seen := make(map[string]bool)

	for attempt := 1; attempt <= c.MaxAttempts; attempt++ {
		terminal, err := c.PollOnce(ctx, callUUID, seen, sink)
		if err != nil {
			if errors.Is(err, tracking.ErrNotFound) {
				// Evicted by the reaper; treat as cancellation.
				log.Printf(`{"level":"info","message":"Tracker evicted, stopping correlation","call_uuid":"%s"}`, callUUID)
				return
			}
			span.RecordError(err)
			log.Printf(`{"level":"warn","message":"Poll cycle failed","call_uuid":"%s","error":"%v"}`, callUUID, err)
		}
		if terminal {
			span.SetAttributes(attribute.Int("correlation.attempts", attempt))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.PollInterval):
		}
	}

	// Attempt budget exhausted without a terminal status. Report once and
	// leave the tracker as-is.
	c.notify(ctx, sink, callUUID, "Call tracking timed out; no terminal status received.")
}

// PollOnce runs a single correlation cycle for callUUID: scan events
// newest-first, apply matches to the tracker, notify progress. The seen set
// carries event ids already consumed for result capture across cycles, so
// re-ingesting an event never duplicates its result. It returns true once
// the tracker is terminal.
func (c *Correlator) PollOnce(ctx context.Context, callUUID string, seen map[string]bool, sink Sink) (bool, error) {
	trk, err := c.registry.Get(callUUID)
	if err != nil {
		return false, err
	}

	snapshot := c.store.Snapshot()
	// Scan newest-first, then apply oldest-first: when several statuses land
	// within one cycle they replay in chronological order, so the history
	// reads in call order and the final status is the latest one.
	var matched []events.Event
	for i := len(snapshot) - 1; i >= 0; i-- {
		if matches(snapshot[i].Body, trk) {
			matched = append(matched, snapshot[i])
		}
	}

	for i := len(matched) - 1; i >= 0; i-- {
		evt := matched[i]

		c.adoptConversationUUID(callUUID, &trk, evt.Body)

		if result, ok := events.FirstSpeechResult(evt.Body); ok && trk.AwaitingResult && !seen[evt.ID] {
			seen[evt.ID] = true
			if err := c.captureResult(callUUID, &trk, result); err != nil {
				return false, err
			}
			c.notify(ctx, sink, callUUID, fmt.Sprintf("Speech recognized: %q (confidence %.2f)", result.Text, result.Confidence))
		}

		rawStatus, _ := evt.Body["status"].(string)
		if rawStatus == "" || trk.StatusSent[rawStatus] {
			continue
		}
		message, err := c.applyStatus(callUUID, &trk, rawStatus)
		if err != nil {
			return false, err
		}
		c.notify(ctx, sink, callUUID, message)
	}

	return trk.Terminal(), nil
}

// matches reports whether an event body correlates with the tracker. A
// primary-id match is authoritative; the conversation-level match is only a
// fallback for events that carry no primary id at all.
func matches(body map[string]any, trk tracking.Tracker) bool {
	if uuid, ok := body["uuid"].(string); ok && uuid != "" {
		return uuid == trk.CallUUID
	}
	if trk.ConversationUUID == "" {
		return false
	}
	conversationUUID, _ := body["conversation_uuid"].(string)
	return conversationUUID == trk.ConversationUUID
}

// adoptConversationUUID backfills the tracker's secondary id from a matched
// event when the call-creation response did not carry one.
func (c *Correlator) adoptConversationUUID(callUUID string, trk *tracking.Tracker, body map[string]any) {
	if trk.ConversationUUID != "" {
		return
	}
	conversationUUID, _ := body["conversation_uuid"].(string)
	if conversationUUID == "" {
		return
	}
	trk.ConversationUUID = conversationUUID
	_ = c.registry.Mutate(callUUID, func(t *tracking.Tracker) {
		if t.ConversationUUID == "" {
			t.ConversationUUID = conversationUUID
		}
	})
}

func (c *Correlator) captureResult(callUUID string, trk *tracking.Tracker, result events.SpeechResult) error {
	captured := tracking.Result{Text: result.Text, Confidence: result.Confidence}
	trk.Result = &captured
	return c.registry.Mutate(callUUID, func(t *tracking.Tracker) {
		t.Result = &tracking.Result{Text: result.Text, Confidence: result.Confidence}
		t.StatusHistory = append(t.StatusHistory, fmt.Sprintf("Speech recognized: %q", result.Text))
	})
}

// applyStatus records a not-yet-seen raw status on the tracker and returns
// the progress message to notify. The tracker status only advances along the
// lifecycle; a status that ranks at or below the current one extends the
// history without touching the status.
func (c *Correlator) applyStatus(callUUID string, trk *tracking.Tracker, rawStatus string) (string, error) {
	message, ok := statusMessages[rawStatus]
	if !ok {
		message = fmt.Sprintf("Call status: %s.", rawStatus)
	}

	trk.StatusSent[rawStatus] = true
	err := c.registry.Mutate(callUUID, func(t *tracking.Tracker) {
		if t.StatusSent[rawStatus] {
			return
		}
		t.StatusSent[rawStatus] = true
		t.StatusHistory = append(t.StatusHistory, message)
		if status, mapped := statusValues[rawStatus]; mapped && statusRank[status] > statusRank[t.Status] {
			t.Status = status
		}
	})
	if err != nil {
		return "", err
	}

	if status, mapped := statusValues[rawStatus]; mapped && statusRank[status] > statusRank[trk.Status] {
		trk.Status = status
	}
	return message, nil
}

func (c *Correlator) notify(ctx context.Context, sink Sink, callUUID, message string) {
	if sink == nil {
		return
	}
	if err := sink.Notify(ctx, message); err != nil {
		log.Printf(`{"level":"warn","message":"Progress sink failed","call_uuid":"%s","error":"%v"}`, callUUID, err)
	}
}
