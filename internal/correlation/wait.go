package correlation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/bizmatters/telephony-correlator/internal/events"
	"github.com/bizmatters/telephony-correlator/internal/tracking"
)

// ErrTimeout is returned when a wait budget is exhausted before any matching
// event arrives. It is an expected outcome, not a failure.
var ErrTimeout = errors.New("wait budget exhausted")

// DefaultWaitInterval is the cadence of the blocking-wait poll loops.
const DefaultWaitInterval = time.Second

// AwaitSpeechResult blocks until a recognized-speech result is correlated to
// the tracker for callUUID, or maxWait elapses. It returns as soon as a
// match is found, never waiting out the remaining budget. On timeout it
// returns ErrTimeout.
func (c *Correlator) AwaitSpeechResult(ctx context.Context, callUUID string, maxWait time.Duration) (tracking.Result, error) {
	ctx, span := c.tracer.Start(ctx, "correlation.await_speech_result")
	defer span.End()
	span.SetAttributes(
		attribute.String("call.uuid", callUUID),
		attribute.Float64("wait.budget_seconds", maxWait.Seconds()),
	)

	deadline := time.Now().Add(maxWait)
	seen := make(map[string]bool)

	for {
		trk, err := c.registry.Get(callUUID)
		if err != nil {
			return tracking.Result{}, err
		}

		// Fast path: the correlator already captured a result.
		if trk.Result != nil {
			return *trk.Result, nil
		}

		// Derived-view lookup by conversation uuid.
		if trk.ConversationUUID != "" {
			for _, se := range c.store.ListSpeechEvents() {
				if se.ConversationUUID != trk.ConversationUUID || seen[se.ID] {
					continue
				}
				seen[se.ID] = true
				result := tracking.Result{Text: se.Text, Confidence: se.Confidence}
				if err := c.recordSpeechResult(callUUID, result); err != nil {
					return tracking.Result{}, err
				}
				return result, nil
			}
		}

		// Fallback: full scan newest-first on the secondary id.
		if result, ok := c.scanForSpeech(trk.ConversationUUID, seen); ok {
			if err := c.recordSpeechResult(callUUID, result); err != nil {
				return tracking.Result{}, err
			}
			return result, nil
		}

		if time.Now().After(deadline) {
			span.SetAttributes(attribute.Bool("wait.timed_out", true))
			return tracking.Result{}, ErrTimeout
		}

		select {
		case <-ctx.Done():
			return tracking.Result{}, ctx.Err()
		case <-time.After(c.WaitInterval):
		}
	}
}

// scanForSpeech scans the whole store newest-first for a speech event on the
// given conversation uuid, skipping event ids already in seen.
func (c *Correlator) scanForSpeech(conversationUUID string, seen map[string]bool) (tracking.Result, bool) {
	if conversationUUID == "" {
		return tracking.Result{}, false
	}
	snapshot := c.store.Snapshot()
	for i := len(snapshot) - 1; i >= 0; i-- {
		evt := snapshot[i]
		if seen[evt.ID] {
			continue
		}
		eventConversation, _ := evt.Body["conversation_uuid"].(string)
		if eventConversation != conversationUUID {
			continue
		}
		result, ok := events.FirstSpeechResult(evt.Body)
		if !ok {
			continue
		}
		seen[evt.ID] = true
		return tracking.Result{Text: result.Text, Confidence: result.Confidence}, true
	}
	return tracking.Result{}, false
}

func (c *Correlator) recordSpeechResult(callUUID string, result tracking.Result) error {
	return c.registry.Mutate(callUUID, func(t *tracking.Tracker) {
		if t.Result == nil {
			r := result
			t.Result = &r
			t.StatusHistory = append(t.StatusHistory, fmt.Sprintf("Speech recognized: %q", result.Text))
		}
	})
}

// AwaitInboundReply blocks until an inbound message from the given address
// arrives, or maxWait elapses. Each call keeps its own seen set so a stale
// reply is never returned twice. It matches on the sender address rather
// than a conversation id; inbound SMS webhooks carry no call correlation
// keys.
func (c *Correlator) AwaitInboundReply(ctx context.Context, fromAddress string, maxWait time.Duration) (string, error) {
	ctx, span := c.tracer.Start(ctx, "correlation.await_inbound_reply")
	defer span.End()
	span.SetAttributes(
		attribute.String("reply.from", fromAddress),
		attribute.Float64("wait.budget_seconds", maxWait.Seconds()),
	)

	deadline := time.Now().Add(maxWait)
	seen := make(map[string]bool)

	for {
		snapshot := c.store.Snapshot()
		for i := len(snapshot) - 1; i >= 0; i-- {
			evt := snapshot[i]
			if seen[evt.ID] {
				continue
			}
			sender, _ := evt.Body["msisdn"].(string)
			if sender != fromAddress {
				continue
			}
			text, ok := evt.Body["text"].(string)
			if !ok || text == "" {
				continue
			}
			seen[evt.ID] = true
			return text, nil
		}

		if time.Now().After(deadline) {
			span.SetAttributes(attribute.Bool("wait.timed_out", true))
			return "", ErrTimeout
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(c.WaitInterval):
		}
	}
}
