package telephony

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/bizmatters/telephony-correlator/internal/config"
	"github.com/bizmatters/telephony-correlator/internal/correlation"
	"github.com/bizmatters/telephony-correlator/internal/metrics"
	"github.com/bizmatters/telephony-correlator/internal/tracking"
	"github.com/bizmatters/telephony-correlator/internal/vonage"
)

// DefaultWait is the wait budget for with-input operations when the caller
// does not supply one.
const DefaultWait = 60 * time.Second

// ErrNotConfigured reports missing credentials or addresses; the operation
// was never attempted.
var ErrNotConfigured = errors.New("vonage credentials are not fully configured")

// Service exposes the tool-level telephony operations: initiate calls, send
// messages, and correlate their callback events.
type Service struct {
	cfg        *config.Config
	client     vonage.ClientInterface
	registry   *tracking.Registry
	correlator *correlation.Correlator
	hub        *correlation.Hub
	metrics    *metrics.CallMetrics
}

// NewService creates a telephony service.
func NewService(cfg *config.Config, client vonage.ClientInterface, registry *tracking.Registry, correlator *correlation.Correlator, hub *correlation.Hub, callMetrics *metrics.CallMetrics) *Service {
	return &Service{
		cfg:        cfg,
		client:     client,
		registry:   registry,
		correlator: correlator,
		hub:        hub,
		metrics:    callMetrics,
	}
}

// CallSummary is the tracker state reported to callers.
type CallSummary struct {
	CallUUID         string           `json:"call_uuid"`
	ConversationUUID string           `json:"conversation_uuid,omitempty"`
	To               string           `json:"to"`
	From             string           `json:"from"`
	Status           tracking.Status  `json:"status"`
	StatusHistory    []string         `json:"status_history"`
	Result           *tracking.Result `json:"result,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// InputOutcome is the result of a call that waited for speech input.
type InputOutcome struct {
	CallUUID   string  `json:"call_uuid"`
	TimedOut   bool    `json:"timed_out"`
	Text       string  `json:"text,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Summary    string  `json:"summary"`
}

// ReplyOutcome is the result of a message that waited for a reply.
type ReplyOutcome struct {
	TimedOut bool   `json:"timed_out"`
	Reply    string `json:"reply,omitempty"`
	Summary  string `json:"summary"`
}

func (s *Service) resolveFrom(from string) (string, error) {
	if from != "" {
		return from, nil
	}
	if s.cfg.VonageLVN == "" {
		return "", fmt.Errorf("%w: source number is not provided and VONAGE_LVN is not set", ErrNotConfigured)
	}
	return s.cfg.VonageLVN, nil
}

// startCall creates the call, registers its tracker, and spawns the
// correlation loop. The loop runs detached from the request context; its
// lifetime is bounded by the correlator's attempt budget.
func (s *Service) startCall(ctx context.Context, to, from, message string, speechInput bool) (tracking.Tracker, error) {
	resp, err := s.client.CreateCall(ctx, vonage.CallRequest{
		To:          to,
		From:        from,
		Message:     message,
		SpeechInput: speechInput,
	})
	if err != nil {
		return tracking.Tracker{}, err
	}

	trk, err := s.registry.Create(resp.UUID, resp.ConversationUUID, to, from, speechInput)
	if err != nil {
		return tracking.Tracker{}, fmt.Errorf("failed to register tracker: %w", err)
	}

	s.metrics.RecordCallInitiated(ctx, speechInput)
	log.Printf(`{"level":"info","message":"Voice call initiated","call_uuid":"%s","conversation_uuid":"%s","to":"%s"}`,
		resp.UUID, resp.ConversationUUID, to)

	sink := correlation.StreamSink{Hub: s.hub, CallUUID: resp.UUID}
	go s.correlator.Track(context.WithoutCancel(ctx), resp.UUID, sink)

	return trk, nil
}

// InitiateCall makes a voice call that speaks message to the callee and
// returns the new tracker's summary.
func (s *Service) InitiateCall(ctx context.Context, to, from, message string) (*CallSummary, error) {
	if !s.cfg.VoiceConfigured() {
		return nil, ErrNotConfigured
	}
	from, err := s.resolveFrom(from)
	if err != nil {
		return nil, err
	}

	trk, err := s.startCall(ctx, to, from, message, false)
	if err != nil {
		return nil, err
	}
	return summarize(trk), nil
}

// InitiateCallWithInput makes a voice call that speaks prompt, captures the
// callee's spoken answer, and blocks up to wait for the recognized text.
func (s *Service) InitiateCallWithInput(ctx context.Context, to, from, prompt string, wait time.Duration) (*InputOutcome, error) {
	if !s.cfg.VoiceConfigured() {
		return nil, ErrNotConfigured
	}
	from, err := s.resolveFrom(from)
	if err != nil {
		return nil, err
	}
	if wait <= 0 {
		wait = DefaultWait
	}

	trk, err := s.startCall(ctx, to, from, prompt, true)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	result, err := s.correlator.AwaitSpeechResult(ctx, trk.CallUUID, wait)
	s.metrics.RecordWait(ctx, "speech", time.Since(started), errors.Is(err, correlation.ErrTimeout))

	switch {
	case err == nil:
		return &InputOutcome{
			CallUUID:   trk.CallUUID,
			Text:       result.Text,
			Confidence: result.Confidence,
			Summary:    fmt.Sprintf("Call to %s answered with: %q", to, result.Text),
		}, nil
	case errors.Is(err, correlation.ErrTimeout):
		return &InputOutcome{
			CallUUID: trk.CallUUID,
			TimedOut: true,
			Summary:  fmt.Sprintf("No input received from %s within %s.", to, wait),
		}, nil
	default:
		return nil, err
	}
}

// SendMessage sends an SMS and reports the outcome.
func (s *Service) SendMessage(ctx context.Context, to, from, text string) (string, error) {
	if !s.cfg.SMSConfigured() {
		return "", ErrNotConfigured
	}
	from, err := s.resolveFrom(from)
	if err != nil {
		return "", err
	}

	if err := s.client.SendSMS(ctx, vonage.SMSRequest{To: to, From: from, Text: text}); err != nil {
		return "", err
	}

	s.metrics.RecordSMSSent(ctx)
	log.Printf(`{"level":"info","message":"SMS sent","to":"%s"}`, to)
	return fmt.Sprintf("SMS sent to %s.", to), nil
}

// SendMessageWithInput sends an SMS and blocks up to wait for a reply from
// the destination address.
func (s *Service) SendMessageWithInput(ctx context.Context, to, from, text string, wait time.Duration) (*ReplyOutcome, error) {
	if _, err := s.SendMessage(ctx, to, from, text); err != nil {
		return nil, err
	}
	if wait <= 0 {
		wait = DefaultWait
	}

	started := time.Now()
	reply, err := s.correlator.AwaitInboundReply(ctx, to, wait)
	s.metrics.RecordWait(ctx, "reply", time.Since(started), errors.Is(err, correlation.ErrTimeout))

	switch {
	case err == nil:
		return &ReplyOutcome{
			Reply:   reply,
			Summary: fmt.Sprintf("%s replied: %q", to, reply),
		}, nil
	case errors.Is(err, correlation.ErrTimeout):
		return &ReplyOutcome{
			TimedOut: true,
			Summary:  fmt.Sprintf("No reply received from %s within %s.", to, wait),
		}, nil
	default:
		return nil, err
	}
}

// CheckStatus returns the summary for one tracker.
func (s *Service) CheckStatus(ctx context.Context, callUUID string) (*CallSummary, error) {
	trk, err := s.registry.Get(callUUID)
	if err != nil {
		return nil, err
	}
	return summarize(trk), nil
}

// ListStatuses returns summaries for every live tracker.
func (s *Service) ListStatuses(ctx context.Context) []CallSummary {
	trackers := s.registry.ListAll()
	out := make([]CallSummary, 0, len(trackers))
	for _, trk := range trackers {
		out = append(out, *summarize(trk))
	}
	return out
}

func summarize(trk tracking.Tracker) *CallSummary {
	return &CallSummary{
		CallUUID:         trk.CallUUID,
		ConversationUUID: trk.ConversationUUID,
		To:               trk.To,
		From:             trk.From,
		Status:           trk.Status,
		StatusHistory:    trk.StatusHistory,
		Result:           trk.Result,
		CreatedAt:        trk.CreatedAt,
	}
}
