package mcptools

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmatters/telephony-correlator/internal/config"
	"github.com/bizmatters/telephony-correlator/internal/correlation"
	"github.com/bizmatters/telephony-correlator/internal/events"
	"github.com/bizmatters/telephony-correlator/internal/metrics"
	"github.com/bizmatters/telephony-correlator/internal/telephony"
	"github.com/bizmatters/telephony-correlator/internal/tracking"
	"github.com/bizmatters/telephony-correlator/internal/vonage"
)

type stubClient struct {
	smsErr error
}

func (s *stubClient) CreateCall(context.Context, vonage.CallRequest) (*vonage.CallResponse, error) {
	return &vonage.CallResponse{UUID: "call-1", ConversationUUID: "conv-1", Status: "started"}, nil
}

func (s *stubClient) SendSMS(context.Context, vonage.SMSRequest) error { return s.smsErr }

func newTestService(t *testing.T) *telephony.Service {
	t.Helper()
	store := events.NewStore()
	registry := tracking.NewRegistry()
	correlator := correlation.New(store, registry)
	correlator.PollInterval = time.Millisecond
	correlator.WaitInterval = time.Millisecond
	correlator.MaxAttempts = 2

	callMetrics, err := metrics.NewCallMetrics()
	require.NoError(t, err)

	cfg := &config.Config{
		VonageAPIKey:         "key",
		VonageAPISecret:      "secret",
		VonageApplicationID:  "app-id",
		VonagePrivateKeyPath: "/tmp/key.pem",
		VonageLVN:            "447700900001",
	}
	return telephony.NewService(cfg, &stubClient{}, registry, correlator, correlation.NewHub(), callMetrics)
}

func TestNewServer(t *testing.T) {
	server := NewServer(newTestService(t))
	assert.NotNil(t, server)
}

func TestVoiceCallHandler(t *testing.T) {
	svc := newTestService(t)
	handler := VoiceCallHandler(svc)

	_, result, err := handler(context.Background(), nil, VoiceCallInput{To: "447700900000", Message: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "call-1", result.CallUUID)
	assert.Equal(t, "conv-1", result.ConversationUUID)
	assert.Contains(t, result.Summary, "447700900000")
}

func TestSendSMSHandler(t *testing.T) {
	svc := newTestService(t)
	handler := SendSMSHandler(svc)

	_, result, err := handler(context.Background(), nil, SendSMSInput{To: "447700900000", Text: "ping"})
	require.NoError(t, err)
	assert.Contains(t, result.Summary, "447700900000")
}

func TestCallStatusHandler(t *testing.T) {
	svc := newTestService(t)

	t.Run("unknown call errors", func(t *testing.T) {
		_, _, err := CallStatusHandler(svc)(context.Background(), nil, CallStatusInput{CallUUID: "call-404"})
		assert.Error(t, err)
	})

	t.Run("lists tracked calls", func(t *testing.T) {
		_, err := svc.InitiateCall(context.Background(), "447700900000", "", "hello")
		require.NoError(t, err)

		_, result, err := CallStatusHandler(svc)(context.Background(), nil, CallStatusInput{})
		require.NoError(t, err)
		require.Len(t, result.Calls, 1)
		assert.Equal(t, "call-1", result.Calls[0].CallUUID)

		_, single, err := CallStatusHandler(svc)(context.Background(), nil, CallStatusInput{CallUUID: "call-1"})
		require.NoError(t, err)
		require.Len(t, single.Calls, 1)
	})
}
