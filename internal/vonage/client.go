package vonage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("vonage-client")

// TokenSource supplies a bearer credential for the Voice API. The auth
// package's JWTManager satisfies it.
type TokenSource interface {
	GenerateToken(ctx context.Context) (string, error)
}

// ClientInterface defines the outbound Vonage operations the service layer
// consumes.
type ClientInterface interface {
	CreateCall(ctx context.Context, req CallRequest) (*CallResponse, error)
	SendSMS(ctx context.Context, req SMSRequest) error
}

// Client talks to the Vonage Voice and SMS APIs.
type Client struct {
	voiceURL    string
	smsURL      string
	apiKey      string
	apiSecret   string
	callbackURL string
	tokens      TokenSource
	httpClient  *http.Client
	tracer      trace.Tracer
	breaker     *gobreaker.CircuitBreaker
}

// NCCOAction is one entry of a Nexmo Call Control Object.
type NCCOAction map[string]any

// CallRequest describes an outbound voice call.
type CallRequest struct {
	To      string
	From    string
	Message string
	// SpeechInput adds a speech-capture action after the talk action, so
	// the callee's answer is reported back as a speech event.
	SpeechInput bool
}

// CallResponse is the Voice API's creation response.
type CallResponse struct {
	UUID             string `json:"uuid"`
	ConversationUUID string `json:"conversation_uuid"`
	Status           string `json:"status"`
	Direction        string `json:"direction"`
}

// SMSRequest describes an outbound text message.
type SMSRequest struct {
	To   string
	From string
	Text string
}

type smsResponse struct {
	Messages []struct {
		Status    string `json:"status"`
		ErrorText string `json:"error-text"`
	} `json:"messages"`
}

// NewClient creates a Vonage client. callbackURL is this service's public
// base URL; every outbound call registers <callbackURL>/event as its webhook
// so the correlation engine has events to consume.
func NewClient(voiceURL, smsURL, apiKey, apiSecret, callbackURL string, tokens TokenSource) *Client {
	settings := gobreaker.Settings{
		Name:        "vonage-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s changed from %s to %s", name, from, to)
		},
	}

	return &Client{
		voiceURL:    voiceURL,
		smsURL:      smsURL,
		apiKey:      apiKey,
		apiSecret:   apiSecret,
		callbackURL: callbackURL,
		tokens:      tokens,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		tracer:  tracer,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// SetURLs overrides the API endpoints for testing purposes.
func (c *Client) SetURLs(voiceURL, smsURL string) {
	c.voiceURL = voiceURL
	c.smsURL = smsURL
}

// CreateCall initiates an outbound voice call and returns the provider's
// correlation ids.
func (c *Client) CreateCall(ctx context.Context, req CallRequest) (*CallResponse, error) {
	ctx, span := c.tracer.Start(ctx, "vonage.create_call")
	defer span.End()

	span.SetAttributes(
		attribute.String("call.to", req.To),
		attribute.String("call.from", req.From),
	)

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.createCallInternal(ctx, req)
	})
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to create call: %w", err)
	}

	resp := result.(*CallResponse)
	span.SetAttributes(
		attribute.String("call.uuid", resp.UUID),
		attribute.String("call.conversation_uuid", resp.ConversationUUID),
	)
	return resp, nil
}

func (c *Client) createCallInternal(ctx context.Context, req CallRequest) (*CallResponse, error) {
	token, err := c.tokens.GenerateToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to generate bearer token: %w", err)
	}

	ncco := []NCCOAction{
		{
			"action":   "talk",
			"text":     req.Message,
			"language": "en-GB",
			"style":    0,
			"premium":  false,
		},
	}
	if req.SpeechInput {
		ncco = append(ncco, NCCOAction{
			"action":   "input",
			"type":     []string{"speech"},
			"eventUrl": []string{c.callbackURL + "/event"},
			"speech": map[string]any{
				"endOnSilence": 1,
				"language":     "en-GB",
			},
		})
	}

	payload := map[string]any{
		"to":           []map[string]string{{"type": "phone", "number": req.To}},
		"from":         map[string]string{"type": "phone", "number": req.From},
		"event_method": "POST",
		"event_url":    []string{c.callbackURL + "/event"},
		"ncco":         ncco,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.voiceURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		bodyBytes, _ := io.ReadAll(resp.Body)
		log.Printf(`{"level":"error","message":"Voice API error","status":%d,"url":"%s","request":%s,"response":%q}`,
			resp.StatusCode, c.voiceURL, string(jsonData), string(bodyBytes))
		return nil, fmt.Errorf("voice API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var callResp CallResponse
	if err := json.NewDecoder(resp.Body).Decode(&callResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &callResp, nil
}

// SendSMS sends a text message. A nil error means the provider accepted the
// message for delivery.
func (c *Client) SendSMS(ctx context.Context, req SMSRequest) error {
	ctx, span := c.tracer.Start(ctx, "vonage.send_sms")
	defer span.End()

	span.SetAttributes(
		attribute.String("sms.to", req.To),
		attribute.String("sms.from", req.From),
	)

	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.sendSMSInternal(ctx, req)
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to send SMS: %w", err)
	}
	return nil
}

func (c *Client) sendSMSInternal(ctx context.Context, req SMSRequest) error {
	form := url.Values{}
	form.Set("api_key", c.apiKey)
	form.Set("api_secret", c.apiSecret)
	form.Set("to", req.To)
	form.Set("from", req.From)
	form.Set("text", req.Text)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.smsURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		log.Printf(`{"level":"error","message":"SMS API error","status":%d,"url":"%s","response":%q}`,
			resp.StatusCode, c.smsURL, string(bodyBytes))
		return fmt.Errorf("SMS API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var smsResp smsResponse
	if err := json.NewDecoder(resp.Body).Decode(&smsResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if len(smsResp.Messages) == 0 {
		return fmt.Errorf("SMS API returned no message status")
	}
	if smsResp.Messages[0].Status != "0" {
		errorText := smsResp.Messages[0].ErrorText
		if errorText == "" {
			errorText = "Unknown error"
		}
		return fmt.Errorf("SMS rejected: %s", errorText)
	}
	return nil
}
