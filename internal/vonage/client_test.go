package vonage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticTokens struct{}

func (staticTokens) GenerateToken(context.Context) (string, error) {
	return "test-token", nil
}

func newTestClient(voiceURL, smsURL string) *Client {
	c := NewClient(voiceURL, smsURL, "key", "secret", "http://callback.example.com", staticTokens{})
	return c
}

func TestClient_CreateCall(t *testing.T) {
	tests := []struct {
		name           string
		speechInput    bool
		serverResponse func(t *testing.T, w http.ResponseWriter, r *http.Request)
		expectedError  string
		expectedUUID   string
	}{
		{
			name: "successful_call",
			serverResponse: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "POST", r.Method)
				assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

				var payload map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
				assert.Equal(t, []any{"http://callback.example.com/event"}, payload["event_url"])
				assert.Equal(t, "POST", payload["event_method"])

				ncco := payload["ncco"].([]any)
				require.Len(t, ncco, 1)
				talk := ncco[0].(map[string]any)
				assert.Equal(t, "talk", talk["action"])
				assert.Equal(t, "hello", talk["text"])
				assert.Equal(t, "en-GB", talk["language"])

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusCreated)
				json.NewEncoder(w).Encode(CallResponse{
					UUID:             "call-123",
					ConversationUUID: "conv-456",
					Status:           "started",
				})
			},
			expectedUUID: "call-123",
		},
		{
			name:        "speech_input_adds_input_action",
			speechInput: true,
			serverResponse: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				var payload map[string]any
				require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

				ncco := payload["ncco"].([]any)
				require.Len(t, ncco, 2)
				input := ncco[1].(map[string]any)
				assert.Equal(t, "input", input["action"])
				assert.Equal(t, []any{"speech"}, input["type"])
				assert.Equal(t, []any{"http://callback.example.com/event"}, input["eventUrl"])

				w.WriteHeader(http.StatusCreated)
				json.NewEncoder(w).Encode(CallResponse{UUID: "call-123", ConversationUUID: "conv-456"})
			},
			expectedUUID: "call-123",
		},
		{
			name: "api_error",
			serverResponse: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusUnauthorized)
				w.Write([]byte(`{"title":"Unauthorized"}`))
			},
			expectedError: "voice API returned status 401",
		},
		{
			name: "invalid_json_response",
			serverResponse: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
				w.Write([]byte("not json"))
			},
			expectedError: "failed to decode response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tt.serverResponse(t, w, r)
			}))
			defer server.Close()

			client := newTestClient(server.URL, server.URL)
			resp, err := client.CreateCall(context.Background(), CallRequest{
				To:          "447700900000",
				From:        "447700900001",
				Message:     "hello",
				SpeechInput: tt.speechInput,
			})

			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedUUID, resp.UUID)
			assert.Equal(t, "conv-456", resp.ConversationUUID)
		})
	}
}

func TestClient_SendSMS(t *testing.T) {
	tests := []struct {
		name           string
		serverResponse func(t *testing.T, w http.ResponseWriter, r *http.Request)
		expectedError  string
	}{
		{
			name: "accepted",
			serverResponse: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				require.NoError(t, r.ParseForm())
				assert.Equal(t, "key", r.PostForm.Get("api_key"))
				assert.Equal(t, "secret", r.PostForm.Get("api_secret"))
				assert.Equal(t, "447700900000", r.PostForm.Get("to"))
				assert.Equal(t, "hi there", r.PostForm.Get("text"))

				w.WriteHeader(http.StatusOK)
				w.Write([]byte(`{"messages":[{"status":"0"}]}`))
			},
		},
		{
			name: "rejected_with_error_text",
			serverResponse: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(`{"messages":[{"status":"4","error-text":"Bad Credentials"}]}`))
			},
			expectedError: "SMS rejected: Bad Credentials",
		},
		{
			name: "rejected_without_error_text",
			serverResponse: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(`{"messages":[{"status":"9"}]}`))
			},
			expectedError: "SMS rejected: Unknown error",
		},
		{
			name: "http_error",
			serverResponse: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusInternalServerError)
				w.Write([]byte("boom"))
			},
			expectedError: "SMS API returned status 500",
		},
		{
			name: "empty_messages",
			serverResponse: func(t *testing.T, w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(`{"messages":[]}`))
			},
			expectedError: "no message status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tt.serverResponse(t, w, r)
			}))
			defer server.Close()

			client := newTestClient(server.URL, server.URL)
			err := client.SendSMS(context.Background(), SMSRequest{
				To:   "447700900000",
				From: "447700900001",
				Text: "hi there",
			})

			if tt.expectedError != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.expectedError)
				return
			}
			require.NoError(t, err)
		})
	}
}
