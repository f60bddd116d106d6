package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
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

type noopClient struct{}

func (noopClient) CreateCall(context.Context, vonage.CallRequest) (*vonage.CallResponse, error) {
	return &vonage.CallResponse{UUID: "call-1", ConversationUUID: "conv-1"}, nil
}

func (noopClient) SendSMS(context.Context, vonage.SMSRequest) error { return nil }

func newTestRouter(t *testing.T) (*gin.Engine, *events.Store, *tracking.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := events.NewStore()
	registry := tracking.NewRegistry()
	correlator := correlation.New(store, registry)
	hub := correlation.NewHub()

	callMetrics, err := metrics.NewCallMetrics()
	require.NoError(t, err)

	cfg := &config.Config{VonageLVN: "447700900001"}
	service := telephony.NewService(cfg, noopClient{}, registry, correlator, hub, callMetrics)
	handler := NewHandler(store, service, callMetrics)

	router := gin.New()
	router.GET("/", handler.Health)
	router.POST("/event", handler.ReceiveEvent)
	router.GET("/event", handler.ListSpeechEvents)
	router.GET("/events", handler.ListEvents)
	router.GET("/events/:id", handler.GetEvent)
	router.DELETE("/events", handler.ClearEvents)
	router.GET("/calls", handler.ListCalls)
	router.GET("/calls/:uuid", handler.GetCall)
	return router, store, registry
}

func perform(router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHandler_Health(t *testing.T) {
	router, _, _ := newTestRouter(t)

	w := perform(router, "GET", "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", decode(t, w)["status"])
}

func TestHandler_ReceiveEvent(t *testing.T) {
	t.Run("valid body is stored and acknowledged", func(t *testing.T) {
		router, store, _ := newTestRouter(t)

		w := perform(router, "POST", "/event", `{"uuid":"C1","status":"ringing"}`)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "success", decode(t, w)["status"])

		total, page := store.List(100, 0)
		require.Equal(t, 1, total)
		assert.Equal(t, "C1", page[0].Body["uuid"])
		assert.Equal(t, "POST", page[0].Method)
	})

	t.Run("malformed body still returns 200 and is stored with marker", func(t *testing.T) {
		router, store, _ := newTestRouter(t)

		w := perform(router, "POST", "/event", "definitely not json")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "success", decode(t, w)["status"])

		total, page := store.List(100, 0)
		require.Equal(t, 1, total)
		assert.Equal(t, "definitely not json", page[0].Body["raw"])
		assert.NotEmpty(t, page[0].Body["parse_error"])
	})

	t.Run("headers and query params round-trip", func(t *testing.T) {
		router, store, _ := newTestRouter(t)

		req := httptest.NewRequest("POST", "/event?source=vonage", strings.NewReader(`{"a":1}`))
		req.Header.Set("X-Test-Header", "present")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)

		_, page := store.List(100, 0)
		require.Len(t, page, 1)
		assert.Equal(t, "present", page[0].Headers["X-Test-Header"])
		assert.Equal(t, "vonage", page[0].QueryParams["source"])
	})
}

func TestHandler_ListEvents(t *testing.T) {
	router, store, _ := newTestRouter(t)
	for i := 0; i < 3; i++ {
		store.Append("/event", "POST", nil, nil, []byte(`{}`))
	}

	t.Run("lists all", func(t *testing.T) {
		w := perform(router, "GET", "/events", "")
		assert.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, float64(3), body["count"])
		assert.Len(t, body["events"], 3)
	})

	t.Run("applies limit and skip", func(t *testing.T) {
		w := perform(router, "GET", "/events?limit=1&skip=2", "")
		body := decode(t, w)
		assert.Equal(t, float64(3), body["count"])
		assert.Len(t, body["events"], 1)
	})
}

func TestHandler_GetEvent(t *testing.T) {
	router, store, _ := newTestRouter(t)
	id := store.Append("/event", "POST", nil, nil, []byte(`{"uuid":"C1"}`))

	t.Run("found", func(t *testing.T) {
		w := perform(router, "GET", "/events/"+id, "")
		assert.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, id, body["id"])
	})

	t.Run("not found", func(t *testing.T) {
		w := perform(router, "GET", "/events/evt_404", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandler_ListSpeechEvents(t *testing.T) {
	router, store, _ := newTestRouter(t)
	store.Append("/event", "POST", nil, nil, []byte(`{"uuid":"C1","status":"ringing"}`))
	store.Append("/event", "POST", nil, nil,
		[]byte(`{"conversation_uuid":"CV1","speech":{"results":[{"text":"yes","confidence":0.9}]}}`))

	w := perform(router, "GET", "/event", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(1), body["count"])

	speechEvents := body["speech_events"].([]any)
	require.Len(t, speechEvents, 1)
	first := speechEvents[0].(map[string]any)
	assert.Equal(t, "CV1", first["conversation_uuid"])
	assert.Equal(t, "yes", first["text"])
	assert.Equal(t, 0.9, first["confidence"])
}

func TestHandler_ClearEvents(t *testing.T) {
	router, store, _ := newTestRouter(t)
	for i := 0; i < 5; i++ {
		store.Append("/event", "POST", nil, nil, []byte(`{}`))
	}

	w := perform(router, "DELETE", "/events", "")
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, float64(5), body["cleared"])

	w = perform(router, "GET", "/events", "")
	body = decode(t, w)
	assert.Equal(t, float64(0), body["count"])
	assert.Len(t, body["events"], 0)
}

func TestHandler_Calls(t *testing.T) {
	router, _, registry := newTestRouter(t)
	_, err := registry.Create("call-1", "conv-1", "447700900000", "447700900001", false)
	require.NoError(t, err)

	t.Run("list", func(t *testing.T) {
		w := perform(router, "GET", "/calls", "")
		assert.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, float64(1), body["count"])
	})

	t.Run("single", func(t *testing.T) {
		w := perform(router, "GET", "/calls/call-1", "")
		assert.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "call-1", body["call_uuid"])
	})

	t.Run("missing", func(t *testing.T) {
		w := perform(router, "GET", "/calls/call-404", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}
