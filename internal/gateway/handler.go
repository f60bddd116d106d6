package gateway

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/bizmatters/telephony-correlator/internal/events"
	"github.com/bizmatters/telephony-correlator/internal/metrics"
	"github.com/bizmatters/telephony-correlator/internal/telephony"
	"github.com/bizmatters/telephony-correlator/internal/tracking"
)

// Handler handles HTTP requests for the callback/ingress surface.
type Handler struct {
	store   *events.Store
	service *telephony.Service
	metrics *metrics.CallMetrics
}

// NewHandler creates a new gateway handler.
func NewHandler(store *events.Store, service *telephony.Service, callMetrics *metrics.CallMetrics) *Handler {
	return &Handler{
		store:   store,
		service: service,
		metrics: callMetrics,
	}
}

// Health handles GET / as a health check.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "Telephony Callback Server"})
}

// ReceiveEvent handles POST /event, the webhook the provider calls with
// voice and message notifications. It always stores something: malformed
// bodies get a parse_error marker, and an unexpected internal failure is
// stored as an error record before the 500 response goes out.
func (h *Handler) ReceiveEvent(c *gin.Context) {
	defer func() {
		if r := recover(); r != nil {
			details := map[string]any{
				"error":     toErrorString(r),
				"traceback": string(debug.Stack()),
				"url":       c.Request.URL.String(),
				"method":    c.Request.Method,
				"headers":   flattenHeaders(c.Request.Header),
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			}
			h.store.AppendError(details)
			log.Printf(`{"level":"error","message":"Error processing callback event","error":"%v"}`, r)
			c.JSON(http.StatusInternalServerError, details)
		}
	}()

	rawBody, err := io.ReadAll(c.Request.Body)
	if err != nil {
		panic(err)
	}

	body := events.ParseBody(rawBody)
	_, parseError := body["parse_error"]
	if parseError {
		log.Printf(`{"level":"error","message":"Failed to parse callback body","raw":%q}`, string(rawBody))
	}
	if result, ok := events.FirstSpeechResult(body); ok {
		log.Printf(`{"level":"info","message":"Speech recognition event received","text":%q,"confidence":%v,"conversation_uuid":"%v"}`,
			result.Text, result.Confidence, body["conversation_uuid"])
	}

	id := h.store.AppendBody(
		c.Request.URL.String(),
		c.Request.Method,
		flattenHeaders(c.Request.Header),
		flattenQuery(c.Request.URL.Query()),
		body,
	)
	h.metrics.RecordEventReceived(c.Request.Context(), parseError)

	log.Printf(`{"level":"info","message":"Received callback event","event_id":"%s"}`, id)
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Event received"})
}

// ListEvents handles GET /events?limit&skip.
func (h *Handler) ListEvents(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil {
		limit = 100
	}
	skip, err := strconv.Atoi(c.DefaultQuery("skip", "0"))
	if err != nil {
		skip = 0
	}

	total, page := h.store.List(limit, skip)
	if page == nil {
		page = []events.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"count": total, "events": page})
}

// GetEvent handles GET /events/:id.
func (h *Handler) GetEvent(c *gin.Context) {
	id := c.Param("id")
	evt, err := h.store.Get(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Event with ID " + id + " not found"})
		return
	}
	c.JSON(http.StatusOK, evt)
}

// ListSpeechEvents handles GET /event, the derived speech-only view.
func (h *Handler) ListSpeechEvents(c *gin.Context) {
	speechEvents := h.store.ListSpeechEvents()
	if speechEvents == nil {
		speechEvents = []events.SpeechEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(speechEvents), "speech_events": speechEvents})
}

// ClearEvents handles DELETE /events.
func (h *Handler) ClearEvents(c *gin.Context) {
	cleared := h.store.Clear()
	c.JSON(http.StatusOK, gin.H{"status": "success", "cleared": cleared})
}

// ListCalls handles GET /calls, returning every live tracker's summary.
func (h *Handler) ListCalls(c *gin.Context) {
	summaries := h.service.ListStatuses(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"count": len(summaries), "calls": summaries})
}

// GetCall handles GET /calls/:uuid.
func (h *Handler) GetCall(c *gin.Context) {
	callUUID := c.Param("uuid")
	summary, err := h.service.CheckStatus(c.Request.Context(), callUUID)
	if err != nil {
		if errors.Is(err, tracking.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "No tracker found for call " + callUUID})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

func flattenHeaders(headers http.Header) map[string]string {
	out := make(map[string]string, len(headers))
	for key, values := range headers {
		if len(values) > 0 {
			out[key] = values[0]
		}
	}
	return out
}

func flattenQuery(query map[string][]string) map[string]string {
	out := make(map[string]string, len(query))
	for key, values := range query {
		if len(values) > 0 {
			out[key] = values[0]
		}
	}
	return out
}

func toErrorString(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	if s, ok := r.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", r)
}
