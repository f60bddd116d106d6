package gateway

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/bizmatters/telephony-correlator/internal/correlation"
	"github.com/bizmatters/telephony-correlator/internal/tracking"
)

var wsTracer = otel.Tracer("progress-stream")

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// progressMessage is one frame of the progress stream.
type progressMessage struct {
	CallUUID string `json:"call_uuid"`
	Progress string `json:"progress"`
}

// ProgressStream streams live progress notifications over a WebSocket.
type ProgressStream struct {
	hub      *correlation.Hub
	registry *tracking.Registry
	tracer   trace.Tracer
}

// NewProgressStream creates a progress stream handler over hub.
func NewProgressStream(hub *correlation.Hub, registry *tracking.Registry) *ProgressStream {
	return &ProgressStream{
		hub:      hub,
		registry: registry,
		tracer:   wsTracer,
	}
}

// StreamCall handles GET /ws/calls/:uuid, upgrading to a WebSocket and
// forwarding every progress notification for one tracked call until the
// tracker goes terminal, is evicted, or the client disconnects.
func (p *ProgressStream) StreamCall(c *gin.Context) {
	ctx, span := p.tracer.Start(c.Request.Context(), "progress_stream.stream_call")
	defer span.End()

	callUUID := c.Param("uuid")
	span.SetAttributes(attribute.String("call.uuid", callUUID))

	if _, err := p.registry.Get(callUUID); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "No tracker found for call " + callUUID})
		return
	}

	messages, cancel := p.hub.Subscribe(callUUID)
	defer cancel()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.RecordError(err)
		log.Printf(`{"level":"error","message":"WebSocket upgrade failed","call_uuid":"%s","error":"%v"}`, callUUID, err)
		return
	}
	defer conn.Close()

	// Replay what the tracker already accumulated so a late subscriber is
	// not missing earlier progress. The snapshot is taken after subscribing,
	// so a message racing the upgrade may arrive twice but is never dropped.
	if trk, err := p.registry.Get(callUUID); err == nil {
		for _, line := range trk.StatusHistory {
			if err := conn.WriteJSON(progressMessage{CallUUID: callUUID, Progress: line}); err != nil {
				return
			}
		}
	}

	checkTracker := time.NewTicker(5 * time.Second)
	defer checkTracker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}
			if err := conn.WriteJSON(progressMessage{CallUUID: callUUID, Progress: msg}); err != nil {
				log.Printf(`{"level":"warn","message":"WebSocket write failed","call_uuid":"%s","error":"%v"}`, callUUID, err)
				return
			}
		case <-checkTracker.C:
			trk, err := p.registry.Get(callUUID)
			if errors.Is(err, tracking.ErrNotFound) || (err == nil && trk.Terminal()) {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "call finished"),
					time.Now().Add(time.Second))
				return
			}
		}
	}
}
