package gateway

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bizmatters/telephony-correlator/internal/correlation"
	"github.com/bizmatters/telephony-correlator/internal/tracking"
)

func newStreamServer(t *testing.T) (*httptest.Server, *correlation.Hub, *tracking.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := correlation.NewHub()
	registry := tracking.NewRegistry()
	stream := NewProgressStream(hub, registry)

	router := gin.New()
	router.GET("/ws/calls/:uuid", stream.StreamCall)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)
	return server, hub, registry
}

func dialStream(t *testing.T, server *httptest.Server, callUUID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/calls/" + callUUID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestStreamCall_ReplaysHistoryThenForwards(t *testing.T) {
	server, hub, registry := newStreamServer(t)

	_, err := registry.Create("call-1", "conv-1", "to", "from", false)
	require.NoError(t, err)
	require.NoError(t, registry.Mutate("call-1", func(trk *tracking.Tracker) {
		trk.StatusHistory = append(trk.StatusHistory, "Call initiated.")
	}))

	conn := dialStream(t, server, "call-1")
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	// Accumulated history replays first. The dial completes only after the
	// handler has subscribed, so messages published from here on are
	// forwarded, not lost.
	var msg progressMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "call-1", msg.CallUUID)
	assert.Equal(t, "Call initiated.", msg.Progress)

	hub.Publish("call-1", "Phone is ringing.")
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "Phone is ringing.", msg.Progress)
}

func TestStreamCall_UnknownTracker(t *testing.T) {
	server, _, _ := newStreamServer(t)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/calls/call-404"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, 404, resp.StatusCode)
}
