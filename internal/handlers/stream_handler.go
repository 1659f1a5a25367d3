package handlers

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"taskforest/internal/realtime"
)

// StreamHandler opens live change feeds scoped to the caller.
type StreamHandler struct {
	hub      *realtime.Hub
	upgrader *websocket.Upgrader
	pongWait time.Duration
}

func NewStreamHandler(hub *realtime.Hub, allowedOrigins []string, pingInterval time.Duration) *StreamHandler {
	if pingInterval <= 0 {
		pingInterval = realtime.DefaultPingInterval
	}
	return &StreamHandler{
		hub:      hub,
		upgrader: realtime.NewUpgrader(allowedOrigins),
		pongWait: 2 * pingInterval,
	}
}

// @Summary      Live changes (Server-Sent Events)
// @Description  Streams create, update, status_single, status_batch and delete events for the caller's tasks
// @Tags         Stream
// @Produce      text/event-stream
// @Param        token  query  string  false  "JWT when headers cannot be set"
// @Success      200
// @Security     BearerAuth
// @Router       /tasks/stream [get]
func (h *StreamHandler) SSE(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	sink, err := realtime.NewSSESink(c.Request.Context(), c.Writer)
	if err != nil {
		log.Printf("[stream][sse][err] owner=%d: %v", owner, err)
		fail(c, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	h.hub.Register(owner, sink)
	defer h.hub.Unregister(owner, sink)

	log.Printf("[stream][sse] owner=%d connected", owner)
	sink.Serve()
	log.Printf("[stream][sse] owner=%d disconnected", owner)
}

// @Summary      Live changes (WebSocket)
// @Tags         Stream
// @Param        token  query  string  false  "JWT when headers cannot be set"
// @Success      101
// @Security     BearerAuth
// @Router       /tasks/ws [get]
func (h *StreamHandler) WS(c *gin.Context) {
	owner, ok := ownerID(c)
	if !ok {
		return
	}
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		log.Printf("[stream][ws][upgrade][err] owner=%d: %v", owner, err)
		return
	}
	sink := realtime.NewWSSink(conn, h.pongWait)
	h.hub.Register(owner, sink)
	defer h.hub.Unregister(owner, sink)

	log.Printf("[stream][ws] owner=%d connected", owner)
	sink.ReadPump()
	log.Printf("[stream][ws] owner=%d disconnected", owner)
}
