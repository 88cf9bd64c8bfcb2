package progress

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/relaydeck/relaydeck/internal/logger"
	"go.uber.org/zap"
)

// Handler handles WebSocket upgrade requests for progress streams
type Handler struct {
	hub *Hub
}

// NewHandler creates a new progress WebSocket handler
func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// HandleWebSocket upgrades the connection and subscribes it to a job.
// The job ID is passed via query param: /ws/progress?job_id=...
func (h *Handler) HandleWebSocket(c *gin.Context) {
	jobID := c.Query("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "missing_job_id",
			"message": "job_id query parameter is required",
		})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionContextTakeover,
	})
	if err != nil {
		logger.Log.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(h.hub, conn, jobID)
	client.RemoteAddr = c.ClientIP()

	h.hub.Register(client)

	go client.WritePump()
	client.ReadPump() // blocks until the subscriber disconnects
}
