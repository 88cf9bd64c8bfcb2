package progress

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/relaydeck/relaydeck/internal/logger"
	"go.uber.org/zap"
)

const (
	// Time allowed to write an event to the peer
	writeWait = 10 * time.Second

	// Send pings to peer with this period
	pingPeriod = 30 * time.Second

	// Send buffer size
	sendBufferSize = 64
)

// Client represents a single progress subscription over a WebSocket
type Client struct {
	conn *websocket.Conn
	hub  *Hub

	// JobID is the retrieval job this client watches
	JobID string

	// Buffered channel of outbound events
	send chan []byte

	ConnectedAt time.Time
	RemoteAddr  string

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient creates a new Client subscribed to jobID
func NewClient(hub *Hub, conn *websocket.Conn, jobID string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:         hub,
		conn:        conn,
		JobID:       jobID,
		send:        make(chan []byte, sendBufferSize),
		ConnectedAt: time.Now(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// WritePump pumps events from the hub to the WebSocket connection.
// It runs until the send channel is closed or a write fails.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			return

		case data, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				c.conn.Close(websocket.StatusNormalClosure, "stream ended")
				return
			}

			writeCtx, writeCancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Write(writeCtx, websocket.MessageText, data)
			writeCancel()

			if err != nil {
				logger.Log.Debug("progress write failed",
					logger.WithJobID(c.JobID),
					zap.Error(err),
				)
				c.hub.Unregister(c)
				return
			}

		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Ping(pingCtx)
			pingCancel()

			if err != nil {
				c.hub.Unregister(c)
				return
			}
		}
	}
}

// ReadPump drains incoming frames so control messages are processed.
// Subscribers are not expected to send data; any read error ends the
// connection.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(4 * 1024)

	for {
		_, _, err := c.conn.Read(c.ctx)
		if err != nil {
			return
		}
	}
}

// Close tears down the connection and cancels the client context
func (c *Client) Close() {
	c.cancel()
	c.conn.Close(websocket.StatusNormalClosure, "closing")
}
