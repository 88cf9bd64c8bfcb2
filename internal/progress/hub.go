// Package progress streams retrieval progress events to WebSocket
// subscribers. Uses github.com/coder/websocket, the context-aware
// WebSocket library for Go.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaydeck/relaydeck/internal/logger"
	"go.uber.org/zap"
)

// EventType identifies what a progress event describes
type EventType string

const (
	EventBatch    EventType = "batch"
	EventChannel  EventType = "channel_done"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is a single progress update for a retrieval job
type Event struct {
	JobID      string    `json:"job_id"`
	Type       EventType `json:"type"`
	Channel    string    `json:"channel,omitempty"`
	BatchSize  int       `json:"batch_size,omitempty"`
	NewRecords int       `json:"new_records,omitempty"`
	Total      int       `json:"total,omitempty"`
	Target     int       `json:"target,omitempty"`
	Error      string    `json:"error,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// Hub maintains active subscribers keyed by job ID and fans out events
type Hub struct {
	// Subscribers by job ID
	subscribers map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	events     chan *Event

	mu sync.RWMutex

	// Metrics
	metrics *Metrics

	// Shutdown handling
	ctx    context.Context
	cancel context.CancelFunc
}

// Metrics tracks WebSocket statistics
type Metrics struct {
	TotalConnections   atomic.Int64
	ActiveConnections  atomic.Int64
	EventsSent         atomic.Int64
	ConnectionsDropped atomic.Int64
}

// NewHub creates a new Hub instance
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		subscribers: make(map[string]map[*Client]struct{}),
		register:    make(chan *Client, 64),
		unregister:  make(chan *Client, 64),
		events:      make(chan *Event, 256),
		metrics:     &Metrics{},
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Run starts the hub's main event loop
func (h *Hub) Run() {
	logger.Log.Info("progress hub starting")

	for {
		select {
		case <-h.ctx.Done():
			logger.Log.Info("progress hub shutting down")
			h.shutdown()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case event := <-h.events:
			h.dispatch(event)
		}
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subscribers[client.JobID] == nil {
		h.subscribers[client.JobID] = make(map[*Client]struct{})
	}
	h.subscribers[client.JobID][client] = struct{}{}

	h.metrics.TotalConnections.Add(1)
	h.metrics.ActiveConnections.Add(1)

	logger.Log.Debug("progress subscriber connected",
		logger.WithJobID(client.JobID),
		zap.Int64("active", h.metrics.ActiveConnections.Load()),
	)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.subscribers[client.JobID]
	if !ok {
		return
	}
	if _, ok := clients[client]; !ok {
		return
	}

	delete(clients, client)
	if len(clients) == 0 {
		delete(h.subscribers, client.JobID)
	}
	close(client.send)
	h.metrics.ActiveConnections.Add(-1)

	logger.Log.Debug("progress subscriber disconnected",
		logger.WithJobID(client.JobID),
		zap.Int64("active", h.metrics.ActiveConnections.Load()),
	)
}

// dispatch sends an event to every subscriber of its job
func (h *Hub) dispatch(event *Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.subscribers[event.JobID]
	if !ok || len(clients) == 0 {
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		logger.Log.Error("failed to marshal progress event", zap.Error(err))
		return
	}

	for client := range clients {
		select {
		case client.send <- data:
			h.metrics.EventsSent.Add(1)
		default:
			// Subscriber buffer is full, drop the connection
			h.metrics.ConnectionsDropped.Add(1)
			go func(c *Client) {
				h.unregister <- c
			}(client)
		}
	}
}

// Publish queues an event for delivery to the job's subscribers
func (h *Hub) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	select {
	case h.events <- event:
	case <-h.ctx.Done():
	}
}

// Register adds a subscriber to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a subscriber from the hub
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// SubscriberCount returns the number of subscribers for a job
func (h *Hub) SubscriberCount(jobID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[jobID])
}

// GetMetrics returns current hub metrics
func (h *Hub) GetMetrics() MetricsSnapshot {
	return MetricsSnapshot{
		TotalConnections:   h.metrics.TotalConnections.Load(),
		ActiveConnections:  h.metrics.ActiveConnections.Load(),
		EventsSent:         h.metrics.EventsSent.Load(),
		ConnectionsDropped: h.metrics.ConnectionsDropped.Load(),
	}
}

// MetricsSnapshot is a point-in-time snapshot of metrics
type MetricsSnapshot struct {
	TotalConnections   int64 `json:"total_connections"`
	ActiveConnections  int64 `json:"active_connections"`
	EventsSent         int64 `json:"events_sent"`
	ConnectionsDropped int64 `json:"connections_dropped"`
}

// Shutdown gracefully shuts down the hub
func (h *Hub) Shutdown(ctx context.Context) error {
	h.cancel()

	done := make(chan struct{})
	go func() {
		// The run loop closes subscriber channels before returning
		for h.metrics.ActiveConnections.Load() > 0 {
			time.Sleep(10 * time.Millisecond)
		}
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown timeout: %w", ctx.Err())
	}
}

func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, clients := range h.subscribers {
		for client := range clients {
			close(client.send)
			h.metrics.ActiveConnections.Add(-1)
		}
	}
	h.subscribers = make(map[string]map[*Client]struct{})
}
