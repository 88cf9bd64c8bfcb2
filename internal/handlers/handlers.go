package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/relaydeck/relaydeck/internal/cache"
	"github.com/relaydeck/relaydeck/internal/history"
	"github.com/relaydeck/relaydeck/internal/persistence"
	"github.com/relaydeck/relaydeck/internal/progress"
)

// countsCacheTTL bounds how stale the cached message counts may be.
const countsCacheTTL = 30 * time.Second

// Handlers contains all HTTP handlers for the API
type Handlers struct {
	persistence persistence.Interface
	hub         *progress.Hub
	redis       *cache.RedisClient

	// Base options applied to every retrieval session. Per-request fields
	// (delay, concurrency) override these.
	retrieverOpts history.Options
}

// NewHandlers creates a new handlers instance
func NewHandlers(p persistence.Interface, opts history.Options) *Handlers {
	return &Handlers{
		persistence:   p,
		retrieverOpts: opts,
	}
}

// SetProgressHub sets the WebSocket hub used for retrieval progress streams
func (h *Handlers) SetProgressHub(hub *progress.Hub) {
	h.hub = hub
}

// SetRedisClient sets the Redis client used for response caching
func (h *Handlers) SetRedisClient(rc *cache.RedisClient) {
	h.redis = rc
}

// RegisterRoutes wires all API routes onto the router
func (h *Handlers) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/history/fetch", h.FetchHistory)
		api.GET("/history/counts", h.MessageCounts)
		api.DELETE("/history/:channel/messages/:timetoken", h.DeleteMessage)
		api.DELETE("/history/:channel", h.DeleteRange)

		api.POST("/timetoken/to-civil", h.TimetokenToCivil)
		api.POST("/timetoken/from-civil", h.TimetokenFromCivil)
		api.GET("/timetoken/now", h.TimetokenNow)
	}
}
