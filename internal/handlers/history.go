package handlers

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/relaydeck/relaydeck/internal/errors"
	"github.com/relaydeck/relaydeck/internal/history"
	"github.com/relaydeck/relaydeck/internal/logger"
	"github.com/relaydeck/relaydeck/internal/middleware"
	"github.com/relaydeck/relaydeck/internal/persistence"
	"github.com/relaydeck/relaydeck/internal/progress"
	"github.com/relaydeck/relaydeck/internal/timetoken"
	"github.com/relaydeck/relaydeck/internal/util"
	"go.uber.org/zap"
)

// FetchHistoryRequest is the body of POST /api/v1/history/fetch
type FetchHistoryRequest struct {
	Channels []string `json:"channels" binding:"required"`
	Count    int      `json:"count" binding:"required"`

	// Start and End are timetoken strings bounding the window. Start is
	// exclusive, End is inclusive. Either or both may be omitted.
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`

	// JobID lets the caller subscribe to /ws/progress before starting the
	// fetch. Generated when omitted.
	JobID string `json:"job_id,omitempty"`

	// DelayMs overrides the pause between batch fetches. Omitted or zero
	// keeps the default; negative disables the pause.
	DelayMs int `json:"delay_ms,omitempty"`

	// Concurrency bounds how many channels are fetched in parallel.
	Concurrency int `json:"concurrency,omitempty"`

	// IncludeRecords controls whether full records come back in the
	// response body. Defaults to true; counts-only responses set it false.
	IncludeRecords *bool `json:"include_records,omitempty"`
}

// ChannelResultJSON is one channel's outcome in the fetch response
type ChannelResultJSON struct {
	Channel string           `json:"channel"`
	Count   int              `json:"count"`
	Records []history.Record `json:"records,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// FetchHistory runs a retrieval session across the requested channels
// POST /api/v1/history/fetch
func (h *Handlers) FetchHistory(c *gin.Context) {
	var req FetchHistoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		util.RespondBadRequest(c, "invalid request body: "+err.Error())
		return
	}
	if len(req.Channels) == 0 {
		util.RespondValidationError(c, "channels", "at least one channel is required")
		return
	}
	if req.Count <= 0 {
		util.RespondValidationError(c, "count", "count must be positive")
		return
	}

	window, err := parseWindow(req.Start, req.End)
	if err != nil {
		util.RespondValidationError(c, "window", err.Error())
		return
	}

	jobID := req.JobID
	if jobID == "" {
		jobID = uuid.New().String()
	}

	opts := h.retrieverOpts
	if req.DelayMs != 0 {
		opts.Delay = time.Duration(req.DelayMs) * time.Millisecond
	}
	if req.Concurrency > 0 {
		opts.Concurrency = req.Concurrency
	}
	opts.OnProgress = h.progressPublisher(jobID)
	if opts.Logger == nil {
		opts.Logger = logger.Log
	}

	retriever := history.NewRetriever(h.persistence, opts)

	started := time.Now()
	results, err := retriever.Fetch(c.Request.Context(), history.Request{
		Channels:    req.Channels,
		TargetCount: req.Count,
		Window:      window,
	})
	if err != nil {
		util.RespondBadRequest(c, err.Error())
		return
	}

	status := "success"
	out := make([]ChannelResultJSON, len(results))
	total := 0
	for i, res := range results {
		out[i] = ChannelResultJSON{
			Channel: res.Channel,
			Count:   len(res.Records),
			Records: res.Records,
		}
		if req.IncludeRecords != nil && !*req.IncludeRecords {
			out[i].Records = nil
		}
		if res.Err != nil {
			out[i].Error = res.Err.Error()
			status = "partial_failure"
			h.publishEvent(&progress.Event{
				JobID:   jobID,
				Type:    progress.EventError,
				Channel: res.Channel,
				Error:   res.Err.Error(),
			})
		} else {
			h.publishEvent(&progress.Event{
				JobID:   jobID,
				Type:    progress.EventChannel,
				Channel: res.Channel,
				Total:   len(res.Records),
			})
		}
		total += len(res.Records)
	}

	h.publishEvent(&progress.Event{
		JobID: jobID,
		Type:  progress.EventComplete,
		Total: total,
	})
	middleware.RecordRetrievalSession(status, time.Since(started))

	logger.Log.Info("history fetch finished",
		logger.WithJobID(jobID),
		zap.Int("channels", len(req.Channels)),
		zap.Int("records", total),
		zap.String("status", status),
	)

	c.JSON(http.StatusOK, gin.H{
		"job_id":   jobID,
		"status":   status,
		"total":    total,
		"channels": out,
	})
}

// MessageCounts returns per-channel stored message counts since a timetoken
// GET /api/v1/history/counts?channels=a,b&since=<timetoken>
func (h *Handlers) MessageCounts(c *gin.Context) {
	channels := util.ParseChannelList(c.Query("channels"))
	if len(channels) == 0 {
		util.RespondValidationError(c, "channels", "at least one channel is required")
		return
	}

	since, err := timetoken.Parse(c.DefaultQuery("since", "1"))
	if err != nil {
		util.RespondValidationError(c, "since", err.Error())
		return
	}

	cacheKey := countsCacheKey(channels, since)
	if h.redis != nil {
		var cached map[string]int64
		if err := h.redis.GetJSON(c.Request.Context(), cacheKey, &cached); err == nil {
			middleware.RecordCacheHit("message_counts")
			c.JSON(http.StatusOK, gin.H{"channels": cached, "cached": true})
			return
		}
		middleware.RecordCacheMiss("message_counts")
	}

	counts, err := h.persistence.MessageCounts(c.Request.Context(), channels, since)
	if err != nil {
		middleware.RecordError("upstream_counts", c.FullPath())
		if isTimeout(err) {
			util.RespondWithAPIError(c, errors.Timeout("message counts"))
			return
		}
		util.RespondWithAPIError(c, errors.UpstreamUnavailable("message counts unavailable: "+err.Error()))
		return
	}

	if h.redis != nil {
		if err := h.redis.SetJSON(c.Request.Context(), cacheKey, counts, countsCacheTTL); err != nil {
			logger.Log.Warn("failed to cache message counts", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, gin.H{"channels": counts, "cached": false})
}

// DeleteMessage removes a single stored message
// DELETE /api/v1/history/:channel/messages/:timetoken
func (h *Handlers) DeleteMessage(c *gin.Context) {
	channel := c.Param("channel")
	tt, err := timetoken.Parse(c.Param("timetoken"))
	if err != nil {
		util.RespondValidationError(c, "timetoken", err.Error())
		return
	}

	if err := h.persistence.DeleteMessage(c.Request.Context(), channel, tt); err != nil {
		h.respondDeleteError(c, channel, err)
		return
	}

	logger.Log.Info("message deleted",
		logger.WithChannel(channel),
		zap.String("timetoken", tt.String()),
	)
	c.JSON(http.StatusOK, gin.H{"channel": channel, "timetoken": tt})
}

// DeleteRange removes stored messages in (start, end] on a channel
// DELETE /api/v1/history/:channel?start=<tt>&end=<tt>
func (h *Handlers) DeleteRange(c *gin.Context) {
	channel := c.Param("channel")

	start, err := timetoken.Parse(c.Query("start"))
	if err != nil {
		util.RespondValidationError(c, "start", err.Error())
		return
	}
	end, err := timetoken.Parse(c.Query("end"))
	if err != nil {
		util.RespondValidationError(c, "end", err.Error())
		return
	}

	if err := h.persistence.DeleteRange(c.Request.Context(), channel, start, end); err != nil {
		h.respondDeleteError(c, channel, err)
		return
	}

	logger.Log.Info("history range deleted",
		logger.WithChannel(channel),
		zap.String("start", start.String()),
		zap.String("end", end.String()),
	)
	c.JSON(http.StatusOK, gin.H{"channel": channel, "start": start, "end": end})
}

// respondDeleteError maps persistence delete failures onto API errors
func (h *Handlers) respondDeleteError(c *gin.Context, channel string, err error) {
	var delErr *persistence.DeleteError
	if !stderrors.As(err, &delErr) {
		middleware.RecordError("delete_transport", c.FullPath())
		if isTimeout(err) {
			util.RespondWithAPIError(c, errors.Timeout("delete"))
			return
		}
		util.RespondWithAPIError(c, errors.UpstreamUnavailable("delete failed: "+err.Error()))
		return
	}

	middleware.RecordError("delete_"+string(delErr.Kind), c.FullPath())
	switch delErr.Kind {
	case persistence.DeleteFeatureDisabled:
		util.RespondWithAPIError(c, errors.FeatureDisabled("message deletion is not enabled for this key"))
	case persistence.DeleteAccessDenied:
		util.RespondWithAPIError(c, errors.Forbidden("credentials lack delete permission"))
	case persistence.DeleteMalformedRange:
		util.RespondBadRequest(c, delErr.Message)
	case persistence.DeleteNotFound:
		util.RespondNotFound(c, "channel "+channel)
	case persistence.DeleteUpstreamUnavailable:
		util.RespondWithAPIError(c, errors.UpstreamUnavailable(delErr.Message))
	default:
		util.RespondInternalError(c, delErr.Message)
	}
}

// isTimeout reports whether an upstream failure was a deadline or
// transport timeout rather than a hard error
func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

// progressPublisher adapts per-batch engine progress into hub events and
// Prometheus counters
func (h *Handlers) progressPublisher(jobID string) history.ProgressFunc {
	var mu sync.Mutex
	last := make(map[string]int)
	return func(p history.Progress) {
		mu.Lock()
		newRecords := p.Current - last[p.Channel]
		last[p.Channel] = p.Current
		mu.Unlock()
		middleware.RecordRetrievalBatch(p.Channel, newRecords)
		h.publishEvent(&progress.Event{
			JobID:      jobID,
			Type:       progress.EventBatch,
			Channel:    p.Channel,
			BatchSize:  p.Batch,
			NewRecords: newRecords,
			Total:      p.Current,
			Target:     p.Total,
		})
	}
}

func (h *Handlers) publishEvent(ev *progress.Event) {
	if h.hub != nil {
		h.hub.Publish(ev)
	}
}

func parseWindow(start, end string) (history.Window, error) {
	var w history.Window
	if start != "" {
		tt, err := timetoken.Parse(start)
		if err != nil {
			return w, fmt.Errorf("invalid start timetoken: %w", err)
		}
		w.Start = &tt
	}
	if end != "" {
		tt, err := timetoken.Parse(end)
		if err != nil {
			return w, fmt.Errorf("invalid end timetoken: %w", err)
		}
		w.End = &tt
	}
	if w.Start != nil && w.End != nil && *w.Start >= *w.End {
		return w, fmt.Errorf("start must precede end")
	}
	return w, nil
}

func countsCacheKey(channels []string, since timetoken.Timetoken) string {
	sorted := make([]string, len(channels))
	copy(sorted, channels)
	sort.Strings(sorted)
	return fmt.Sprintf("counts:%d:%s", since, strings.Join(sorted, ","))
}
