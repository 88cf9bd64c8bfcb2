// Package persistence wraps the message-persistence REST API of the pub/sub
// network. It is the only package that knows the wire shapes; everything
// above it works with history.Record and timetoken values.
package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/relaydeck/relaydeck/internal/history"
	"github.com/relaydeck/relaydeck/internal/middleware"
	"github.com/relaydeck/relaydeck/internal/telemetry"
	"github.com/relaydeck/relaydeck/internal/timetoken"
)

// DefaultOrigin is the public entry point of the persistence API.
const DefaultOrigin = "https://ps.pndsn.com"

// defaultTimeout bounds each upstream request. A timeout surfaces as a
// transport error and gets the same per-channel isolation as any other
// upstream failure.
const defaultTimeout = 10 * time.Second

// maxBatch is the hard upstream cap on records per history call.
const maxBatch = 100

// Config configures a persistence Client. SubscribeKey is required; the
// rest have working defaults.
type Config struct {
	Origin       string
	SubscribeKey string
	AuthKey      string
	Timeout      time.Duration
}

// Client talks to the persistence REST API.
type Client struct {
	origin       string
	subscribeKey string
	authKey      string
	http         *http.Client
}

// NewClient creates a persistence API client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.SubscribeKey == "" {
		return nil, fmt.Errorf("subscribe key is required")
	}
	if cfg.Origin == "" {
		cfg.Origin = DefaultOrigin
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		origin:       strings.TrimRight(cfg.Origin, "/"),
		subscribeKey: cfg.SubscribeKey,
		authKey:      cfg.AuthKey,
		http: telemetry.NewInstrumentedHTTPClient(telemetry.HTTPClientConfig{
			ServiceName: "persistence-api",
			Timeout:     cfg.Timeout,
		}),
	}, nil
}

// fetchResponse is the wire shape of a history fetch.
type fetchResponse struct {
	Status   int                         `json:"status"`
	Error    bool                        `json:"error"`
	Message  string                      `json:"error_message"`
	Channels map[string][]fetchWireEntry `json:"channels"`
}

type fetchWireEntry struct {
	Message     json.RawMessage     `json:"message"`
	Timetoken   timetoken.Timetoken `json:"timetoken"`
	UUID        string              `json:"uuid"`
	Meta        json.RawMessage     `json:"meta"`
	MessageType json.RawMessage     `json:"message_type"`
}

// FetchHistory issues one bounded history call and normalizes the result.
// The upstream's ordering convention is deliberately not trusted: batches
// are sorted ascending by timetoken here so nothing downstream depends on
// which direction the API happened to enumerate.
func (c *Client) FetchHistory(ctx context.Context, channel string, count int, start, end *timetoken.Timetoken) ([]history.Record, error) {
	if channel == "" {
		return nil, fmt.Errorf("channel is required")
	}
	if count <= 0 || count > maxBatch {
		count = maxBatch
	}

	q := url.Values{}
	q.Set("max", strconv.Itoa(count))
	q.Set("include_meta", "true")
	q.Set("include_uuid", "true")
	q.Set("include_message_type", "true")
	if start != nil {
		q.Set("start", start.String())
	}
	if end != nil {
		q.Set("end", end.String())
	}

	endpoint := fmt.Sprintf("%s/v3/history/sub-key/%s/channel/%s",
		c.origin, url.PathEscape(c.subscribeKey), url.PathEscape(channel))

	var resp fetchResponse
	if err := c.getJSON(ctx, "fetch_history", endpoint, q, &resp); err != nil {
		return nil, err
	}
	if resp.Error {
		return nil, fmt.Errorf("history fetch rejected: %s", resp.Message)
	}

	entries := resp.Channels[channel]
	records := make([]history.Record, 0, len(entries))
	for _, e := range entries {
		records = append(records, history.Record{
			Channel:   channel,
			Timetoken: e.Timetoken,
			Payload:   e.Message,
			Publisher: e.UUID,
			Meta:      e.Meta,
			Type:      rawToString(e.MessageType),
		})
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].Timetoken < records[j].Timetoken
	})
	return records, nil
}

// countsResponse is the wire shape of a message-counts call.
type countsResponse struct {
	Status   int              `json:"status"`
	Error    bool             `json:"error"`
	Message  string           `json:"error_message"`
	Channels map[string]int64 `json:"channels"`
}

// MessageCounts returns, per channel, how many messages were stored after
// the given timetoken.
func (c *Client) MessageCounts(ctx context.Context, channels []string, since timetoken.Timetoken) (map[string]int64, error) {
	if len(channels) == 0 {
		return nil, fmt.Errorf("at least one channel is required")
	}

	q := url.Values{}
	q.Set("timetoken", since.String())

	endpoint := fmt.Sprintf("%s/v3/history/message-counts/sub-key/%s/channel/%s",
		c.origin, url.PathEscape(c.subscribeKey), url.PathEscape(strings.Join(channels, ",")))

	var resp countsResponse
	if err := c.getJSON(ctx, "message_counts", endpoint, q, &resp); err != nil {
		return nil, err
	}
	if resp.Error {
		return nil, fmt.Errorf("message counts rejected: %s", resp.Message)
	}
	return resp.Channels, nil
}

// DeleteRange removes stored messages in (start, end] on a channel.
func (c *Client) DeleteRange(ctx context.Context, channel string, start, end timetoken.Timetoken) (err error) {
	if channel == "" {
		return fmt.Errorf("channel is required")
	}
	if start >= end {
		return &DeleteError{Kind: DeleteMalformedRange, Channel: channel,
			Message: fmt.Sprintf("start %s must precede end %s", start, end)}
	}

	q := url.Values{}
	q.Set("start", start.String())
	q.Set("end", end.String())
	if c.authKey != "" {
		q.Set("auth", c.authKey)
	}

	endpoint := fmt.Sprintf("%s/v3/history/sub-key/%s/channel/%s",
		c.origin, url.PathEscape(c.subscribeKey), url.PathEscape(channel))

	started := time.Now()
	defer func() {
		middleware.RecordUpstreamRequest("delete_range", time.Since(started), err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to build delete request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return classifyDelete(resp.StatusCode, channel, string(body))
}

// DeleteMessage removes a single message by targeting the narrowest range
// that contains its timetoken: start is exclusive, so (tt-1, tt] hits
// exactly one token value.
func (c *Client) DeleteMessage(ctx context.Context, channel string, tt timetoken.Timetoken) error {
	return c.DeleteRange(ctx, channel, tt-1, tt)
}

func (c *Client) getJSON(ctx context.Context, operation, endpoint string, q url.Values, out any) (err error) {
	started := time.Now()
	defer func() {
		middleware.RecordUpstreamRequest(operation, time.Since(started), err)
	}()

	if c.authKey != "" {
		q.Set("auth", c.authKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("upstream returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// rawToString renders a raw JSON scalar (string or number) as a plain string.
func rawToString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
