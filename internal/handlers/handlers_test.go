package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/relaydeck/relaydeck/internal/history"
	"github.com/relaydeck/relaydeck/internal/logger"
	"github.com/relaydeck/relaydeck/internal/persistence"
	"github.com/relaydeck/relaydeck/internal/timetoken"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	logger.Log = zap.NewNop()
	logger.SugaredLog = logger.Log.Sugar()
	os.Exit(m.Run())
}

func setupRouter(mock *persistence.MockClient) *gin.Engine {
	h := NewHandlers(mock, history.Options{Delay: -1})
	r := gin.New()
	h.RegisterRoutes(r)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func storedRecords(channel string, first timetoken.Timetoken, n int) []history.Record {
	records := make([]history.Record, n)
	for i := range records {
		records[i] = history.Record{
			Channel:   channel,
			Timetoken: first + timetoken.Timetoken(i),
			Payload:   json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i)),
		}
	}
	return records
}

func TestFetchHistoryReturnsRecords(t *testing.T) {
	mock := persistence.NewMockClient()
	mock.FetchHistoryFunc = persistence.FetchFromRecords(storedRecords("alerts", 17000000000000000, 40))
	r := setupRouter(mock)

	w := doJSON(t, r, http.MethodPost, "/api/v1/history/fetch", gin.H{
		"channels": []string{"alerts"},
		"count":    40,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		JobID    string              `json:"job_id"`
		Status   string              `json:"status"`
		Total    int                 `json:"total"`
		Channels []ChannelResultJSON `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.NotEmpty(t, resp.JobID)
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, 40, resp.Total)
	require.Len(t, resp.Channels, 1)
	assert.Equal(t, "alerts", resp.Channels[0].Channel)
	assert.Len(t, resp.Channels[0].Records, 40)
}

func TestFetchHistoryMultiChannelPartialFailure(t *testing.T) {
	mock := persistence.NewMockClient()
	good := persistence.FetchFromRecords(storedRecords("good", 17000000000000000, 10))
	mock.FetchHistoryFunc = func(ctx context.Context, channel string, count int, start, end *timetoken.Timetoken) ([]history.Record, error) {
		if channel == "broken" {
			return nil, fmt.Errorf("upstream exploded")
		}
		return good(ctx, channel, count, start, end)
	}
	r := setupRouter(mock)

	w := doJSON(t, r, http.MethodPost, "/api/v1/history/fetch", gin.H{
		"channels": []string{"good", "broken"},
		"count":    10,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Status   string              `json:"status"`
		Channels []ChannelResultJSON `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	assert.Equal(t, "partial_failure", resp.Status)
	require.Len(t, resp.Channels, 2)
	assert.Equal(t, 10, resp.Channels[0].Count)
	assert.Empty(t, resp.Channels[0].Error)
	assert.Equal(t, 0, resp.Channels[1].Count)
	assert.Contains(t, resp.Channels[1].Error, "upstream exploded")
}

func TestFetchHistoryValidation(t *testing.T) {
	r := setupRouter(persistence.NewMockClient())

	cases := []struct {
		name string
		body gin.H
	}{
		{"missing channels", gin.H{"count": 10}},
		{"zero count", gin.H{"channels": []string{"a"}, "count": 0}},
		{"inverted window", gin.H{"channels": []string{"a"}, "count": 10, "start": "200", "end": "100"}},
		{"bad start token", gin.H{"channels": []string{"a"}, "count": 10, "start": "nope"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/api/v1/history/fetch", tc.body)
			assert.GreaterOrEqual(t, w.Code, 400)
			assert.Less(t, w.Code, 500)
		})
	}
}

func TestFetchHistoryCountsOnly(t *testing.T) {
	mock := persistence.NewMockClient()
	mock.FetchHistoryFunc = persistence.FetchFromRecords(storedRecords("alerts", 17000000000000000, 5))
	r := setupRouter(mock)

	includeRecords := false
	w := doJSON(t, r, http.MethodPost, "/api/v1/history/fetch", gin.H{
		"channels":        []string{"alerts"},
		"count":           5,
		"include_records": includeRecords,
	})
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Channels []ChannelResultJSON `json:"channels"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Channels, 1)
	assert.Equal(t, 5, resp.Channels[0].Count)
	assert.Empty(t, resp.Channels[0].Records)
}

func TestMessageCounts(t *testing.T) {
	mock := persistence.NewMockClient()
	mock.MessageCountsFunc = func(ctx context.Context, channels []string, since timetoken.Timetoken) (map[string]int64, error) {
		assert.Equal(t, timetoken.Timetoken(17000000000000000), since)
		return map[string]int64{"a": 12, "b": 0}, nil
	}
	r := setupRouter(mock)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history/counts?channels=a,b&since=17000000000000000", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Channels map[string]int64 `json:"channels"`
		Cached   bool             `json:"cached"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(12), resp.Channels["a"])
	assert.Equal(t, int64(0), resp.Channels["b"])
	assert.False(t, resp.Cached)
}

func TestMessageCountsTimeoutMapsToGatewayTimeout(t *testing.T) {
	mock := persistence.NewMockClient()
	mock.MessageCountsFunc = func(ctx context.Context, channels []string, since timetoken.Timetoken) (map[string]int64, error) {
		return nil, fmt.Errorf("counts request: %w", context.DeadlineExceeded)
	}
	r := setupRouter(mock)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history/counts?channels=a", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusGatewayTimeout, w.Code)

	var resp struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "TIMEOUT", resp.Code)
}

func TestMessageCountsRequiresChannels(t *testing.T) {
	r := setupRouter(persistence.NewMockClient())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/history/counts", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestDeleteMessage(t *testing.T) {
	mock := persistence.NewMockClient()
	r := setupRouter(mock)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/history/alerts/messages/17000000000000123", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	calls := mock.CallsForMethod("DeleteMessage")
	require.Len(t, calls, 1)
	assert.Equal(t, "alerts", calls[0].Args[0])
	assert.Equal(t, timetoken.Timetoken(17000000000000123), calls[0].Args[1])
}

func TestDeleteErrorMapping(t *testing.T) {
	cases := []struct {
		kind       persistence.DeleteErrorKind
		wantStatus int
		wantCode   string
	}{
		{persistence.DeleteFeatureDisabled, http.StatusForbidden, "FEATURE_DISABLED"},
		{persistence.DeleteAccessDenied, http.StatusForbidden, "FORBIDDEN"},
		{persistence.DeleteMalformedRange, http.StatusBadRequest, "BAD_REQUEST"},
		{persistence.DeleteNotFound, http.StatusNotFound, "NOT_FOUND"},
		{persistence.DeleteUpstreamUnavailable, http.StatusBadGateway, "UPSTREAM_UNAVAILABLE"},
		{persistence.DeleteGeneric, http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tc := range cases {
		t.Run(string(tc.kind), func(t *testing.T) {
			mock := persistence.NewMockClient()
			mock.DeleteMessageFunc = func(ctx context.Context, channel string, tt timetoken.Timetoken) error {
				return &persistence.DeleteError{Kind: tc.kind, Channel: channel, Message: "rejected"}
			}
			r := setupRouter(mock)

			req := httptest.NewRequest(http.MethodDelete, "/api/v1/history/alerts/messages/17000000000000123", nil)
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.wantStatus, w.Code)

			var resp struct {
				Code string `json:"code"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tc.wantCode, resp.Code)
		})
	}
}

func TestDeleteTimeoutMapsToGatewayTimeout(t *testing.T) {
	mock := persistence.NewMockClient()
	mock.DeleteMessageFunc = func(ctx context.Context, channel string, tt timetoken.Timetoken) error {
		return &net.OpError{Op: "dial", Err: &timeoutError{}}
	}
	r := setupRouter(mock)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/history/alerts/messages/17000000000000123", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusGatewayTimeout, w.Code)

	var resp struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "TIMEOUT", resp.Code)
}

type timeoutError struct{}

func (*timeoutError) Error() string { return "i/o timeout" }
func (*timeoutError) Timeout() bool { return true }

func TestDeleteRangeRequiresValidTokens(t *testing.T) {
	r := setupRouter(persistence.NewMockClient())

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/history/alerts?start=abc&end=200", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestTimetokenConversionEndpoints(t *testing.T) {
	r := setupRouter(persistence.NewMockClient())

	w := doJSON(t, r, http.MethodPost, "/api/v1/timetoken/to-civil", gin.H{
		"timetoken": "16966540800000000",
		"zone":      "UTC",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var toResp struct {
		Civil timetoken.CivilTime `json:"civil"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &toResp))
	assert.Equal(t, 2023, toResp.Civil.Year)
	assert.Equal(t, 10, toResp.Civil.Month)

	w = doJSON(t, r, http.MethodPost, "/api/v1/timetoken/from-civil", toResp.Civil)
	require.Equal(t, http.StatusOK, w.Code)

	var fromResp struct {
		Timetoken timetoken.Timetoken `json:"timetoken"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &fromResp))
	assert.Equal(t, timetoken.Timetoken(16966540800000000), fromResp.Timetoken)
}

func TestTimetokenToCivilRejectsUnknownZone(t *testing.T) {
	r := setupRouter(persistence.NewMockClient())

	w := doJSON(t, r, http.MethodPost, "/api/v1/timetoken/to-civil", gin.H{
		"timetoken": "16966540800000000",
		"zone":      "Mars/Olympus_Mons",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
