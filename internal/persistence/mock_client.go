package persistence

import (
	"context"
	"fmt"
	"sync"

	"github.com/relaydeck/relaydeck/internal/history"
	"github.com/relaydeck/relaydeck/internal/timetoken"
)

// MockCall records a method call for assertion.
type MockCall struct {
	Method string
	Args   []interface{}
}

// MockClient is a mock implementation of Interface for testing. Behavior is
// configured per method through function overrides; every call is recorded
// for assertions.
type MockClient struct {
	mu sync.Mutex

	Calls []MockCall

	FetchHistoryFunc  func(ctx context.Context, channel string, count int, start, end *timetoken.Timetoken) ([]history.Record, error)
	MessageCountsFunc func(ctx context.Context, channels []string, since timetoken.Timetoken) (map[string]int64, error)
	DeleteRangeFunc   func(ctx context.Context, channel string, start, end timetoken.Timetoken) error
	DeleteMessageFunc func(ctx context.Context, channel string, tt timetoken.Timetoken) error

	// DefaultError is returned by any method without an override.
	DefaultError error
}

var _ Interface = (*MockClient)(nil)

// NewMockClient creates a mock with no configured behavior.
func NewMockClient() *MockClient {
	return &MockClient{Calls: make([]MockCall, 0)}
}

func (m *MockClient) recordCall(method string, args ...interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{Method: method, Args: args})
}

// CallsForMethod returns recorded calls for one method (thread-safe).
func (m *MockClient) CallsForMethod(method string) []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []MockCall
	for _, c := range m.Calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Reset clears recorded calls.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = m.Calls[:0]
}

func (m *MockClient) FetchHistory(ctx context.Context, channel string, count int, start, end *timetoken.Timetoken) ([]history.Record, error) {
	m.recordCall("FetchHistory", channel, count, start, end)
	if m.FetchHistoryFunc != nil {
		return m.FetchHistoryFunc(ctx, channel, count, start, end)
	}
	if m.DefaultError != nil {
		return nil, m.DefaultError
	}
	return []history.Record{}, nil
}

func (m *MockClient) MessageCounts(ctx context.Context, channels []string, since timetoken.Timetoken) (map[string]int64, error) {
	m.recordCall("MessageCounts", channels, since)
	if m.MessageCountsFunc != nil {
		return m.MessageCountsFunc(ctx, channels, since)
	}
	if m.DefaultError != nil {
		return nil, m.DefaultError
	}
	return map[string]int64{}, nil
}

func (m *MockClient) DeleteRange(ctx context.Context, channel string, start, end timetoken.Timetoken) error {
	m.recordCall("DeleteRange", channel, start, end)
	if m.DeleteRangeFunc != nil {
		return m.DeleteRangeFunc(ctx, channel, start, end)
	}
	return m.DefaultError
}

func (m *MockClient) DeleteMessage(ctx context.Context, channel string, tt timetoken.Timetoken) error {
	m.recordCall("DeleteMessage", channel, tt)
	if m.DeleteMessageFunc != nil {
		return m.DeleteMessageFunc(ctx, channel, tt)
	}
	if m.DeleteRangeFunc != nil {
		return m.DeleteRangeFunc(ctx, channel, tt-1, tt)
	}
	return m.DefaultError
}

// FetchFromRecords builds a FetchHistoryFunc over a fixed ascending record
// set, honoring cursor semantics the way the real upstream does: a start
// cursor walks forward, an end cursor (or no cursor) walks backward.
func FetchFromRecords(records []history.Record) func(ctx context.Context, channel string, count int, start, end *timetoken.Timetoken) ([]history.Record, error) {
	return func(ctx context.Context, channel string, count int, start, end *timetoken.Timetoken) ([]history.Record, error) {
		if count <= 0 {
			return nil, fmt.Errorf("invalid count %d", count)
		}
		matched := make([]history.Record, 0, count)
		for _, r := range records {
			if r.Channel != channel {
				continue
			}
			if start != nil && r.Timetoken <= *start {
				continue
			}
			if end != nil && r.Timetoken > *end {
				continue
			}
			matched = append(matched, r)
		}
		if start != nil {
			if len(matched) > count {
				matched = matched[:count]
			}
		} else if len(matched) > count {
			matched = matched[len(matched)-count:]
		}
		return matched, nil
	}
}
