package persistence

import (
	"context"

	"github.com/relaydeck/relaydeck/internal/history"
	"github.com/relaydeck/relaydeck/internal/timetoken"
)

// Interface defines the persistence API operations used by handlers and the
// CLI. It exists so tests can substitute MockClient without a live network.
type Interface interface {
	// FetchHistory returns at most count records near the supplied cursor,
	// sorted ascending by timetoken.
	FetchHistory(ctx context.Context, channel string, count int, start, end *timetoken.Timetoken) ([]history.Record, error)

	// MessageCounts returns per-channel counts of messages stored after the
	// given timetoken.
	MessageCounts(ctx context.Context, channels []string, since timetoken.Timetoken) (map[string]int64, error)

	// DeleteRange removes stored messages in (start, end] on a channel.
	DeleteRange(ctx context.Context, channel string, start, end timetoken.Timetoken) error

	// DeleteMessage removes the single message with the given timetoken.
	DeleteMessage(ctx context.Context, channel string, tt timetoken.Timetoken) error
}

// Ensure Client satisfies both the full interface and the retrieval
// engine's narrower fetcher contract.
var (
	_ Interface       = (*Client)(nil)
	_ history.Fetcher = (*Client)(nil)
)
