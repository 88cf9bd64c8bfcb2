// Package history implements the historical-message retrieval engine.
//
// The upstream persistence API returns at most 100 records per call and
// paginates through opaque timetoken cursors. This package reconstructs
// complete, deduplicated, correctly bounded result sets on top of that:
// a window policy decides how the cursor advances per batch, an accumulator
// merges overlapping batches, and the retriever drives the loop per channel
// with progress reporting and per-channel failure isolation.
package history

import (
	"encoding/json"

	"github.com/relaydeck/relaydeck/internal/timetoken"
)

// Record is a single stored message as returned by the persistence API.
// Records are immutable once fetched.
type Record struct {
	Channel   string              `json:"channel"`
	Timetoken timetoken.Timetoken `json:"timetoken"`
	Payload   json.RawMessage     `json:"payload"`
	Publisher string              `json:"publisher,omitempty"`
	Meta      json.RawMessage     `json:"meta,omitempty"`
	Type      string              `json:"type,omitempty"`
}

// Window is an optional time window for a retrieval. Start is exclusive and
// End is inclusive. Which of the two are set selects the pagination policy
// for the whole session; see Mode.
type Window struct {
	Start *timetoken.Timetoken `json:"start,omitempty"`
	End   *timetoken.Timetoken `json:"end,omitempty"`
}

// ChannelResult is the outcome of one channel's retrieval. One is produced
// for every requested channel, even on failure (empty records plus Err).
type ChannelResult struct {
	Channel string   `json:"channel"`
	Records []Record `json:"records"`
	Err     error    `json:"-"`
}

// Request describes a multi-channel retrieval.
type Request struct {
	Channels    []string `json:"channels"`
	TargetCount int      `json:"count"`
	Window      Window   `json:"window"`
}
