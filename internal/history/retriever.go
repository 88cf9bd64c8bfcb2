package history

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/relaydeck/relaydeck/internal/timetoken"
	"go.uber.org/zap"
)

// DefaultBatchCap is the most records the persistence API returns per call.
const DefaultBatchCap = 100

// DefaultDelay is the cooperative pause between batch fetches. It is a
// courtesy rate limit, not a correctness requirement.
const DefaultDelay = 100 * time.Millisecond

// defaultSafetySlack is how many fetches beyond ceil(target/cap) a session
// may issue before it is declared stuck. Boundary overlap can legitimately
// cost an extra fetch or two.
const defaultSafetySlack = 2

// Fetcher issues one bounded call to the upstream history API. Implementations
// must return records sorted ascending by timetoken; the upstream's own
// ordering convention is not trusted and is normalized at this boundary.
type Fetcher interface {
	FetchHistory(ctx context.Context, channel string, count int, start, end *timetoken.Timetoken) ([]Record, error)
}

// Progress is emitted after every batch fetch. It carries no control
// authority; consumers cannot pause or redirect the retrieval through it.
type Progress struct {
	Channel      string `json:"channel"`
	Current      int    `json:"current"`
	Total        int    `json:"total"`
	Batch        int    `json:"batch"`
	TotalBatches int    `json:"total_batches"`
}

// ProgressFunc receives progress updates. It is called from the retrieval
// goroutine and should return quickly.
type ProgressFunc func(Progress)

// Options configures a Retriever. Zero values select the reference behavior:
// batches of 100, a short courtesy delay, sequential channels. A negative
// Delay disables the pause entirely.
type Options struct {
	BatchCap    int
	Delay       time.Duration
	SafetySlack int
	Concurrency int
	OnProgress  ProgressFunc
	Logger      *zap.Logger
}

// Retriever reconstructs complete historical record sets across one or more
// channels. Each channel gets an independent session; a failure in one
// channel never aborts the others.
type Retriever struct {
	fetcher Fetcher
	opts    Options
}

// NewRetriever creates a Retriever over the given fetcher.
func NewRetriever(fetcher Fetcher, opts Options) *Retriever {
	if opts.BatchCap <= 0 || opts.BatchCap > DefaultBatchCap {
		opts.BatchCap = DefaultBatchCap
	}
	if opts.Delay == 0 {
		opts.Delay = DefaultDelay
	} else if opts.Delay < 0 {
		opts.Delay = 0
	}
	if opts.SafetySlack <= 0 {
		opts.SafetySlack = defaultSafetySlack
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Retriever{fetcher: fetcher, opts: opts}
}

// Fetch runs one retrieval session per requested channel and returns one
// ChannelResult per channel, in request order. Per-channel errors are
// recorded in the result rather than returned; the returned error is only
// non-nil for an invalid request.
func (r *Retriever) Fetch(ctx context.Context, req Request) ([]ChannelResult, error) {
	if len(req.Channels) == 0 {
		return nil, fmt.Errorf("no channels requested")
	}
	if req.TargetCount <= 0 {
		return nil, fmt.Errorf("target count must be positive, got %d", req.TargetCount)
	}
	if req.Window.Start != nil && req.Window.End != nil && *req.Window.Start >= *req.Window.End {
		return nil, fmt.Errorf("window start %s must precede end %s", req.Window.Start, req.Window.End)
	}

	results := make([]ChannelResult, len(req.Channels))
	if r.opts.Concurrency == 1 {
		r.fetchSequential(ctx, req, results)
	} else {
		r.fetchConcurrent(ctx, req, results)
	}
	return results, nil
}

func (r *Retriever) fetchSequential(ctx context.Context, req Request, results []ChannelResult) {
	for i, channel := range req.Channels {
		if err := ctx.Err(); err != nil {
			results[i] = ChannelResult{Channel: channel, Records: []Record{}, Err: fmt.Errorf("retrieval canceled: %w", err)}
			continue
		}
		results[i] = r.fetchChannel(ctx, channel, req)
	}
}

func (r *Retriever) fetchConcurrent(ctx context.Context, req Request, results []ChannelResult) {
	sem := make(chan struct{}, r.opts.Concurrency)
	var wg sync.WaitGroup
	for i, channel := range req.Channels {
		wg.Add(1)
		go func(i int, channel string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if err := ctx.Err(); err != nil {
				results[i] = ChannelResult{Channel: channel, Records: []Record{}, Err: fmt.Errorf("retrieval canceled: %w", err)}
				return
			}
			results[i] = r.fetchChannel(ctx, channel, req)
		}(i, channel)
	}
	wg.Wait()
}

// fetchChannel runs one channel's session to completion. The session owns
// its cursor, dedup set and accumulator exclusively; nothing is shared
// across channels.
func (r *Retriever) fetchChannel(ctx context.Context, channel string, req Request) ChannelResult {
	target := req.TargetCount
	policy := newWindowPolicy(req.Window)
	acc := newAccumulator(min(target, 4*r.opts.BatchCap))

	totalBatches := (target + r.opts.BatchCap - 1) / r.opts.BatchCap
	maxIterations := totalBatches + r.opts.SafetySlack
	iterations := 0

	r.opts.Logger.Debug("history session started",
		zap.String("channel", channel),
		zap.Int("target", target),
		zap.String("mode", policy.mode.String()),
	)

	for acc.len() < target {
		if err := ctx.Err(); err != nil {
			return ChannelResult{Channel: channel, Records: acc.sorted(), Err: fmt.Errorf("retrieval canceled: %w", err)}
		}
		if iterations >= maxIterations {
			return ChannelResult{Channel: channel, Records: acc.sorted(), Err: &SafetyCapError{Channel: channel, Iterations: iterations}}
		}

		batchSize := min(target-acc.len(), r.opts.BatchCap)
		start, end := policy.bounds()
		batch, err := r.fetcher.FetchHistory(ctx, channel, batchSize, start, end)
		if err != nil {
			return ChannelResult{Channel: channel, Records: acc.sorted(), Err: &TransportError{Channel: channel, Err: err}}
		}
		iterations++

		if len(batch) == 0 {
			break
		}

		added := acc.merge(batch)
		r.emitProgress(Progress{
			Channel:      channel,
			Current:      acc.len(),
			Total:        target,
			Batch:        iterations,
			TotalBatches: totalBatches,
		})
		r.opts.Logger.Debug("history batch merged",
			zap.String("channel", channel),
			zap.Int("batch", iterations),
			zap.Int("returned", len(batch)),
			zap.Int("new", added),
			zap.Int("accumulated", acc.len()),
		)

		if added == 0 {
			// The cursor was advanced past everything already seen, yet the
			// upstream handed the same data back. Treat it as a stuck cursor
			// rather than exhaustion so a misbehaving upstream can never loop.
			return ChannelResult{Channel: channel, Records: acc.sorted(), Err: &SafetyCapError{Channel: channel, Iterations: iterations}}
		}

		if policy.advance(batch[0].Timetoken, batch[len(batch)-1].Timetoken) {
			break
		}
		if len(batch) < batchSize {
			break
		}
		if acc.len() < target && r.opts.Delay > 0 {
			if err := sleepCtx(ctx, r.opts.Delay); err != nil {
				return ChannelResult{Channel: channel, Records: acc.sorted(), Err: fmt.Errorf("retrieval canceled: %w", err)}
			}
		}
	}

	r.opts.Logger.Info("history session complete",
		zap.String("channel", channel),
		zap.Int("records", acc.len()),
		zap.Int("batches", iterations),
	)
	return ChannelResult{Channel: channel, Records: acc.sorted()}
}

func (r *Retriever) emitProgress(p Progress) {
	if r.opts.OnProgress != nil {
		r.opts.OnProgress(p)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
