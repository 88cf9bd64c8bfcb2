package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/relaydeck/relaydeck/internal/timetoken"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fetchCall struct {
	channel string
	count   int
	start   *timetoken.Timetoken
	end     *timetoken.Timetoken
}

// fakeFetcher is a deterministic in-memory upstream. Given a start cursor it
// returns the oldest matching records (forward walk); given only an end
// cursor, or no cursor, it returns the newest (backward walk). Records come
// back ascending, as the Fetcher contract requires.
type fakeFetcher struct {
	mu       sync.Mutex
	store    map[string][]Record
	fail     map[string]error
	fixed    []Record
	calls    []fetchCall
	returned [][]Record
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		store: make(map[string][]Record),
		fail:  make(map[string]error),
	}
}

// seed stores n records on channel with timetokens first, first+step, ...
func (f *fakeFetcher) seed(channel string, n int, first, step int64) {
	records := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		records = append(records, Record{
			Channel:   channel,
			Timetoken: timetoken.Timetoken(first + int64(i)*step),
		})
	}
	f.store[channel] = records
}

func (f *fakeFetcher) FetchHistory(ctx context.Context, channel string, count int, start, end *timetoken.Timetoken) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fetchCall{channel: channel, count: count, start: start, end: end})

	if err, ok := f.fail[channel]; ok {
		return nil, err
	}
	if f.fixed != nil {
		f.returned = append(f.returned, f.fixed)
		return f.fixed, nil
	}

	matched := make([]Record, 0, count)
	for _, r := range f.store[channel] {
		if start != nil && r.Timetoken <= *start {
			continue
		}
		if end != nil && r.Timetoken > *end {
			continue
		}
		matched = append(matched, r)
	}

	var batch []Record
	if start != nil {
		if len(matched) > count {
			matched = matched[:count]
		}
		batch = matched
	} else {
		if len(matched) > count {
			matched = matched[len(matched)-count:]
		}
		batch = matched
	}
	f.returned = append(f.returned, batch)
	return batch, nil
}

func (f *fakeFetcher) channelCalls(channel string) []fetchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []fetchCall
	for _, c := range f.calls {
		if c.channel == channel {
			out = append(out, c)
		}
	}
	return out
}

func testOptions() Options {
	return Options{Delay: time.Millisecond}
}

func TestSingleBatchForSmallTarget(t *testing.T) {
	fake := newFakeFetcher()
	fake.seed("alpha", 200, 1000, 10)
	r := NewRetriever(fake, testOptions())

	results, err := r.Fetch(context.Background(), Request{Channels: []string{"alpha"}, TargetCount: 50})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Err)

	assert.Len(t, fake.calls, 1, "a target within one batch needs exactly one fetch")
	assert.Len(t, results[0].Records, 50)
	// Unbounded mode walks backward from now, so these are the newest 50.
	assert.Equal(t, timetoken.Timetoken(1000+150*10), results[0].Records[0].Timetoken)
}

func TestExactBatchSequenceFor250(t *testing.T) {
	fake := newFakeFetcher()
	fake.seed("alpha", 300, 1000, 10)
	r := NewRetriever(fake, testOptions())

	results, err := r.Fetch(context.Background(), Request{Channels: []string{"alpha"}, TargetCount: 250})
	require.NoError(t, err)
	require.NoError(t, results[0].Err)

	calls := fake.channelCalls("alpha")
	require.Len(t, calls, 3)
	assert.Equal(t, 100, calls[0].count)
	assert.Equal(t, 100, calls[1].count)
	assert.Equal(t, 50, calls[2].count)

	require.Len(t, results[0].Records, 250)
	seen := make(map[timetoken.Timetoken]struct{})
	for i, rec := range results[0].Records {
		if _, dup := seen[rec.Timetoken]; dup {
			t.Fatalf("duplicate timetoken %s at index %d", rec.Timetoken, i)
		}
		seen[rec.Timetoken] = struct{}{}
		if i > 0 {
			assert.Less(t, int64(results[0].Records[i-1].Timetoken), int64(rec.Timetoken))
		}
	}
}

func TestNoModeRefetchesReturnedData(t *testing.T) {
	windows := map[string]Window{
		"unbounded":  {},
		"start-only": {Start: ttp(1000)},
		"end-only":   {End: ttp(1000 + 299*10)},
		"bounded":    {Start: ttp(1000), End: ttp(1000 + 299*10)},
	}

	for name, window := range windows {
		t.Run(name, func(t *testing.T) {
			fake := newFakeFetcher()
			fake.seed("alpha", 300, 1000, 10)
			r := NewRetriever(fake, testOptions())

			results, err := r.Fetch(context.Background(), Request{Channels: []string{"alpha"}, TargetCount: 250, Window: window})
			require.NoError(t, err)
			require.NoError(t, results[0].Err)

			seen := make(map[timetoken.Timetoken]int)
			for _, batch := range fake.returned {
				for _, rec := range batch {
					seen[rec.Timetoken]++
				}
			}
			for tt, n := range seen {
				assert.Equal(t, 1, n, "timetoken %s was fetched %d times", tt, n)
			}
		})
	}
}

func TestBoundedRespectsWindow(t *testing.T) {
	fake := newFakeFetcher()
	fake.seed("alpha", 300, 1000, 10)
	start := timetoken.Timetoken(1500)
	end := timetoken.Timetoken(3000)
	r := NewRetriever(fake, testOptions())

	results, err := r.Fetch(context.Background(), Request{
		Channels:    []string{"alpha"},
		TargetCount: 300,
		Window:      Window{Start: &start, End: &end},
	})
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	require.NotEmpty(t, results[0].Records)

	for _, rec := range results[0].Records {
		assert.Greater(t, int64(rec.Timetoken), int64(start), "start is exclusive")
		assert.LessOrEqual(t, int64(rec.Timetoken), int64(end), "end is inclusive")
	}
}

func TestBoundedIdempotence(t *testing.T) {
	start := timetoken.Timetoken(1200)
	end := timetoken.Timetoken(2800)
	req := Request{Channels: []string{"alpha"}, TargetCount: 500, Window: Window{Start: &start, End: &end}}

	run := func() map[timetoken.Timetoken]struct{} {
		fake := newFakeFetcher()
		fake.seed("alpha", 300, 1000, 10)
		r := NewRetriever(fake, testOptions())
		results, err := r.Fetch(context.Background(), req)
		require.NoError(t, err)
		require.NoError(t, results[0].Err)
		set := make(map[timetoken.Timetoken]struct{}, len(results[0].Records))
		for _, rec := range results[0].Records {
			set[rec.Timetoken] = struct{}{}
		}
		return set
	}

	assert.Equal(t, run(), run(), "same bounded request against unchanged upstream is set-equal")
}

func TestExhaustionIsNotAnError(t *testing.T) {
	fake := newFakeFetcher()
	fake.seed("alpha", 120, 1000, 10)
	r := NewRetriever(fake, testOptions())

	results, err := r.Fetch(context.Background(), Request{Channels: []string{"alpha"}, TargetCount: 500})
	require.NoError(t, err)
	require.NoError(t, results[0].Err, "running out of history is normal termination")
	assert.Len(t, results[0].Records, 120)
	assert.Len(t, fake.calls, 2, "100 + short batch of 20")
}

func TestEmptyChannel(t *testing.T) {
	fake := newFakeFetcher()
	fake.seed("alpha", 0, 0, 0)
	r := NewRetriever(fake, testOptions())

	results, err := r.Fetch(context.Background(), Request{Channels: []string{"alpha"}, TargetCount: 100})
	require.NoError(t, err)
	require.NoError(t, results[0].Err)
	assert.Empty(t, results[0].Records)
	assert.Len(t, fake.calls, 1)
}

func TestChannelFailureIsolation(t *testing.T) {
	fake := newFakeFetcher()
	fake.seed("alpha", 50, 1000, 10)
	fake.seed("gamma", 50, 1000, 10)
	fake.fail["broken"] = errors.New("connection reset")
	r := NewRetriever(fake, testOptions())

	results, err := r.Fetch(context.Background(), Request{
		Channels:    []string{"alpha", "broken", "gamma"},
		TargetCount: 50,
	})
	require.NoError(t, err)
	require.Len(t, results, 3, "every requested channel gets a result")

	require.NoError(t, results[0].Err)
	assert.Len(t, results[0].Records, 50)

	var transportErr *TransportError
	require.ErrorAs(t, results[1].Err, &transportErr)
	assert.Equal(t, "broken", transportErr.Channel)
	assert.Empty(t, results[1].Records)

	require.NoError(t, results[2].Err)
	assert.Len(t, results[2].Records, 50)
}

func TestSafetyCapOnRepeatingUpstream(t *testing.T) {
	fake := newFakeFetcher()
	fixed := make([]Record, 100)
	for i := range fixed {
		fixed[i] = Record{Channel: "alpha", Timetoken: timetoken.Timetoken(1000 + int64(i)*10)}
	}
	fake.fixed = fixed
	r := NewRetriever(fake, testOptions())

	results, err := r.Fetch(context.Background(), Request{Channels: []string{"alpha"}, TargetCount: 250})
	require.NoError(t, err)
	require.Error(t, results[0].Err)
	assert.ErrorIs(t, results[0].Err, ErrSafetyCapExceeded)
	assert.LessOrEqual(t, len(fake.calls), 5, "the loop must terminate promptly, not hang")

	var capErr *SafetyCapError
	require.ErrorAs(t, results[0].Err, &capErr)
	assert.Equal(t, "alpha", capErr.Channel)
}

func TestIterationCapOnOverlappingUpstream(t *testing.T) {
	// An upstream that slides its window back by one record per call returns
	// full batches that are 99% already-seen. Each merge makes progress, so
	// the zero-new stop never fires; the iteration cap must.
	base := make([]Record, 1000)
	for i := range base {
		base[i] = Record{Channel: "alpha", Timetoken: timetoken.Timetoken(1000 + int64(i)*10)}
	}
	r := NewRetriever(&slidingFetcher{base: base}, testOptions())

	results, err := r.Fetch(context.Background(), Request{Channels: []string{"alpha"}, TargetCount: 500})
	require.NoError(t, err)
	assert.ErrorIs(t, results[0].Err, ErrSafetyCapExceeded)
}

// slidingFetcher ignores the cursor and returns a fixed-size window that
// shifts one record older per call.
type slidingFetcher struct {
	base []Record
	n    int
}

func (f *slidingFetcher) FetchHistory(ctx context.Context, channel string, count int, start, end *timetoken.Timetoken) ([]Record, error) {
	lo := len(f.base) - count - f.n
	if lo < 0 {
		lo = 0
	}
	f.n++
	return f.base[lo : lo+count], nil
}

func TestProgressReporting(t *testing.T) {
	fake := newFakeFetcher()
	fake.seed("alpha", 300, 1000, 10)

	var mu sync.Mutex
	var updates []Progress
	opts := testOptions()
	opts.OnProgress = func(p Progress) {
		mu.Lock()
		updates = append(updates, p)
		mu.Unlock()
	}
	r := NewRetriever(fake, opts)

	_, err := r.Fetch(context.Background(), Request{Channels: []string{"alpha"}, TargetCount: 250})
	require.NoError(t, err)

	require.Len(t, updates, 3)
	assert.Equal(t, Progress{Channel: "alpha", Current: 100, Total: 250, Batch: 1, TotalBatches: 3}, updates[0])
	assert.Equal(t, Progress{Channel: "alpha", Current: 200, Total: 250, Batch: 2, TotalBatches: 3}, updates[1])
	assert.Equal(t, Progress{Channel: "alpha", Current: 250, Total: 250, Batch: 3, TotalBatches: 3}, updates[2])
}

func TestCancellationBeforeStart(t *testing.T) {
	fake := newFakeFetcher()
	fake.seed("alpha", 50, 1000, 10)
	r := NewRetriever(fake, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := r.Fetch(ctx, Request{Channels: []string{"alpha", "beta"}, TargetCount: 50})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.ErrorIs(t, res.Err, context.Canceled)
		assert.Empty(t, res.Records)
	}
	assert.Empty(t, fake.calls, "no fetches after cancellation")
}

func TestCancellationMidSession(t *testing.T) {
	fake := newFakeFetcher()
	fake.seed("alpha", 300, 1000, 10)
	fake.seed("beta", 300, 1000, 10)

	ctx, cancel := context.WithCancel(context.Background())
	opts := testOptions()
	opts.OnProgress = func(p Progress) {
		if p.Channel == "alpha" && p.Batch == 1 {
			cancel()
		}
	}
	r := NewRetriever(fake, opts)

	results, err := r.Fetch(ctx, Request{Channels: []string{"alpha", "beta"}, TargetCount: 250})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// The in-flight channel keeps its partial accumulation plus a marker.
	assert.ErrorIs(t, results[0].Err, context.Canceled)
	assert.Len(t, results[0].Records, 100, "accumulation is additive, nothing is rolled back")

	// The never-started channel is marked too, never silently dropped.
	assert.ErrorIs(t, results[1].Err, context.Canceled)
	assert.Empty(t, results[1].Records)
}

func TestConcurrentMatchesSequential(t *testing.T) {
	channels := []string{"a", "b", "c", "d", "e", "f"}
	req := Request{Channels: channels, TargetCount: 150}

	run := func(concurrency int) []ChannelResult {
		fake := newFakeFetcher()
		for _, ch := range channels {
			fake.seed(ch, 200, 1000, 10)
		}
		opts := testOptions()
		opts.Concurrency = concurrency
		r := NewRetriever(fake, opts)
		results, err := r.Fetch(context.Background(), req)
		require.NoError(t, err)
		return results
	}

	sequential := run(1)
	concurrent := run(4)

	require.Len(t, concurrent, len(sequential))
	for i := range sequential {
		assert.Equal(t, sequential[i].Channel, concurrent[i].Channel, "results keep request order")
		assert.Equal(t, sequential[i].Records, concurrent[i].Records)
	}
}

func TestInvalidRequests(t *testing.T) {
	r := NewRetriever(newFakeFetcher(), testOptions())

	_, err := r.Fetch(context.Background(), Request{TargetCount: 10})
	assert.Error(t, err, "no channels")

	_, err = r.Fetch(context.Background(), Request{Channels: []string{"a"}, TargetCount: 0})
	assert.Error(t, err, "zero target")

	_, err = r.Fetch(context.Background(), Request{
		Channels:    []string{"a"},
		TargetCount: 10,
		Window:      Window{Start: ttp(500), End: ttp(400)},
	})
	assert.Error(t, err, "inverted window")
}
