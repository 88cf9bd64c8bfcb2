package history

import (
	"sort"

	"github.com/relaydeck/relaydeck/internal/timetoken"
)

// accumulator merges batches into a single duplicate-free record set.
// Timetokens are the dedup key: overlapping batches legitimately repeat
// boundary records, and the count of genuinely new records per merge is the
// session's primary termination signal.
type accumulator struct {
	seen    map[timetoken.Timetoken]struct{}
	records []Record
}

func newAccumulator(capacity int) *accumulator {
	return &accumulator{
		seen:    make(map[timetoken.Timetoken]struct{}, capacity),
		records: make([]Record, 0, capacity),
	}
}

// merge appends previously unseen records and returns how many were new.
func (a *accumulator) merge(batch []Record) int {
	added := 0
	for _, rec := range batch {
		if _, dup := a.seen[rec.Timetoken]; dup {
			continue
		}
		a.seen[rec.Timetoken] = struct{}{}
		a.records = append(a.records, rec)
		added++
	}
	return added
}

func (a *accumulator) len() int {
	return len(a.records)
}

// sorted returns the accumulated records in ascending timetoken order,
// regardless of the order batches arrived in.
func (a *accumulator) sorted() []Record {
	sort.Slice(a.records, func(i, j int) bool {
		return a.records[i].Timetoken < a.records[j].Timetoken
	})
	return a.records
}
