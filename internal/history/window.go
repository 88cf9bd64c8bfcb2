package history

import "github.com/relaydeck/relaydeck/internal/timetoken"

// Mode is the pagination policy for a session. It is selected once at
// session start from which window bounds the caller supplied and never
// changes mid-session.
type Mode int

const (
	// Unbounded walks backward from now until enough records are collected.
	Unbounded Mode = iota
	// StartOnly walks forward from the exclusive start bound.
	StartOnly
	// EndOnly walks backward from the inclusive end bound.
	EndOnly
	// Bounded walks forward from start and completes when the cursor
	// reaches end.
	Bounded
)

// String returns the mode name for logs and progress output.
func (m Mode) String() string {
	switch m {
	case Unbounded:
		return "unbounded"
	case StartOnly:
		return "start-only"
	case EndOnly:
		return "end-only"
	case Bounded:
		return "bounded"
	}
	return "unknown"
}

// Mode returns the pagination policy the window selects.
func (w Window) Mode() Mode {
	switch {
	case w.Start != nil && w.End != nil:
		return Bounded
	case w.Start != nil:
		return StartOnly
	case w.End != nil:
		return EndOnly
	}
	return Unbounded
}

// windowPolicy tracks the moving cursor for one session. The upstream always
// returns the records nearest the supplied cursor, so each advance must
// narrow the unexplored side of the window toward already-seen data; moving
// the explored side would re-fetch or loop forever.
type windowPolicy struct {
	mode  Mode
	start *timetoken.Timetoken
	end   *timetoken.Timetoken
}

func newWindowPolicy(w Window) *windowPolicy {
	p := &windowPolicy{mode: w.Mode()}
	if w.Start != nil {
		v := *w.Start
		p.start = &v
	}
	if w.End != nil {
		v := *w.End
		p.end = &v
	}
	return p
}

// bounds returns the cursor values for the next fetch.
func (p *windowPolicy) bounds() (start, end *timetoken.Timetoken) {
	return p.start, p.end
}

// advance moves the cursor past the batch spanning [oldest, newest].
// It returns true when a bounded session has covered its whole window.
func (p *windowPolicy) advance(oldest, newest timetoken.Timetoken) (complete bool) {
	switch p.mode {
	case Unbounded, EndOnly:
		next := oldest - 1
		p.end = &next
	case StartOnly:
		next := newest + 1
		p.start = &next
	case Bounded:
		next := newest + 1
		if next >= *p.end {
			return true
		}
		p.start = &next
	}
	return false
}
