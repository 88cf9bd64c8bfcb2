package history

import (
	"testing"

	"github.com/relaydeck/relaydeck/internal/timetoken"
	"github.com/stretchr/testify/assert"
)

func ttp(v int64) *timetoken.Timetoken {
	tt := timetoken.Timetoken(v)
	return &tt
}

func TestWindowMode(t *testing.T) {
	tests := []struct {
		name   string
		window Window
		want   Mode
	}{
		{"neither bound", Window{}, Unbounded},
		{"start only", Window{Start: ttp(100)}, StartOnly},
		{"end only", Window{End: ttp(200)}, EndOnly},
		{"both bounds", Window{Start: ttp(100), End: ttp(200)}, Bounded},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.window.Mode())
		})
	}
}

func TestUnboundedAdvancesEndBackward(t *testing.T) {
	p := newWindowPolicy(Window{})

	start, end := p.bounds()
	assert.Nil(t, start)
	assert.Nil(t, end)

	complete := p.advance(1000, 2000)
	assert.False(t, complete)

	start, end = p.bounds()
	assert.Nil(t, start)
	assert.Equal(t, timetoken.Timetoken(999), *end)
}

func TestStartOnlyAdvancesStartForward(t *testing.T) {
	p := newWindowPolicy(Window{Start: ttp(500)})

	complete := p.advance(600, 700)
	assert.False(t, complete)

	start, end := p.bounds()
	assert.Equal(t, timetoken.Timetoken(701), *start)
	assert.Nil(t, end)
}

func TestEndOnlyAdvancesEndBackward(t *testing.T) {
	p := newWindowPolicy(Window{End: ttp(5000)})

	complete := p.advance(4000, 5000)
	assert.False(t, complete)

	start, end := p.bounds()
	assert.Nil(t, start)
	assert.Equal(t, timetoken.Timetoken(3999), *end)
}

func TestBoundedCompletesAtEnd(t *testing.T) {
	p := newWindowPolicy(Window{Start: ttp(100), End: ttp(400)})

	assert.False(t, p.advance(150, 250))
	start, end := p.bounds()
	assert.Equal(t, timetoken.Timetoken(251), *start)
	assert.Equal(t, timetoken.Timetoken(400), *end)

	// Reaching the end bound is completion, not an error.
	assert.True(t, p.advance(300, 400))
}

func TestBoundedCompletesWhenNextStartMeetsEnd(t *testing.T) {
	p := newWindowPolicy(Window{Start: ttp(100), End: ttp(301)})
	assert.True(t, p.advance(200, 300), "nextStart == end means the window is covered")
}

func TestPolicyCopiesCallerBounds(t *testing.T) {
	start := timetoken.Timetoken(100)
	w := Window{Start: &start}
	p := newWindowPolicy(w)
	p.advance(150, 200)

	assert.Equal(t, timetoken.Timetoken(100), start, "caller's bound must not be mutated")
	assert.Equal(t, timetoken.Timetoken(100), *w.Start)
}
