// Package timetoken implements the persistence network's timestamp format.
//
// A timetoken is a count of 100-nanosecond ticks since the Unix epoch. It is
// both the timestamp attached to every stored message and the pagination
// cursor for history fetches. Values are far beyond the 53-bit float-safe
// range, so all arithmetic is done on int64 and the wire representation is a
// decimal string.
package timetoken

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// TicksPerSecond is the number of timetoken ticks in one second.
const TicksPerSecond int64 = 10_000_000

// TicksPerMillisecond is the number of timetoken ticks in one millisecond.
const TicksPerMillisecond int64 = 10_000

// nanosPerTick is the duration of one tick in nanoseconds.
const nanosPerTick int64 = 100

// Timetoken is a 100ns-tick timestamp used by the persistence API.
type Timetoken int64

// FromTime converts a time.Time to a Timetoken.
func FromTime(t time.Time) Timetoken {
	return Timetoken(t.UnixNano() / nanosPerTick)
}

// Now returns the Timetoken for the current instant.
func Now() Timetoken {
	return FromTime(time.Now())
}

// Parse parses a decimal timetoken string.
func Parse(s string) (Timetoken, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid timetoken %q: %w", s, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid timetoken %q: must be non-negative", s)
	}
	return Timetoken(v), nil
}

// Time converts the Timetoken to a time.Time in UTC.
func (tt Timetoken) Time() time.Time {
	return time.Unix(0, int64(tt)*nanosPerTick).UTC()
}

// Millis returns the Timetoken as milliseconds since the Unix epoch.
// This is what display layers use for rendering.
func (tt Timetoken) Millis() int64 {
	return int64(tt) / TicksPerMillisecond
}

// String returns the decimal wire representation.
func (tt Timetoken) String() string {
	return strconv.FormatInt(int64(tt), 10)
}

// MarshalJSON encodes the timetoken as a string so JavaScript consumers
// never see it as a lossy float.
func (tt Timetoken) MarshalJSON() ([]byte, error) {
	return json.Marshal(tt.String())
}

// UnmarshalJSON accepts both string and numeric encodings. Upstream
// responses use strings, but older clients send raw numbers.
func (tt *Timetoken) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*tt = parsed
	return nil
}
