package history

import (
	"errors"
	"fmt"
)

// ErrSafetyCapExceeded is the sentinel wrapped by SafetyCapError.
var ErrSafetyCapExceeded = errors.New("pagination safety cap exceeded")

// TransportError wraps a failed upstream call for one channel. The engine
// never retries; the error is recorded in that channel's result and the
// remaining channels proceed.
type TransportError struct {
	Channel string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("history fetch failed for channel %q: %v", e.Channel, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// SafetyCapError means a session issued more fetches than the target count
// could ever require, which indicates the cursor stopped advancing or the
// upstream keeps returning the same data. It is fatal for that channel's
// session only.
type SafetyCapError struct {
	Channel    string
	Iterations int
}

func (e *SafetyCapError) Error() string {
	return fmt.Sprintf("channel %q: cursor made no progress after %d fetches", e.Channel, e.Iterations)
}

func (e *SafetyCapError) Is(target error) bool {
	return target == ErrSafetyCapExceeded
}
