package engine

import (
	"errors"
	"fmt"
)

// Transient stream-invalidity failures. Both are retried up to the
// attempt budget before surfacing to the caller.
var (
	// ErrNoFinishReason marks a stream that ended without an explicit
	// finish reason and without any tool call.
	ErrNoFinishReason = errors.New("stream ended without a finish reason")
	// ErrNoResponseText marks a stream that finished but produced no
	// consolidated response text and no tool call.
	ErrNoResponseText = errors.New("stream produced no response text")
)

// ErrLoopDetected marks a turn aborted by the loop detector.
var ErrLoopDetected = errors.New("loop detected")

// TurnError is the terminal failure of a turn, carrying how many attempts
// were spent before giving up.
type TurnError struct {
	Attempts int
	Err      error
}

func (e *TurnError) Error() string {
	return fmt.Sprintf("turn failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TurnError) Unwrap() error {
	return e.Err
}

// IsStreamInvalid reports whether err is one of the transient
// stream-invalidity failures.
func IsStreamInvalid(err error) bool {
	return errors.Is(err, ErrNoFinishReason) || errors.Is(err, ErrNoResponseText)
}
