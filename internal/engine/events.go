package engine

import (
	"github.com/fahadkaleem/alfred-cli/internal/provider"
	"github.com/fahadkaleem/alfred-cli/pkg/models"
)

// EventKind discriminates the events a turn emits.
type EventKind string

const (
	// EventContent carries a chunk of visible response text.
	EventContent EventKind = "content"
	// EventThought carries a chunk of model reasoning, kept out of the
	// main output.
	EventThought EventKind = "thought"
	// EventToolCall requests out-of-band execution of a tool.
	EventToolCall EventKind = "tool_call"
	// EventRetry signals that the attempt failed and the exchange is
	// being resent; consumers should discard partial output shown so far.
	EventRetry EventKind = "retry"
	// EventFinished terminates a successful turn with reason and usage.
	EventFinished EventKind = "finished"
	// EventCancelled terminates a cancelled turn. Nothing was committed.
	EventCancelled EventKind = "cancelled"
	// EventError terminates a failed turn after the retry budget.
	EventError EventKind = "error"
	// EventMaxTurns is emitted by the supervising loop when the turn
	// ceiling is reached.
	EventMaxTurns EventKind = "max_turns"
)

// Event is one item in a turn's event stream. Fields beyond Kind are
// populated per kind: Text for content and thought chunks, ToolCall for
// tool_call, Attempt for retry, FinishReason and Usage for finished, Err
// for error.
type Event struct {
	Kind         EventKind
	Text         string
	ToolCall     *models.Block
	Attempt      int
	FinishReason provider.FinishReason
	Usage        *models.Usage
	Err          error
}

// Terminal reports whether the event ends the turn's stream.
func (e Event) Terminal() bool {
	switch e.Kind {
	case EventFinished, EventCancelled, EventError, EventMaxTurns:
		return true
	}
	return false
}
