// Package tokens provides pluggable token estimation for conversation
// entries. The default estimator uses the ~4 characters per token
// approximation; callers that have a real tokenizer for a model can supply
// their own implementation.
package tokens

import (
	"encoding/json"

	"github.com/fahadkaleem/alfred-cli/pkg/models"
)

// CharsPerToken is the approximate character-to-token ratio used when no
// authoritative usage metadata is available.
const CharsPerToken = 4

// Estimator estimates the token cost of a single entry for a given model.
// Implementations must be safe for concurrent use.
type Estimator interface {
	EstimateEntry(entry models.Entry, model string) int
}

// CharEstimator estimates tokens from serialized character length. It is
// the default and only depends on entry content, not on the model.
type CharEstimator struct{}

// NewCharEstimator returns the default character-based estimator.
func NewCharEstimator() CharEstimator {
	return CharEstimator{}
}

// EstimateEntry returns ceil(chars / 4) across all of the entry's blocks,
// counting tool parameters and results by their JSON length.
func (CharEstimator) EstimateEntry(entry models.Entry, model string) int {
	chars := 0
	for _, b := range entry.Blocks {
		chars += len(b.Text) + len(b.Caption)
		if b.Kind == models.BlockToolCall {
			chars += len(b.Name) + jsonLen(b.Params)
		}
		if b.Kind == models.BlockToolResponse {
			chars += len(b.ToolName) + len(b.Error) + jsonLen(b.Result)
		}
	}
	return (chars + CharsPerToken - 1) / CharsPerToken
}

// jsonLen measures a value by its JSON encoding. Values that cannot be
// serialized (cycles, channels) contribute a flat minimum so the ledger
// never under-counts to zero for non-empty payloads.
func jsonLen(v any) int {
	if v == nil {
		return 0
	}
	data, err := json.Marshal(v)
	if err != nil {
		return 16
	}
	return len(data)
}
