package provider

import (
	"log/slog"

	"github.com/fahadkaleem/alfred-cli/pkg/models"
)

// ShapeForTransport applies the outgoing-payload-only normalizations the
// active backend needs. The canonical store is never modified; shaping
// works on the snapshot handed to the adapter.
//
// Two rules apply:
//
//   - Echo suppression: when entry i is a model turn containing exactly
//     one tool call and entry i+1 is a user turn containing exactly one
//     matching tool response, backends that retain calls server-side
//     reject a resent echo, so the echo entry is omitted.
//
//   - Response fan-out: when one entry groups multiple tool responses
//     (parallel calls resolved together) and the backend accepts only one
//     result per message, the entry is split into N single-response
//     entries.
func ShapeForTransport(entries []models.Entry, caps Capabilities) []models.Entry {
	shaped := entries
	if !caps.RequiresToolEcho {
		shaped = suppressEchoes(shaped)
	}
	if caps.SingleResponsePerMessage {
		shaped = fanOutResponses(shaped)
	}
	return shaped
}

func suppressEchoes(entries []models.Entry) []models.Entry {
	out := make([]models.Entry, 0, len(entries))
	for i := 0; i < len(entries); i++ {
		if isSuppressibleEcho(entries, i) {
			continue
		}
		out = append(out, entries[i])
	}
	return out
}

// isSuppressibleEcho reports whether entries[i] is a single-tool-call
// model turn whose lone call is answered by exactly one matching response
// in the following entry. Multi-call turns carry ordering information the
// backend needs and are never suppressed.
func isSuppressibleEcho(entries []models.Entry, i int) bool {
	if i+1 >= len(entries) {
		return false
	}
	cur, next := entries[i], entries[i+1]
	if cur.Speaker != models.SpeakerAI || next.Speaker == models.SpeakerAI {
		return false
	}
	calls := cur.ToolCalls()
	if len(calls) != 1 || len(cur.Blocks) != 1 {
		return false
	}
	responses := next.ToolResponses()
	if len(responses) != 1 {
		return false
	}
	return responses[0].CallID == calls[0].ID
}

func fanOutResponses(entries []models.Entry) []models.Entry {
	out := make([]models.Entry, 0, len(entries))
	for _, e := range entries {
		responses := e.ToolResponses()
		if len(responses) < 2 || len(responses) != len(e.Blocks) {
			out = append(out, e)
			continue
		}
		for _, r := range responses {
			split := e
			split.Blocks = []models.Block{r}
			out = append(out, split)
		}
	}
	return out
}

// dropUnknownBlocks filters out block kinds the adapter has no wire
// representation for. Unknown blocks are a debug note, never an error; the
// model stays free to emit content this engine version does not interpret.
func dropUnknownBlocks(blocks []models.Block, known map[models.BlockKind]bool, logger *slog.Logger) []models.Block {
	out := make([]models.Block, 0, len(blocks))
	for _, b := range blocks {
		if !known[b.Kind] {
			if logger != nil {
				logger.Debug("provider: dropping unsupported block kind", "kind", string(b.Kind))
			}
			continue
		}
		out = append(out, b)
	}
	return out
}
