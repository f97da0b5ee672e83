// Package history implements the canonical conversation store: an
// append-only log of entries with incremental token accounting, a curated
// read view that hides invalid model turns, and a transport view that is
// guaranteed serializable even when the model emits cyclic tool parameters.
package history

import (
	"log/slog"
	"sync"

	"github.com/fahadkaleem/alfred-cli/internal/tokens"
	"github.com/fahadkaleem/alfred-cli/pkg/models"
)

type opKind int

const (
	opAppend opKind = iota
	opClear
)

type pendingOp struct {
	kind  opKind
	entry models.Entry
	model string
}

// Store holds one conversation's comprehensive history and its token
// ledger. A single mutex sequences entry appends and ledger updates, so
// concurrent appends are applied one at a time in arrival order.
//
// While a compression operation is in progress, appends and clears are
// queued instead of applied and flushed in submission order the moment
// compression ends. This keeps the store from observing a partially
// summarized history mid-swap.
type Store struct {
	mu          sync.Mutex
	entries     []models.Entry
	total       int
	estimator   tokens.Estimator
	compressing bool
	pending     []pendingOp
	logger      *slog.Logger
}

// NewStore creates an empty store. A nil estimator falls back to the
// character-based default; a nil logger discards debug notes.
func NewStore(estimator tokens.Estimator, logger *slog.Logger) *Store {
	if estimator == nil {
		estimator = tokens.NewCharEstimator()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{estimator: estimator, logger: logger}
}

// Append adds an entry to the comprehensive history and advances the token
// ledger. Entries with an invalid speaker are dropped silently; the
// upstream model can emit garbage mid-stream and that must never break the
// conversation. During compression the append is queued.
func (s *Store) Append(entry models.Entry, modelHint string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.compressing {
		s.pending = append(s.pending, pendingOp{kind: opAppend, entry: entry, model: modelHint})
		return
	}
	s.appendLocked(entry, modelHint)
}

func (s *Store) appendLocked(entry models.Entry, modelHint string) {
	if !entry.Speaker.Valid() {
		s.logger.Debug("history: dropping entry with invalid speaker",
			"speaker", string(entry.Speaker))
		return
	}
	s.entries = append(s.entries, cloneEntry(entry))
	s.total += s.entryTokens(entry, modelHint)
}

// AppendAll commits a sequence of entries as one indivisible unit with
// respect to other appends. The turn engine uses this to land a user
// entry, its model entry, and any immediate tool responses without
// another append interleaving. During compression the whole batch is
// queued and flushed in order.
func (s *Store) AppendAll(modelHint string, entries ...models.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.compressing {
		for _, entry := range entries {
			s.pending = append(s.pending, pendingOp{kind: opAppend, entry: entry, model: modelHint})
		}
		return
	}
	for _, entry := range entries {
		s.appendLocked(entry, modelHint)
	}
}

// Clear removes all entries and resets the ledger. Queued during
// compression like Append.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.compressing {
		s.pending = append(s.pending, pendingOp{kind: opClear})
		return
	}
	s.entries = nil
	s.total = 0
}

// All returns an independent snapshot of the comprehensive history.
func (s *Store) All() []models.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneEntries(s.entries)
}

// Curated returns an independent snapshot of the curated view: human and
// tool entries always pass; ai entries pass only when they contain at
// least one meaningful block. Thinking blocks are stripped from the
// result; they never leave the comprehensive log.
func (s *Store) Curated() []models.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return curate(s.entries)
}

func curate(entries []models.Entry) []models.Entry {
	var out []models.Entry
	for _, e := range entries {
		if e.Speaker == models.SpeakerAI && !e.HasMeaningfulContent() {
			continue
		}
		clone := cloneEntry(e)
		filtered := clone.Blocks[:0]
		for _, b := range clone.Blocks {
			if b.Kind == models.BlockThinking {
				continue
			}
			filtered = append(filtered, b)
		}
		clone.Blocks = filtered
		out = append(out, clone)
	}
	return out
}

// CuratedForTransport returns the curated view with every block deep
// cloned and any cyclic object graph inside tool parameters or results
// replaced by a cycle marker. The result always serializes cleanly; a
// malformed parameter object must never crash an outgoing request.
func (s *Store) CuratedForTransport() []models.Entry {
	curated := s.Curated()
	for i := range curated {
		for j := range curated[i].Blocks {
			curated[i].Blocks[j] = SanitizeBlock(curated[i].Blocks[j])
		}
	}
	return curated
}

// TotalTokens returns the current ledger value.
func (s *Store) TotalTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Recalculate rebuilds the ledger from scratch, preferring authoritative
// usage metadata and falling back to the estimator. Used after Pop and
// other destructive operations, which do not adjust the ledger
// incrementally.
func (s *Store) Recalculate(defaultModel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total = 0
	for _, e := range s.entries {
		s.total += s.entryTokens(e, defaultModel)
	}
	return s.total
}

// Pop removes and returns the last entry. The ledger is left stale on
// purpose; callers follow up with Recalculate.
func (s *Store) Pop() (models.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.entries) == 0 {
		return models.Entry{}, false
	}
	last := s.entries[len(s.entries)-1]
	s.entries = s.entries[:len(s.entries)-1]
	return last, true
}

// Replace swaps the entire history for a new one and rebuilds the ledger.
// Used by compression and by history loading; entries with invalid
// speakers are dropped the same way Append drops them.
func (s *Store) Replace(entries []models.Entry, defaultModel string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = nil
	s.total = 0
	for _, e := range entries {
		s.appendLocked(e, defaultModel)
	}
}

// Len returns the number of entries in the comprehensive history.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// BeginCompression gates Append and Clear into the pending queue until
// EndCompression runs.
func (s *Store) BeginCompression() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compressing = true
}

// EndCompression lifts the gate and flushes queued operations in
// submission order.
func (s *Store) EndCompression() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compressing = false
	queued := s.pending
	s.pending = nil
	for _, op := range queued {
		switch op.kind {
		case opAppend:
			s.appendLocked(op.entry, op.model)
		case opClear:
			s.entries = nil
			s.total = 0
		}
	}
}

func (s *Store) entryTokens(entry models.Entry, modelHint string) int {
	if t := entry.Usage.Total(); t > 0 {
		return t
	}
	model := entry.Model
	if model == "" {
		model = modelHint
	}
	return s.estimator.EstimateEntry(entry, model)
}

// cloneEntries deep-copies a history slice so callers cannot mutate the
// store through a snapshot.
func cloneEntries(entries []models.Entry) []models.Entry {
	if entries == nil {
		return nil
	}
	out := make([]models.Entry, len(entries))
	for i, e := range entries {
		out[i] = cloneEntry(e)
	}
	return out
}

func cloneEntry(e models.Entry) models.Entry {
	clone := e
	if e.Usage != nil {
		usage := *e.Usage
		clone.Usage = &usage
	}
	clone.Blocks = make([]models.Block, len(e.Blocks))
	for i, b := range e.Blocks {
		clone.Blocks[i] = cloneBlock(b)
	}
	return clone
}

func cloneBlock(b models.Block) models.Block {
	clone := b
	if b.Params != nil {
		clone.Params, _ = cloneGraph(b.Params, make(map[uintptr]any)).(map[string]any)
	}
	if b.Result != nil {
		clone.Result = cloneGraph(b.Result, make(map[uintptr]any))
	}
	return clone
}
