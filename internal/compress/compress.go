// Package compress shrinks a conversation that is approaching its model's
// context limit by summarizing the oldest portion into a snapshot turn and
// reseeding the store with the snapshot plus the preserved tail.
package compress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fahadkaleem/alfred-cli/internal/history"
	"github.com/fahadkaleem/alfred-cli/internal/provider"
	"github.com/fahadkaleem/alfred-cli/internal/tokens"
	"github.com/fahadkaleem/alfred-cli/pkg/models"
)

// Status is the outcome class of a compression attempt.
type Status string

const (
	// StatusNoop means compression was skipped: nothing to do, below the
	// trigger threshold, or the circuit breaker is set.
	StatusNoop Status = "noop"
	// StatusCompressed means the history was replaced by a smaller one.
	StatusCompressed Status = "compressed"
	// StatusFailed means the attempt ran and was discarded; the original
	// history is untouched.
	StatusFailed Status = "failed"
)

// Result reports one compression attempt.
type Result struct {
	Status       Status
	BeforeTokens int
	AfterTokens  int
	// Inflated marks a failure where the summarized history would have
	// counted no fewer tokens than the original.
	Inflated bool
}

// Config tunes the compressor.
type Config struct {
	// Threshold is the fraction of the context window at which
	// non-forced compression triggers. Defaults to 0.7.
	Threshold float64
	// Preserve is the fraction of history kept out of the summary.
	// Defaults to 0.3.
	Preserve float64
	// MaxTokens bounds the summarization response.
	MaxTokens int
}

// Compressor owns the compression policy for one store/backend pair. A
// failed non-forced attempt sets a sticky circuit breaker so the session
// does not burn requests re-trying a summarization that inflates; only a
// forced attempt resets it.
type Compressor struct {
	store   *history.Store
	backend provider.Backend
	cfg     Config
	logger  *slog.Logger

	mu      sync.Mutex
	tripped bool
}

// New creates a compressor.
func New(store *history.Store, backend provider.Backend, cfg Config, logger *slog.Logger) *Compressor {
	if cfg.Threshold <= 0 || cfg.Threshold >= 1 {
		cfg.Threshold = 0.7
	}
	if cfg.Preserve <= 0 || cfg.Preserve >= 1 {
		cfg.Preserve = 0.3
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8192
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Compressor{store: store, backend: backend, cfg: cfg, logger: logger}
}

// MaybeCompress runs the trigger policy and, when warranted, the
// summarize-and-reseed exchange. It never returns an error; failures are
// a status value so the caller can proceed with uncompressed history.
func (c *Compressor) MaybeCompress(ctx context.Context, model string, force bool) Result {
	curated := c.store.Curated()
	before := c.store.TotalTokens()
	result := Result{Status: StatusNoop, BeforeTokens: before, AfterTokens: before}

	if len(curated) == 0 {
		return result
	}

	c.mu.Lock()
	if c.tripped && !force {
		c.mu.Unlock()
		c.logger.Debug("compression skipped, circuit breaker set")
		return result
	}
	if force {
		c.tripped = false
	}
	c.mu.Unlock()

	if !force {
		window := c.backend.ContextWindow(model)
		if window > 0 && float64(before) < c.cfg.Threshold*float64(window) {
			return result
		}
	}

	// The split measurement and the summarization payload both go through
	// the sanitized transport view, the same one every outgoing request
	// uses; a cyclic tool parameter must not reach the vendor encoder.
	// Sanitizing the single snapshot keeps the two views index-aligned.
	transport := sanitizeEntries(curated)

	split := FindSplitPoint(transport, c.cfg.Preserve)
	if split == 0 {
		return result
	}
	head, tail := transport[:split], curated[split:]

	c.store.BeginCompression()
	defer c.store.EndCompression()

	summary, err := c.summarize(ctx, model, head)
	if err != nil {
		c.logger.Debug("summarization failed", "error", err)
		c.trip(force)
		result.Status = StatusFailed
		return result
	}

	next := make([]models.Entry, 0, len(tail)+2)
	next = append(next, seedTurn(summary), acknowledgmentTurn(model))
	next = append(next, tail...)

	after := approximateTokens(next)
	if after >= before {
		// Inflated count: the snapshot plus tail is no smaller than what
		// it replaces. Keep the original history intact.
		c.logger.Debug("compression inflated token count", "before", before, "after", after)
		c.trip(force)
		result.Status = StatusFailed
		result.Inflated = true
		return result
	}

	c.store.Replace(next, model)
	result.Status = StatusCompressed
	result.AfterTokens = c.store.TotalTokens()
	c.logger.Debug("history compressed", "before", before, "after", result.AfterTokens,
		"summarized_entries", len(head), "preserved_entries", len(tail))
	return result
}

// sanitizeEntries maps every block through the transport sanitizer
// without touching the input slice's graphs.
func sanitizeEntries(entries []models.Entry) []models.Entry {
	out := make([]models.Entry, len(entries))
	for i, e := range entries {
		clone := e
		clone.Blocks = make([]models.Block, len(e.Blocks))
		for j, b := range e.Blocks {
			clone.Blocks[j] = history.SanitizeBlock(b)
		}
		out[i] = clone
	}
	return out
}

func (c *Compressor) trip(force bool) {
	if force {
		return
	}
	c.mu.Lock()
	c.tripped = true
	c.mu.Unlock()
}

// summarize sends the to-be-compressed entries plus one instruction turn
// and returns the response text verbatim.
func (c *Compressor) summarize(ctx context.Context, model string, head []models.Entry) (string, error) {
	entries := make([]models.Entry, 0, len(head)+1)
	entries = append(entries, head...)
	entries = append(entries, models.TextEntry(models.SpeakerHuman, summarizeInstruction))

	chunks, err := c.backend.Stream(ctx, &provider.Request{
		Model:     model,
		System:    summarizerSystemPrompt,
		Entries:   entries,
		MaxTokens: c.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	var text strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		text.WriteString(chunk.Text)
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", ErrEmptySummary
	}
	return text.String(), nil
}

// FindSplitPoint returns the index before which history should be
// summarized. preserve is the fraction of serialized characters to keep;
// it must be strictly between 0 and 1. Candidate split points are
// human-speaker entries that are not tool responses. When the character
// target is never reached at a valid candidate, a history ending in a
// clean model turn (no tool calls) compresses wholesale; otherwise the
// last candidate seen wins. A return of 0 means compress nothing.
func FindSplitPoint(entries []models.Entry, preserve float64) int {
	if preserve <= 0 || preserve >= 1 {
		panic(fmt.Sprintf("compress: preserve fraction %v out of range (0, 1)", preserve))
	}

	lengths := make([]int, len(entries))
	total := 0
	for i, entry := range entries {
		lengths[i] = serializedLen(entry)
		total += lengths[i]
	}
	target := float64(total) * (1 - preserve)

	lastCandidate := 0
	cumulative := 0
	for i, entry := range entries {
		if entry.Speaker == models.SpeakerHuman && !entry.IsToolResponseOnly() {
			if float64(cumulative) >= target {
				return i
			}
			lastCandidate = i
		}
		cumulative += lengths[i]
	}

	if n := len(entries); n > 0 {
		last := entries[n-1]
		if last.Speaker == models.SpeakerAI && len(last.ToolCalls()) == 0 {
			return n
		}
	}
	return lastCandidate
}

func serializedLen(entry models.Entry) int {
	data, err := json.Marshal(entry)
	if err != nil {
		// Cyclic tool parameters; fall back to the text length.
		return len(entry.Text())
	}
	return len(data)
}

// approximateTokens is the post-compression estimate: serialized
// character length over all entries divided by four.
func approximateTokens(entries []models.Entry) int {
	chars := 0
	for _, entry := range entries {
		chars += serializedLen(entry)
	}
	return (chars + tokens.CharsPerToken - 1) / tokens.CharsPerToken
}

func seedTurn(summary string) models.Entry {
	entry := models.TextEntry(models.SpeakerHuman, summary)
	entry.ID = uuid.NewString()
	entry.CreatedAt = time.Now()
	return entry
}

func acknowledgmentTurn(model string) models.Entry {
	entry := models.TextEntry(models.SpeakerAI, acknowledgmentText)
	entry.ID = uuid.NewString()
	entry.Model = model
	entry.CreatedAt = time.Now()
	return entry
}

// ErrEmptySummary is returned by summarize when the backend produced no
// usable text.
var ErrEmptySummary = errors.New("summarizer returned no text")
