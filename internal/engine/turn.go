// Package engine runs streaming conversation turns: it shapes the
// outgoing payload from curated history, validates and accumulates the
// backend's stream, retries transiently invalid exchanges, and commits
// successful turns to the store as one atomic unit. Nothing is written to
// history until the exchange succeeds.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fahadkaleem/alfred-cli/internal/backoff"
	"github.com/fahadkaleem/alfred-cli/internal/history"
	"github.com/fahadkaleem/alfred-cli/internal/provider"
	"github.com/fahadkaleem/alfred-cli/pkg/models"
)

// Config tunes one engine instance.
type Config struct {
	// System is the system prompt sent with every request.
	System string
	// MaxTokens bounds the response length; 0 uses the backend default.
	MaxTokens int
	// Retry is the attempt budget and backoff for transiently invalid
	// streams. Zero value uses backoff.DefaultPolicy.
	Retry backoff.Policy
}

// Engine drives streaming turns against one backend over one store.
type Engine struct {
	store    *history.Store
	backend  provider.Backend
	registry *provider.Registry
	cfg      Config
	logger   *slog.Logger
}

// New creates a turn engine. The store is exclusively owned by this
// engine; backend and registry may be shared across engines.
func New(store *history.Store, backend provider.Backend, registry *provider.Registry, cfg Config, logger *slog.Logger) *Engine {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = backoff.DefaultPolicy()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if registry == nil {
		registry = provider.NewRegistry()
	}
	return &Engine{
		store:    store,
		backend:  backend,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
	}
}

// Store exposes the engine's conversation store.
func (e *Engine) Store() *history.Store { return e.store }

// Backend exposes the engine's backend adapter.
func (e *Engine) Backend() provider.Backend { return e.backend }

// turnOutcome is one successful attempt's accumulated output.
type turnOutcome struct {
	blocks []models.Block
	finish provider.FinishReason
	usage  *models.Usage
}

// RunTurn executes one turn and returns its event stream. The channel is
// closed after a terminal event. On cancellation nothing is committed and
// partial output is discarded.
func (e *Engine) RunTurn(ctx context.Context, model, userInput string) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		e.runTurn(ctx, model, userInput, events)
	}()
	return events
}

func (e *Engine) runTurn(ctx context.Context, model, userInput string, events chan<- Event) {
	userEntry := models.TextEntry(models.SpeakerHuman, userInput)
	userEntry.ID = uuid.NewString()
	userEntry.CreatedAt = time.Now()

	payload := append(e.store.CuratedForTransport(), userEntry)

	policy := e.cfg.Retry
	policy.Retryable = func(err error) bool {
		return IsStreamInvalid(err) || provider.IsRetryable(err)
	}
	policy.OnRetry = func(nextAttempt int, err error) {
		e.logger.Debug("retrying turn", "model", model, "attempt", nextAttempt, "error", err)
		emit(ctx, events, Event{Kind: EventRetry, Attempt: nextAttempt, Err: err})
	}

	var outcome *turnOutcome
	result := backoff.Do(ctx, policy, func() error {
		o, err := e.attempt(ctx, model, payload, events)
		if err != nil {
			return err
		}
		outcome = o
		return nil
	})

	if ctx.Err() != nil {
		emit(context.Background(), events, Event{Kind: EventCancelled})
		return
	}
	if result.Err != nil {
		var be *provider.BackendError
		if errors.As(result.Err, &be) {
			// A depth rejection on a registry carrying a self-referential
			// tool schema gets the diagnostic attached before surfacing.
			be.WithSchemaHint(e.registry)
		}
		emit(ctx, events, Event{Kind: EventError, Err: &TurnError{Attempts: result.Attempts, Err: result.Err}})
		return
	}

	modelEntry := models.Entry{
		Speaker:   models.SpeakerAI,
		Blocks:    outcome.blocks,
		ID:        uuid.NewString(),
		Model:     model,
		Usage:     outcome.usage,
		CreatedAt: time.Now(),
	}
	e.store.AppendAll(model, userEntry, modelEntry)

	emit(ctx, events, Event{Kind: EventFinished, FinishReason: outcome.finish, Usage: outcome.usage})
}

// attempt opens one streaming exchange and accumulates it into an
// outcome, applying the mutator truncation heuristic and the stream
// validity rules.
func (e *Engine) attempt(ctx context.Context, model string, payload []models.Entry, events chan<- Event) (*turnOutcome, error) {
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req := &provider.Request{
		Model:     model,
		System:    e.cfg.System,
		Entries:   payload,
		Tools:     e.registry.Decls(),
		MaxTokens: e.cfg.MaxTokens,
	}
	chunks, err := e.backend.Stream(streamCtx, req)
	if err != nil {
		return nil, err
	}

	out := &turnOutcome{}
	var text strings.Builder
	var thinking strings.Builder
	firstMutating := -1
	truncated := false

	flushText := func() {
		if text.Len() > 0 {
			out.blocks = append(out.blocks, models.Block{Kind: models.BlockText, Text: text.String()})
			text.Reset()
		}
	}

	for chunk := range chunks {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if truncated {
			continue // drain the stream after truncation
		}
		if chunk.Err != nil {
			return nil, chunk.Err
		}

		switch {
		case chunk.Text != "":
			text.WriteString(chunk.Text)
			if !emit(ctx, events, Event{Kind: EventContent, Text: chunk.Text}) {
				return nil, ctx.Err()
			}

		case chunk.Thinking != "":
			thinking.WriteString(chunk.Thinking)
			if !emit(ctx, events, Event{Kind: EventThought, Text: chunk.Thinking}) {
				return nil, ctx.Err()
			}

		case chunk.ToolCall != nil:
			call := *chunk.ToolCall
			if e.registry.IsMutating(call.Name) && firstMutating >= 0 {
				// A second mutating call before seeing the first one's
				// result: cut the stream after the first mutating call
				// and synthesize the stop.
				e.logger.Debug("truncating turn at second mutating tool call",
					"tool", call.Name, "model", model)
				out.blocks = out.blocks[:firstMutating+1]
				text.Reset()
				out.finish = provider.FinishTruncated
				truncated = true
				cancel()
				continue
			}
			flushText()
			out.blocks = append(out.blocks, call)
			if e.registry.IsMutating(call.Name) {
				firstMutating = len(out.blocks) - 1
			}
			if !emit(ctx, events, Event{Kind: EventToolCall, ToolCall: &call}) {
				return nil, ctx.Err()
			}

		case chunk.FinishReason != "" || chunk.Usage != nil:
			if chunk.FinishReason != "" {
				out.finish = chunk.FinishReason
			}
			if chunk.Usage != nil {
				usage := *chunk.Usage
				if usage.TotalTokens == 0 {
					usage.TotalTokens = usage.InputTokens + usage.OutputTokens
				}
				out.usage = &usage
			}
		}
	}

	flushText()
	if thinking.Len() > 0 {
		// Reasoning rides the entry but stays out of the main output;
		// the curated view strips it before the next request.
		out.blocks = append([]models.Block{{Kind: models.BlockThinking, Text: thinking.String()}}, out.blocks...)
	}

	return out, e.validate(out)
}

// validate applies the turn validity rule: a turn stands if it requested
// at least one tool call, or it has both an explicit finish reason and
// non-empty consolidated text.
func (e *Engine) validate(out *turnOutcome) error {
	hasToolCall := false
	var consolidated strings.Builder
	for _, block := range out.blocks {
		switch block.Kind {
		case models.BlockToolCall:
			hasToolCall = true
		case models.BlockText, models.BlockCode:
			consolidated.WriteString(block.Text)
		}
	}
	if hasToolCall {
		return nil
	}
	if out.finish == provider.FinishNone {
		return ErrNoFinishReason
	}
	if strings.TrimSpace(consolidated.String()) == "" {
		return ErrNoResponseText
	}
	return nil
}

// emit sends an event unless the context is done. Returns false when the
// send was abandoned.
func emit(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
