package engine

import (
	"context"
	"log/slog"

	"github.com/fahadkaleem/alfred-cli/pkg/models"
)

// NextSpeaker is a next-speaker check verdict.
type NextSpeaker string

const (
	// SpeakerModel means the model should continue unprompted.
	SpeakerModel NextSpeaker = "model"
	// SpeakerUser means control returns to the user.
	SpeakerUser NextSpeaker = "user"
)

// NextSpeakerChecker decides, after a turn with no pending tool calls,
// whether the model should keep going.
type NextSpeakerChecker interface {
	NextSpeaker(ctx context.Context, curated []models.Entry) (NextSpeaker, error)
}

// LoopDetector is consulted once per turn and again per event. A true
// return means a loop was found and the turn must abort.
type LoopDetector interface {
	TurnStarted(cancel context.CancelFunc) bool
	AddAndCheck(event Event) bool
}

// SupervisorConfig tunes the multi-turn loop.
type SupervisorConfig struct {
	// MaxTurns caps the turns per Run invocation. Defaults to 10.
	MaxTurns int
	// ContinuationPrompt is the synthetic input used when the
	// next-speaker check says the model should continue.
	ContinuationPrompt string
}

// Supervisor drives multi-turn behavior above the turn engine as a
// bounded loop with a decrementing budget, which keeps termination
// obvious: the loop ends on budget exhaustion, pending tool calls, a
// terminal failure, or a next-speaker verdict of "user".
type Supervisor struct {
	engine   *Engine
	checker  NextSpeakerChecker
	detector LoopDetector
	cfg      SupervisorConfig
	logger   *slog.Logger
}

// NewSupervisor creates a supervisor. checker and detector may be nil.
func NewSupervisor(engine *Engine, checker NextSpeakerChecker, detector LoopDetector, cfg SupervisorConfig, logger *slog.Logger) *Supervisor {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 10
	}
	if cfg.ContinuationPrompt == "" {
		cfg.ContinuationPrompt = "Please continue."
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Supervisor{
		engine:   engine,
		checker:  checker,
		detector: detector,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run executes up to MaxTurns turns starting from userInput, forwarding
// every turn's events. The channel closes after the final terminal event.
func (s *Supervisor) Run(ctx context.Context, model, userInput string) <-chan Event {
	events := make(chan Event)
	go func() {
		defer close(events)
		s.run(ctx, model, userInput, events)
	}()
	return events
}

func (s *Supervisor) run(ctx context.Context, model, userInput string, events chan<- Event) {
	remaining := s.cfg.MaxTurns
	input := userInput

	for {
		if remaining <= 0 {
			s.logger.Debug("turn ceiling reached", "max_turns", s.cfg.MaxTurns)
			emit(ctx, events, Event{Kind: EventMaxTurns})
			return
		}
		remaining--

		// A per-turn cancellation source lets the loop detector abort
		// the turn without the caller's context firing.
		turnCtx, cancel := context.WithCancel(ctx)
		if s.detector != nil && s.detector.TurnStarted(cancel) {
			cancel()
			emit(ctx, events, Event{Kind: EventError, Err: ErrLoopDetected})
			return
		}

		pendingTools := false
		loopFound := false
		var terminal Event
		for ev := range s.engine.RunTurn(turnCtx, model, input) {
			if loopFound {
				continue // discard the aborted turn's trailing events
			}
			if s.detector != nil && s.detector.AddAndCheck(ev) {
				loopFound = true
				cancel()
				continue
			}
			if ev.Kind == EventToolCall {
				pendingTools = true
			}
			if ev.Terminal() {
				terminal = ev
			}
			if !emit(ctx, events, ev) {
				cancel()
				return
			}
		}
		cancel()

		if loopFound {
			emit(ctx, events, Event{Kind: EventError, Err: ErrLoopDetected})
			return
		}
		if terminal.Kind != EventFinished {
			// Cancelled or failed; the turn already emitted its terminal.
			return
		}
		if pendingTools {
			// Tool execution happens out-of-band; the caller re-enters
			// with the responses through the normal append path.
			return
		}
		if s.checker == nil {
			return
		}

		next, err := s.checker.NextSpeaker(ctx, s.engine.Store().Curated())
		if err != nil {
			s.logger.Debug("next-speaker check failed", "error", err)
			return
		}
		if next != SpeakerModel {
			return
		}
		input = s.cfg.ContinuationPrompt
	}
}
