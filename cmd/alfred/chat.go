package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fahadkaleem/alfred-cli/internal/auth"
	"github.com/fahadkaleem/alfred-cli/internal/backoff"
	"github.com/fahadkaleem/alfred-cli/internal/compress"
	"github.com/fahadkaleem/alfred-cli/internal/config"
	"github.com/fahadkaleem/alfred-cli/internal/engine"
	"github.com/fahadkaleem/alfred-cli/internal/fallback"
	"github.com/fahadkaleem/alfred-cli/internal/history"
	"github.com/fahadkaleem/alfred-cli/internal/logging"
	"github.com/fahadkaleem/alfred-cli/internal/provider"
)

func newChatCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", os.Getenv("ALFRED_CONFIG"), "path to config file")
	return cmd
}

// app is the composed runtime for one chat session.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	debugLog   *logging.DebugLog
	resolver   *auth.Resolver
	backend    provider.Backend
	registry   *provider.Registry
	store      *history.Store
	supervisor *engine.Supervisor
	compressor *compress.Compressor
	chain      *fallback.Chain
}

func runChat(configPath string) error {
	a, err := buildApp(configPath)
	if err != nil {
		return err
	}
	if a.debugLog != nil {
		defer a.debugLog.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("alfred — %s. Type a message, /compress, or /quit.\n", a.chain.Current())
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/compress":
			result := a.compressor.MaybeCompress(ctx, a.chain.Current().Model, true)
			fmt.Printf("compression: %s (%d -> %d tokens)\n",
				result.Status, result.BeforeTokens, result.AfterTokens)
			continue
		case line == "/auth":
			fmt.Printf("auth method: %s\n", a.resolver.AuthMethodName(a.cfg.Provider))
			continue
		case strings.HasPrefix(line, "/"):
			fmt.Println("commands: /compress /auth /quit")
			continue
		}

		a.runOneExchange(ctx, line)
		if ctx.Err() != nil {
			return nil
		}

		if result := a.compressor.MaybeCompress(ctx, a.chain.Current().Model, false); result.Status == compress.StatusCompressed {
			fmt.Printf("[history compressed: %d -> %d tokens]\n",
				result.BeforeTokens, result.AfterTokens)
		}
	}
}

// runOneExchange drives one supervised run, retrying once on a fallback
// candidate when the primary is persistently rate limited.
func (a *app) runOneExchange(ctx context.Context, input string) {
	for {
		model := a.chain.Current().Model
		err := a.printEvents(a.supervisor.Run(ctx, model, input))
		if err == nil {
			return
		}
		next, switched := a.chain.Advance(err)
		if !switched {
			fmt.Printf("error: %v\n", err)
			return
		}
		fmt.Printf("[rate limited on %s, retrying on %s]\n", model, next.Model)
	}
}

// printEvents renders one run's event stream, returning the terminal
// error if the run failed.
func (a *app) printEvents(events <-chan engine.Event) error {
	var failure error
	inText := false
	endText := func() {
		if inText {
			fmt.Println()
			inText = false
		}
	}
	for ev := range events {
		switch ev.Kind {
		case engine.EventContent:
			fmt.Print(ev.Text)
			inText = true
		case engine.EventThought:
			// Reasoning is traced, not displayed.
			if a.debugLog != nil {
				a.debugLog.Debugf("engine", "thought chunk", "len", len(ev.Text))
			}
		case engine.EventToolCall:
			endText()
			params, _ := json.Marshal(ev.ToolCall.Params)
			fmt.Printf("[tool call %s %s(%s)]\n", ev.ToolCall.ID, ev.ToolCall.Name, params)
		case engine.EventRetry:
			endText()
			fmt.Printf("[retrying, attempt %d: %v]\n", ev.Attempt, ev.Err)
		case engine.EventFinished:
			endText()
			if ev.Usage != nil {
				a.logger.Debug("turn finished", "reason", string(ev.FinishReason),
					"input_tokens", ev.Usage.InputTokens, "output_tokens", ev.Usage.OutputTokens)
			}
		case engine.EventCancelled:
			endText()
			fmt.Println("[cancelled]")
		case engine.EventMaxTurns:
			endText()
			fmt.Println("[turn limit reached]")
		case engine.EventError:
			endText()
			failure = ev.Err
		}
	}
	return failure
}

func buildApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	var debugLog *logging.DebugLog
	if cfg.Log.DebugDir != "" {
		debugLog, err = logging.OpenDebugLog(cfg.Log.DebugDir)
		if err != nil {
			return nil, err
		}
	}

	resolver := auth.NewResolver(map[string]auth.ProviderAuth{
		cfg.Provider: {
			EnvVars:      cfg.EnvVarsOrConvention(),
			OAuthEnabled: cfg.Auth.OAuthEnabled,
		},
	}, nil, logger)
	if cfg.Auth.SessionKey != "" {
		resolver.SetSessionKey(cfg.Provider, cfg.Auth.SessionKey)
	}

	cred := resolver.Resolve(context.Background(), cfg.Provider)
	if cred.Empty() {
		return nil, fmt.Errorf("no credential for %s: set %s or a session key",
			cfg.Provider, strings.Join(cfg.EnvVarsOrConvention(), " or "))
	}
	logger.Debug("credential resolved", "provider", cfg.Provider, "method", cred.Method)

	backend, err := buildBackend(cfg, cred.Token, logger)
	if err != nil {
		return nil, err
	}

	registry := provider.NewRegistry()
	store := history.NewStore(nil, logger)
	eng := engine.New(store, backend, registry, engine.Config{
		System:    cfg.System,
		MaxTokens: cfg.Engine.MaxTokens,
		Retry: backoff.Policy{
			MaxAttempts:  cfg.Engine.MaxAttempts,
			InitialDelay: backoff.DefaultPolicy().InitialDelay,
			MaxDelay:     backoff.DefaultPolicy().MaxDelay,
			Jitter:       true,
		},
	}, logger)
	supervisor := engine.NewSupervisor(eng, nil, nil, engine.SupervisorConfig{
		MaxTurns: cfg.Engine.MaxTurns,
	}, logger)
	compressor := compress.New(store, backend, compress.Config{
		Threshold: cfg.Compression.Threshold,
		Preserve:  cfg.Compression.Preserve,
	}, logger)

	chain, err := buildChain(cfg)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:        cfg,
		logger:     logger,
		debugLog:   debugLog,
		resolver:   resolver,
		backend:    backend,
		registry:   registry,
		store:      store,
		supervisor: supervisor,
		compressor: compressor,
		chain:      chain,
	}, nil
}

func buildBackend(cfg config.Config, apiKey string, logger *slog.Logger) (provider.Backend, error) {
	switch cfg.Provider {
	case "anthropic":
		return provider.NewAnthropicBackend(provider.AnthropicConfig{
			APIKey:       apiKey,
			DefaultModel: cfg.Model,
			Logger:       logger,
		})
	case "openai":
		return provider.NewOpenAIBackend(provider.OpenAIConfig{
			APIKey:       apiKey,
			DefaultModel: cfg.Model,
			Logger:       logger,
		})
	case "gemini":
		return provider.NewGeminiBackend(context.Background(), provider.GeminiConfig{
			APIKey:       apiKey,
			DefaultModel: cfg.Model,
			Logger:       logger,
		})
	}
	return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
}

func buildChain(cfg config.Config) (*fallback.Chain, error) {
	primary := fallback.Candidate{Provider: cfg.Provider, Model: cfg.Model}
	var fallbacks []fallback.Candidate
	for _, s := range cfg.Fallbacks {
		candidate, err := fallback.Parse(s)
		if err != nil {
			return nil, err
		}
		fallbacks = append(fallbacks, candidate)
	}
	return fallback.NewChain(primary, fallbacks...), nil
}
