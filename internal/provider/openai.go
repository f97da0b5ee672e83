package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/fahadkaleem/alfred-cli/pkg/models"
)

var openaiKnownBlocks = map[models.BlockKind]bool{
	models.BlockText:         true,
	models.BlockCode:         true,
	models.BlockMedia:        true,
	models.BlockToolCall:     true,
	models.BlockToolResponse: true,
}

// OpenAIBackend adapts the canonical conversation record to the Chat
// Completions API. The protocol requires assistant tool_calls to be echoed
// before their tool results, and each tool result to be its own message,
// so both shaping rules are active for this backend.
type OpenAIBackend struct {
	client       *openai.Client
	defaultModel string
	logger       *slog.Logger
}

// OpenAIConfig configures an OpenAIBackend.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Logger       *slog.Logger
}

// NewOpenAIBackend creates an OpenAI backend adapter.
func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gpt-4o"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIBackend{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
		logger:       cfg.Logger,
	}, nil
}

func (b *OpenAIBackend) Name() string { return "openai" }

func (b *OpenAIBackend) Capabilities() Capabilities {
	return Capabilities{RequiresToolEcho: true, SingleResponsePerMessage: true}
}

func (b *OpenAIBackend) ContextWindow(model string) int {
	return 128000
}

func (b *OpenAIBackend) Stream(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
	model := b.model(req.Model)
	messages := b.convertEntries(ShapeForTransport(req.Entries, b.Capabilities()), req.System)

	chatReq := openai.ChatCompletionRequest{
		Model:     model,
		Messages:  messages,
		Stream:    true,
		MaxTokens: maxTokensOrDefault(req.MaxTokens),
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = b.convertTools(req.Tools)
	}

	stream, err := b.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return nil, b.wrapError(err, model)
	}

	chunks := make(chan StreamChunk)
	go func() {
		defer close(chunks)
		defer stream.Close()
		b.processStream(stream, chunks, model)
	}()
	return chunks, nil
}

// processStream converts stream deltas into normalized chunks. Tool calls
// arrive fragmented across deltas keyed by index; arguments accumulate
// until the stream ends and the assembled calls are emitted before the
// terminal chunk.
func (b *OpenAIBackend) processStream(stream *openai.ChatCompletionStream, chunks chan<- StreamChunk, model string) {
	calls := map[int]*openai.ToolCall{}
	finish := FinishNone
	usage := &models.Usage{}

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			chunks <- StreamChunk{Err: b.wrapError(err, model)}
			return
		}
		if response.Usage != nil {
			usage.InputTokens = response.Usage.PromptTokens
			usage.OutputTokens = response.Usage.CompletionTokens
		}
		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]
		if choice.Delta.Content != "" {
			chunks <- StreamChunk{Text: choice.Delta.Content}
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			call, ok := calls[idx]
			if !ok {
				call = &openai.ToolCall{Type: openai.ToolTypeFunction}
				calls[idx] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Function.Name = tc.Function.Name
			}
			call.Function.Arguments += tc.Function.Arguments
		}
		if choice.FinishReason != "" {
			finish = openaiFinishReason(choice.FinishReason)
		}
	}

	for _, idx := range sortedIndexes(calls) {
		call := calls[idx]
		chunks <- StreamChunk{ToolCall: &models.Block{
			Kind:   models.BlockToolCall,
			ID:     call.ID,
			Name:   call.Function.Name,
			Params: decodeToolInput(call.Function.Arguments, b.logger),
		}}
	}
	chunks <- StreamChunk{FinishReason: finish, Usage: usage}
}

func sortedIndexes(calls map[int]*openai.ToolCall) []int {
	indexes := make([]int, 0, len(calls))
	for idx := range calls {
		indexes = append(indexes, idx)
	}
	sort.Ints(indexes)
	return indexes
}

func openaiFinishReason(reason openai.FinishReason) FinishReason {
	switch reason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return FinishToolCalls
	case openai.FinishReasonLength:
		return FinishMaxTokens
	case openai.FinishReasonStop:
		return FinishStop
	}
	return FinishNone
}

func (b *OpenAIBackend) convertEntries(entries []models.Entry, system string) []openai.ChatCompletionMessage {
	var messages []openai.ChatCompletionMessage
	if system != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}
	for _, entry := range entries {
		blocks := dropUnknownBlocks(entry.Blocks, openaiKnownBlocks, b.logger)
		switch entry.Speaker {
		case models.SpeakerAI:
			msg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}
			var text strings.Builder
			for _, block := range blocks {
				switch block.Kind {
				case models.BlockText, models.BlockCode:
					text.WriteString(block.Text)
				case models.BlockToolCall:
					msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
						ID:   block.ID,
						Type: openai.ToolTypeFunction,
						Function: openai.FunctionCall{
							Name:      block.Name,
							Arguments: encodeToolArgs(block.Params),
						},
					})
				}
			}
			msg.Content = text.String()
			if msg.Content == "" && len(msg.ToolCalls) == 0 {
				continue
			}
			messages = append(messages, msg)
		default:
			// Tool responses become role=tool messages; after fan-out each
			// entry carries at most one response.
			if responses := entryToolResponses(blocks); len(responses) > 0 {
				for _, block := range responses {
					messages = append(messages, openai.ChatCompletionMessage{
						Role:       openai.ChatMessageRoleTool,
						Content:    toolResultContent(block),
						ToolCallID: block.CallID,
					})
				}
				continue
			}
			text := flattenText(blocks)
			if text == "" {
				continue
			}
			messages = append(messages, openai.ChatCompletionMessage{
				Role:    openai.ChatMessageRoleUser,
				Content: text,
			})
		}
	}
	return messages
}

func entryToolResponses(blocks []models.Block) []models.Block {
	var responses []models.Block
	for _, block := range blocks {
		if block.Kind == models.BlockToolResponse {
			responses = append(responses, block)
		}
	}
	return responses
}

func flattenText(blocks []models.Block) string {
	var text strings.Builder
	for _, block := range blocks {
		switch block.Kind {
		case models.BlockText, models.BlockCode:
			text.WriteString(block.Text)
		case models.BlockMedia:
			text.WriteString(block.Caption)
		}
	}
	return text.String()
}

func encodeToolArgs(params map[string]any) string {
	if len(params) == 0 {
		return "{}"
	}
	data, err := json.Marshal(params)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func (b *OpenAIBackend) convertTools(decls []ToolDecl) []openai.Tool {
	tools := make([]openai.Tool, 0, len(decls))
	for _, decl := range decls {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        decl.Name,
				Description: decl.Description,
				Parameters:  decl.Schema,
			},
		})
	}
	return tools
}

func (b *OpenAIBackend) wrapError(err error, model string) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return WrapError(b.Name(), model, err).WithStatus(apiErr.HTTPStatusCode)
	}
	return WrapError(b.Name(), model, err)
}

func (b *OpenAIBackend) model(model string) string {
	if model == "" {
		return b.defaultModel
	}
	return model
}
