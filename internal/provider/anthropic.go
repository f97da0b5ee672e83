package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/fahadkaleem/alfred-cli/pkg/models"
)

// anthropicKnownBlocks are the block kinds this adapter can put on the
// wire. Anything else is dropped with a debug note.
var anthropicKnownBlocks = map[models.BlockKind]bool{
	models.BlockText:         true,
	models.BlockCode:         true,
	models.BlockMedia:        true,
	models.BlockToolCall:     true,
	models.BlockToolResponse: true,
}

// AnthropicBackend adapts the canonical conversation record to Anthropic's
// Messages API. Claude's wire protocol requires the tool_use block to be
// echoed in the assistant message immediately preceding its tool_result,
// so echo suppression is disabled for this backend.
type AnthropicBackend struct {
	client       anthropic.Client
	defaultModel string
	logger       *slog.Logger
}

// AnthropicConfig configures an AnthropicBackend.
type AnthropicConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Logger       *slog.Logger
}

// NewAnthropicBackend creates an Anthropic backend adapter.
func NewAnthropicBackend(cfg AnthropicConfig) (*AnthropicBackend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "claude-sonnet-4-20250514"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &AnthropicBackend{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		logger:       cfg.Logger,
	}, nil
}

func (b *AnthropicBackend) Name() string { return "anthropic" }

func (b *AnthropicBackend) Capabilities() Capabilities {
	return Capabilities{RequiresToolEcho: true, SingleResponsePerMessage: false}
}

func (b *AnthropicBackend) ContextWindow(model string) int {
	// All current Claude models share a 200K window.
	return 200000
}

// Stream opens a streaming exchange and returns the normalized chunk
// channel. The channel closes when the stream ends; a trailing chunk
// carries the finish reason and usage.
func (b *AnthropicBackend) Stream(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
	model := b.model(req.Model)
	messages, err := b.convertEntries(ShapeForTransport(req.Entries, b.Capabilities()))
	if err != nil {
		return nil, WrapError(b.Name(), model, err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: int64(maxTokensOrDefault(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := b.convertTools(req.Tools)
		if err != nil {
			return nil, WrapError(b.Name(), model, err)
		}
		params.Tools = tools
	}

	stream := b.client.Messages.NewStreaming(ctx, params)
	chunks := make(chan StreamChunk)
	go func() {
		defer close(chunks)
		b.processStream(stream, chunks, model)
	}()
	return chunks, nil
}

// processStream converts Anthropic SSE events into normalized chunks.
// Tool input arrives as partial JSON fragments across content_block_delta
// events and is accumulated until content_block_stop.
func (b *AnthropicBackend) processStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- StreamChunk, model string) {
	var currentCall *models.Block
	var callInput strings.Builder
	usage := &models.Usage{}
	finish := FinishNone

	for stream.Next() {
		event := stream.Current()
		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			if start.Message.Usage.InputTokens > 0 {
				usage.InputTokens = int(start.Message.Usage.InputTokens)
			}

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				toolUse := block.AsToolUse()
				currentCall = &models.Block{
					Kind: models.BlockToolCall,
					ID:   toolUse.ID,
					Name: toolUse.Name,
				}
				callInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text != "" {
					chunks <- StreamChunk{Text: delta.Text}
				}
			case "thinking_delta":
				if delta.Thinking != "" {
					chunks <- StreamChunk{Thinking: delta.Thinking}
				}
			case "input_json_delta":
				callInput.WriteString(delta.PartialJSON)
			}

		case "content_block_stop":
			if currentCall != nil {
				currentCall.Params = decodeToolInput(callInput.String(), b.logger)
				chunks <- StreamChunk{ToolCall: currentCall}
				currentCall = nil
			}

		case "message_delta":
			msgDelta := event.AsMessageDelta()
			if msgDelta.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(msgDelta.Usage.OutputTokens)
			}
			finish = anthropicFinishReason(string(msgDelta.Delta.StopReason))

		case "message_stop":
			chunks <- StreamChunk{FinishReason: finish, Usage: usage}
			return

		case "error":
			chunks <- StreamChunk{Err: b.wrapStreamError(errors.New("anthropic stream error"), model)}
			return
		}
	}
	if err := stream.Err(); err != nil {
		chunks <- StreamChunk{Err: b.wrapStreamError(err, model)}
	}
}

func anthropicFinishReason(stop string) FinishReason {
	switch stop {
	case "tool_use":
		return FinishToolCalls
	case "max_tokens":
		return FinishMaxTokens
	case "end_turn", "stop_sequence":
		return FinishStop
	}
	return FinishNone
}

// decodeToolInput decodes the accumulated partial-JSON tool input. Claude
// occasionally closes a tool_use block with no input at all; that decodes
// to an empty parameter object rather than an error.
func decodeToolInput(raw string, logger *slog.Logger) map[string]any {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		logger.Debug("anthropic: undecodable tool input", "error", err)
		return map[string]any{"_raw": raw}
	}
	return params
}

func (b *AnthropicBackend) convertEntries(entries []models.Entry) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	for _, entry := range entries {
		blocks := dropUnknownBlocks(entry.Blocks, anthropicKnownBlocks, b.logger)
		var content []anthropic.ContentBlockParamUnion
		for _, block := range blocks {
			switch block.Kind {
			case models.BlockText, models.BlockCode:
				if block.Text != "" {
					content = append(content, anthropic.NewTextBlock(block.Text))
				}
			case models.BlockMedia:
				if block.Caption != "" {
					content = append(content, anthropic.NewTextBlock(block.Caption))
				}
			case models.BlockToolCall:
				params := block.Params
				if params == nil {
					params = map[string]any{}
				}
				content = append(content, anthropic.NewToolUseBlock(block.ID, params, block.Name))
			case models.BlockToolResponse:
				content = append(content, anthropic.NewToolResultBlock(
					block.CallID, toolResultContent(block), block.Error != ""))
			}
		}
		if len(content) == 0 {
			continue
		}
		if entry.Speaker == models.SpeakerAI {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			// Human and tool entries both ride the user role.
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, nil
}

func (b *AnthropicBackend) convertTools(decls []ToolDecl) ([]anthropic.ToolUnionParam, error) {
	var result []anthropic.ToolUnionParam
	for _, decl := range decls {
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(decl.Schema, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", decl.Name, err)
		}
		toolParam := anthropic.ToolUnionParamOfTool(schema, decl.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", decl.Name)
		}
		toolParam.OfTool.Description = anthropic.String(decl.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

func (b *AnthropicBackend) wrapStreamError(err error, model string) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return WrapError(b.Name(), model, err).WithStatus(apiErr.StatusCode)
	}
	return WrapError(b.Name(), model, err)
}

func (b *AnthropicBackend) model(model string) string {
	if model == "" {
		return b.defaultModel
	}
	return model
}

func maxTokensOrDefault(maxTokens int) int {
	if maxTokens <= 0 {
		return 4096
	}
	return maxTokens
}

// toolResultContent renders a tool_response block as the string content
// the wire formats expect.
func toolResultContent(block models.Block) string {
	if block.Error != "" {
		return block.Error
	}
	switch result := block.Result.(type) {
	case nil:
		return ""
	case string:
		return result
	default:
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Sprintf("%v", result)
		}
		return string(data)
	}
}
