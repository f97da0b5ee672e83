package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/fahadkaleem/alfred-cli/pkg/models"
)

var geminiKnownBlocks = map[models.BlockKind]bool{
	models.BlockText:         true,
	models.BlockCode:         true,
	models.BlockMedia:        true,
	models.BlockToolCall:     true,
	models.BlockToolResponse: true,
}

// GeminiBackend adapts the canonical conversation record to the Gemini
// API. Gemini matches function responses by name rather than echoed call
// blocks, so redundant tool-call echoes are suppressed for this backend.
type GeminiBackend struct {
	client       *genai.Client
	defaultModel string
	logger       *slog.Logger
}

// GeminiConfig configures a GeminiBackend.
type GeminiConfig struct {
	APIKey       string
	DefaultModel string
	Logger       *slog.Logger
}

// NewGeminiBackend creates a Gemini backend adapter.
func NewGeminiBackend(ctx context.Context, cfg GeminiConfig) (*GeminiBackend, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "gemini-2.0-flash"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, WrapError("gemini", cfg.DefaultModel, err)
	}
	return &GeminiBackend{
		client:       client,
		defaultModel: cfg.DefaultModel,
		logger:       cfg.Logger,
	}, nil
}

func (b *GeminiBackend) Name() string { return "gemini" }

func (b *GeminiBackend) Capabilities() Capabilities {
	return Capabilities{RequiresToolEcho: false, SingleResponsePerMessage: false}
}

func (b *GeminiBackend) ContextWindow(model string) int {
	return 1048576
}

func (b *GeminiBackend) Stream(ctx context.Context, req *Request) (<-chan StreamChunk, error) {
	model := b.model(req.Model)
	contents := b.convertEntries(ShapeForTransport(req.Entries, b.Capabilities()))

	config := &genai.GenerateContentConfig{}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		config.Tools = b.convertTools(req.Tools)
	}

	chunks := make(chan StreamChunk)
	go func() {
		defer close(chunks)
		b.processStream(ctx, model, contents, config, chunks)
	}()
	return chunks, nil
}

func (b *GeminiBackend) processStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig, chunks chan<- StreamChunk) {
	usage := &models.Usage{}
	finish := FinishNone

	for resp, err := range b.client.Models.GenerateContentStream(ctx, model, contents, config) {
		if ctx.Err() != nil {
			chunks <- StreamChunk{Err: ctx.Err()}
			return
		}
		if err != nil {
			chunks <- StreamChunk{Err: WrapError(b.Name(), model, err)}
			return
		}
		if resp == nil {
			continue
		}
		if resp.UsageMetadata != nil {
			if resp.UsageMetadata.PromptTokenCount > 0 {
				usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
			}
			if resp.UsageMetadata.CandidatesTokenCount > 0 {
				usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
			}
		}
		for _, candidate := range resp.Candidates {
			if candidate == nil {
				continue
			}
			if candidate.FinishReason != "" {
				finish = geminiFinishReason(candidate.FinishReason)
			}
			if candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					if part.Thought {
						chunks <- StreamChunk{Thinking: part.Text}
					} else {
						chunks <- StreamChunk{Text: part.Text}
					}
				}
				if part.FunctionCall != nil {
					call := &models.Block{
						Kind:   models.BlockToolCall,
						ID:     geminiCallID(part.FunctionCall.Name),
						Name:   part.FunctionCall.Name,
						Params: part.FunctionCall.Args,
					}
					if call.Params == nil {
						call.Params = map[string]any{}
					}
					// A function call implies a tool turn even when the
					// candidate never reports a finish reason for it.
					if finish == FinishNone || finish == FinishStop {
						finish = FinishToolCalls
					}
					chunks <- StreamChunk{ToolCall: call}
				}
			}
		}
	}
	chunks <- StreamChunk{FinishReason: finish, Usage: usage}
}

// geminiCallID synthesizes a call identifier; Gemini's protocol has none.
func geminiCallID(name string) string {
	return fmt.Sprintf("%s-%s", name, uuid.NewString()[:8])
}

func geminiFinishReason(reason genai.FinishReason) FinishReason {
	switch reason {
	case genai.FinishReasonStop:
		return FinishStop
	case genai.FinishReasonMaxTokens:
		return FinishMaxTokens
	}
	return FinishStop
}

func (b *GeminiBackend) convertEntries(entries []models.Entry) []*genai.Content {
	var result []*genai.Content
	for _, entry := range entries {
		blocks := dropUnknownBlocks(entry.Blocks, geminiKnownBlocks, b.logger)
		content := &genai.Content{Role: genai.RoleUser}
		if entry.Speaker == models.SpeakerAI {
			content.Role = genai.RoleModel
		}
		for _, block := range blocks {
			switch block.Kind {
			case models.BlockText, models.BlockCode:
				if block.Text != "" {
					content.Parts = append(content.Parts, &genai.Part{Text: block.Text})
				}
			case models.BlockMedia:
				if block.Caption != "" {
					content.Parts = append(content.Parts, &genai.Part{Text: block.Caption})
				}
			case models.BlockToolCall:
				content.Parts = append(content.Parts, &genai.Part{
					FunctionCall: &genai.FunctionCall{
						Name: block.Name,
						Args: block.Params,
					},
				})
			case models.BlockToolResponse:
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						Name:     block.ToolName,
						Response: geminiFunctionResponse(block),
					},
				})
			}
		}
		if len(content.Parts) == 0 {
			continue
		}
		result = append(result, content)
	}
	return result
}

// geminiFunctionResponse renders a tool_response payload as the map the
// API requires; non-object results are wrapped in a result field.
func geminiFunctionResponse(block models.Block) map[string]any {
	if block.Error != "" {
		return map[string]any{"error": block.Error}
	}
	if m, ok := block.Result.(map[string]any); ok {
		return m
	}
	raw := toolResultContent(block)
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		return parsed
	}
	return map[string]any{"result": raw}
}

func (b *GeminiBackend) convertTools(decls []ToolDecl) []*genai.Tool {
	declarations := make([]*genai.FunctionDeclaration, 0, len(decls))
	for _, decl := range decls {
		var schemaMap map[string]any
		if err := json.Unmarshal(decl.Schema, &schemaMap); err != nil {
			b.logger.Debug("gemini: skipping tool with invalid schema", "tool", decl.Name, "error", err)
			continue
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        decl.Name,
			Description: decl.Description,
			Parameters:  geminiSchema(schemaMap),
		})
	}
	if len(declarations) == 0 {
		return nil
	}
	return []*genai.Tool{{FunctionDeclarations: declarations}}
}

// geminiSchema converts a JSON Schema document to Gemini's schema type.
// Only the subset Gemini understands survives the conversion.
func geminiSchema(schemaMap map[string]any) *genai.Schema {
	if schemaMap == nil {
		return nil
	}
	schema := &genai.Schema{}
	if t, ok := schemaMap["type"].(string); ok {
		schema.Type = genai.Type(strings.ToUpper(t))
	}
	if desc, ok := schemaMap["description"].(string); ok {
		schema.Description = desc
	}
	if enum, ok := schemaMap["enum"].([]any); ok {
		for _, e := range enum {
			if s, ok := e.(string); ok {
				schema.Enum = append(schema.Enum, s)
			}
		}
	}
	if props, ok := schemaMap["properties"].(map[string]any); ok {
		schema.Properties = make(map[string]*genai.Schema)
		for name, prop := range props {
			if propMap, ok := prop.(map[string]any); ok {
				schema.Properties[name] = geminiSchema(propMap)
			}
		}
	}
	if required, ok := schemaMap["required"].([]any); ok {
		for _, r := range required {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	if items, ok := schemaMap["items"].(map[string]any); ok {
		schema.Items = geminiSchema(items)
	}
	return schema
}

func (b *GeminiBackend) model(model string) string {
	if model == "" {
		return b.defaultModel
	}
	return model
}
