// Package provider implements the adapter layer between the canonical
// conversation record and each backend vendor's wire format. Adapters
// normalize tool-call framing asymmetries (echo conventions, one result
// per message) behind a small capability surface so the turn engine stays
// vendor-ignorant.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fahadkaleem/alfred-cli/pkg/models"
)

// Capabilities describes the wire-protocol quirks of a backend. Adapters
// are selected by these flags, not by per-vendor subclassing.
type Capabilities struct {
	// RequiresToolEcho is true when the backend expects a tool call the
	// model made to be echoed back verbatim immediately before the tool's
	// result. Backends that retain the call server-side reject resent
	// echoes instead.
	RequiresToolEcho bool

	// SingleResponsePerMessage is true when the backend accepts only one
	// tool result per message; grouped results are fanned out by the
	// request shaper.
	SingleResponsePerMessage bool
}

// FinishReason is the normalized stream termination cause.
type FinishReason string

const (
	// FinishNone means the stream ended without an explicit finish reason.
	FinishNone FinishReason = ""
	// FinishStop is a normal end of turn.
	FinishStop FinishReason = "stop"
	// FinishToolCalls means the model stopped to request tool execution.
	FinishToolCalls FinishReason = "tool_calls"
	// FinishMaxTokens means the response hit the output token limit.
	FinishMaxTokens FinishReason = "max_tokens"
	// FinishTruncated is synthesized locally when the engine cuts the
	// stream after the first mutating tool call.
	FinishTruncated FinishReason = "truncated"
)

// StreamChunk is one normalized event from a backend stream. Exactly one
// of the content fields is populated per chunk; FinishReason and Usage
// ride on the terminal chunk.
type StreamChunk struct {
	Text         string
	Thinking     string
	ToolCall     *models.Block
	FinishReason FinishReason
	Usage        *models.Usage
	Err          error
}

// Request is one fully-shaped completion request. Entries are the curated,
// transport-sanitized payload; the adapter applies vendor shaping on top.
type Request struct {
	Model     string
	System    string
	Entries   []models.Entry
	Tools     []ToolDecl
	MaxTokens int
}

// Backend is a streaming LLM backend. Implementations must be safe for
// concurrent use; each Stream call owns an independent goroutine and
// channel, and the channel is closed when the stream ends.
type Backend interface {
	Name() string
	Capabilities() Capabilities
	// ContextWindow returns the model's context limit in tokens, or 0
	// when the model is unknown.
	ContextWindow(model string) int
	Stream(ctx context.Context, req *Request) (<-chan StreamChunk, error)
}

// ToolDecl declares a tool to the backend: name, natural-language
// description, JSON Schema for parameters, and whether the tool mutates
// external state (mutating tools are subject to the engine's truncation
// heuristic).
type ToolDecl struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      json.RawMessage `json:"schema"`
	Mutating    bool            `json:"mutating,omitempty"`
}

// Registry validates and holds the tool declarations offered to the model.
type Registry struct {
	mu      sync.RWMutex
	decls   map[string]ToolDecl
	order   []string
	selfRef map[string]bool
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		decls:   map[string]ToolDecl{},
		selfRef: map[string]bool{},
	}
}

// Register adds a tool declaration. The parameter schema must compile as
// JSON Schema; self-referential schemas are accepted but remembered, since
// they are the usual root cause of backend schema-depth rejections and
// feed the diagnostic hint on 4xx errors.
func (r *Registry) Register(decl ToolDecl) error {
	if decl.Name == "" {
		return fmt.Errorf("provider: tool declaration requires a name")
	}
	schema := decl.Schema
	if len(schema) == 0 {
		schema = json.RawMessage(`{"type":"object"}`)
		decl.Schema = schema
	}
	if _, err := jsonschema.CompileString(decl.Name+".json", string(schema)); err != nil {
		return fmt.Errorf("provider: tool %q schema invalid: %w", decl.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.decls[decl.Name]; !exists {
		r.order = append(r.order, decl.Name)
	}
	r.decls[decl.Name] = decl
	r.selfRef[decl.Name] = schemaIsSelfReferential(schema)
	return nil
}

// Decls returns the registered declarations in registration order.
func (r *Registry) Decls() []ToolDecl {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolDecl, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.decls[name])
	}
	return out
}

// IsMutating reports whether the named tool is classified as
// state-mutating. Unknown tools are treated as non-mutating.
func (r *Registry) IsMutating(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.decls[name].Mutating
}

// HasSelfReferentialSchema reports whether any registered tool carries a
// self-referential parameter schema.
func (r *Registry) HasSelfReferentialSchema() bool {
	return len(r.SelfReferentialTools()) > 0
}

// SelfReferentialTools returns the names of tools whose parameter schemas
// reference themselves, in registration order.
func (r *Registry) SelfReferentialTools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for _, name := range r.order {
		if r.selfRef[name] {
			names = append(names, name)
		}
	}
	return names
}

// schemaIsSelfReferential walks the raw schema looking for $ref pointers
// back into the same document, the shape that produces unbounded expansion
// on backends that inline references.
func schemaIsSelfReferential(schema json.RawMessage) bool {
	var doc any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return false
	}
	return containsLocalRef(doc)
}

func containsLocalRef(v any) bool {
	switch val := v.(type) {
	case map[string]any:
		if ref, ok := val["$ref"].(string); ok {
			if ref == "#" || len(ref) > 1 && ref[0] == '#' {
				return true
			}
		}
		for _, item := range val {
			if containsLocalRef(item) {
				return true
			}
		}
	case []any:
		for _, item := range val {
			if containsLocalRef(item) {
				return true
			}
		}
	}
	return false
}
