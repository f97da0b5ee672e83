// Package models defines the canonical, provider-agnostic conversation
// record shared by the history store, the turn engine, and the provider
// adapters. Every backend wire format is converted to and from these types
// at the adapter boundary.
package models

import (
	"strings"
	"time"
)

// Speaker identifies who produced a conversation entry.
type Speaker string

const (
	SpeakerHuman Speaker = "human"
	SpeakerAI    Speaker = "ai"
	SpeakerTool  Speaker = "tool"
)

// Valid reports whether s is one of the three recognized speakers.
// Entries with any other speaker are silently rejected by the store.
func (s Speaker) Valid() bool {
	switch s {
	case SpeakerHuman, SpeakerAI, SpeakerTool:
		return true
	}
	return false
}

// BlockKind tags the variant carried by a Block.
type BlockKind string

const (
	BlockText         BlockKind = "text"
	BlockThinking     BlockKind = "thinking"
	BlockToolCall     BlockKind = "tool_call"
	BlockToolResponse BlockKind = "tool_response"
	BlockCode         BlockKind = "code"
	BlockMedia        BlockKind = "media"
)

// Block is one typed content fragment of an entry. Exactly one variant is
// populated, selected by Kind.
//
// Tool call parameters and tool response results are kept as native Go
// values rather than raw JSON because models have been observed emitting
// parameter objects with self-referential structure; the history store
// sanitizes them at the transport boundary instead of failing up front.
type Block struct {
	Kind BlockKind `json:"kind"`

	// Text carries the content for text and thinking blocks, and the
	// source for code blocks.
	Text string `json:"text,omitempty"`

	// Language is the code block language tag, informational only.
	Language string `json:"language,omitempty"`

	// Caption describes a media block. Media payloads themselves are
	// carried out of band; only the caption is token-counted here.
	Caption string `json:"caption,omitempty"`

	// ID and Name identify a tool_call block.
	ID     string         `json:"id,omitempty"`
	Name   string         `json:"name,omitempty"`
	Params map[string]any `json:"params,omitempty"`

	// CallID links a tool_response block back to its tool_call.
	CallID   string `json:"call_id,omitempty"`
	ToolName string `json:"tool_name,omitempty"`
	Result   any    `json:"result,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Meaningful reports whether the block carries content that makes an ai
// entry worth keeping in curated history. Thinking is never meaningful on
// its own; it is private reasoning, not output.
func (b Block) Meaningful() bool {
	switch b.Kind {
	case BlockText, BlockCode:
		return strings.TrimSpace(b.Text) != ""
	case BlockToolCall:
		return b.Name != ""
	case BlockToolResponse:
		return b.CallID != ""
	case BlockMedia:
		return true
	}
	return false
}

// Usage carries authoritative token counts reported by a backend for one
// exchange. When present it takes precedence over the estimator.
type Usage struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
	TotalTokens  int `json:"total_tokens,omitempty"`
}

// Total returns the usage total, deriving it from input+output when the
// backend did not report one.
func (u *Usage) Total() int {
	if u == nil {
		return 0
	}
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.InputTokens + u.OutputTokens
}

// Entry is one canonical conversation unit: an ordered list of blocks from
// a single speaker, plus optional metadata. Entries are immutable once
// appended to the store; corrections happen by replacing whole histories,
// never by patching an entry in place.
type Entry struct {
	Speaker   Speaker   `json:"speaker"`
	Blocks    []Block   `json:"blocks"`
	ID        string    `json:"id,omitempty"`
	Model     string    `json:"model,omitempty"`
	Usage     *Usage    `json:"usage,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// TextEntry builds a single-text-block entry for the given speaker.
func TextEntry(speaker Speaker, text string) Entry {
	return Entry{
		Speaker: speaker,
		Blocks:  []Block{{Kind: BlockText, Text: text}},
	}
}

// Text consolidates the entry's visible text blocks into one string.
// Thinking blocks are excluded.
func (e Entry) Text() string {
	var sb strings.Builder
	for _, b := range e.Blocks {
		if b.Kind == BlockText || b.Kind == BlockCode {
			sb.WriteString(b.Text)
		}
	}
	return sb.String()
}

// ToolCalls returns the entry's tool_call blocks in order.
func (e Entry) ToolCalls() []Block {
	var calls []Block
	for _, b := range e.Blocks {
		if b.Kind == BlockToolCall {
			calls = append(calls, b)
		}
	}
	return calls
}

// ToolResponses returns the entry's tool_response blocks in order.
func (e Entry) ToolResponses() []Block {
	var responses []Block
	for _, b := range e.Blocks {
		if b.Kind == BlockToolResponse {
			responses = append(responses, b)
		}
	}
	return responses
}

// HasMeaningfulContent reports whether at least one block passes the
// curated-history filter.
func (e Entry) HasMeaningfulContent() bool {
	for _, b := range e.Blocks {
		if b.Meaningful() {
			return true
		}
	}
	return false
}

// IsToolResponseOnly reports whether every block is a tool_response. Such
// entries are not valid split points for compression even when spoken by
// the human side.
func (e Entry) IsToolResponseOnly() bool {
	if len(e.Blocks) == 0 {
		return false
	}
	for _, b := range e.Blocks {
		if b.Kind != BlockToolResponse {
			return false
		}
	}
	return true
}
