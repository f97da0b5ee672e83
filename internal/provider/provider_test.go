package provider

import (
	"encoding/json"
	"testing"
)

func TestRegistryRejectsInvalidSchema(t *testing.T) {
	registry := NewRegistry()
	err := registry.Register(ToolDecl{
		Name:   "broken",
		Schema: json.RawMessage(`{"type": 42}`),
	})
	if err == nil {
		t.Fatal("expected schema compilation error")
	}
}

func TestRegistryRequiresName(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(ToolDecl{}); err == nil {
		t.Fatal("expected error for unnamed tool")
	}
}

func TestRegistryDefaultsEmptySchema(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(ToolDecl{Name: "ping"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	decls := registry.Decls()
	if len(decls) != 1 {
		t.Fatalf("got %d decls, want 1", len(decls))
	}
	var schema map[string]any
	if err := json.Unmarshal(decls[0].Schema, &schema); err != nil {
		t.Fatalf("default schema not valid JSON: %v", err)
	}
	if schema["type"] != "object" {
		t.Errorf("default schema type = %v, want object", schema["type"])
	}
}

func TestRegistryPreservesOrder(t *testing.T) {
	registry := NewRegistry()
	for _, name := range []string{"read", "write", "search"} {
		if err := registry.Register(ToolDecl{Name: name}); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}
	decls := registry.Decls()
	for i, want := range []string{"read", "write", "search"} {
		if decls[i].Name != want {
			t.Errorf("decls[%d] = %s, want %s", i, decls[i].Name, want)
		}
	}
}

func TestRegistryIsMutating(t *testing.T) {
	registry := NewRegistry()
	if err := registry.Register(ToolDecl{Name: "write", Mutating: true}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := registry.Register(ToolDecl{Name: "read"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !registry.IsMutating("write") {
		t.Error("write should be mutating")
	}
	if registry.IsMutating("read") {
		t.Error("read should not be mutating")
	}
	if registry.IsMutating("missing") {
		t.Error("unknown tools default to non-mutating")
	}
}

func TestRegistrySelfReferenceDetection(t *testing.T) {
	tests := []struct {
		name   string
		schema string
		want   bool
	}{
		{
			"recursive ref",
			`{"type":"object","properties":{"child":{"$ref":"#/properties/child"}}}`,
			true,
		},
		{
			"root ref",
			`{"type":"object","properties":{"next":{"$ref":"#"}}}`,
			true,
		},
		{
			"plain object",
			`{"type":"object","properties":{"path":{"type":"string"}}}`,
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewRegistry()
			if err := registry.Register(ToolDecl{Name: "t", Schema: json.RawMessage(tt.schema)}); err != nil {
				t.Fatalf("Register: %v", err)
			}
			if got := registry.HasSelfReferentialSchema(); got != tt.want {
				t.Errorf("HasSelfReferentialSchema() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFinishReasonMapping(t *testing.T) {
	if got := anthropicFinishReason("tool_use"); got != FinishToolCalls {
		t.Errorf("anthropic tool_use = %s", got)
	}
	if got := anthropicFinishReason("end_turn"); got != FinishStop {
		t.Errorf("anthropic end_turn = %s", got)
	}
	if got := anthropicFinishReason("max_tokens"); got != FinishMaxTokens {
		t.Errorf("anthropic max_tokens = %s", got)
	}
	if got := anthropicFinishReason(""); got != FinishNone {
		t.Errorf("anthropic empty = %s", got)
	}
}
