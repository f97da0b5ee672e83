package history

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/fahadkaleem/alfred-cli/pkg/models"
)

func newTestStore() *Store {
	return NewStore(nil, nil)
}

func TestStore_AppendRejectsInvalidSpeaker(t *testing.T) {
	store := newTestStore()
	store.Append(models.Entry{Speaker: "narrator", Blocks: []models.Block{{Kind: models.BlockText, Text: "hi"}}}, "")
	if store.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", store.Len())
	}
	if store.TotalTokens() != 0 {
		t.Errorf("TotalTokens() = %d, want 0", store.TotalTokens())
	}
}

func TestStore_LedgerPrefersUsageMetadata(t *testing.T) {
	store := newTestStore()
	store.Append(models.Entry{
		Speaker: models.SpeakerAI,
		Blocks:  []models.Block{{Kind: models.BlockText, Text: "12345678"}},
		Usage:   &models.Usage{InputTokens: 90, OutputTokens: 10},
	}, "test-model")
	if got := store.TotalTokens(); got != 100 {
		t.Errorf("TotalTokens() = %d, want 100 from usage metadata", got)
	}

	// No usage: falls back to chars/4.
	store.Append(models.TextEntry(models.SpeakerHuman, "12345678"), "test-model")
	if got := store.TotalTokens(); got != 102 {
		t.Errorf("TotalTokens() = %d, want 102", got)
	}
}

func TestStore_CuratedFiltersEmptyModelTurns(t *testing.T) {
	store := newTestStore()
	store.Append(models.TextEntry(models.SpeakerHuman, "hello"), "")
	store.Append(models.Entry{Speaker: models.SpeakerAI, Blocks: []models.Block{{Kind: models.BlockText, Text: "  "}}}, "")
	store.Append(models.Entry{Speaker: models.SpeakerAI, Blocks: []models.Block{
		{Kind: models.BlockThinking, Text: "deliberating"},
		{Kind: models.BlockText, Text: "answer"},
	}}, "")

	curated := store.Curated()
	if len(curated) != 2 {
		t.Fatalf("curated length = %d, want 2", len(curated))
	}
	if curated[1].Speaker != models.SpeakerAI {
		t.Errorf("curated[1].Speaker = %q, want ai", curated[1].Speaker)
	}
	for _, b := range curated[1].Blocks {
		if b.Kind == models.BlockThinking {
			t.Error("curated view should strip thinking blocks")
		}
	}

	// Comprehensive view keeps everything, thinking included.
	all := store.All()
	if len(all) != 3 {
		t.Fatalf("comprehensive length = %d, want 3", len(all))
	}
	if all[2].Blocks[0].Kind != models.BlockThinking {
		t.Error("comprehensive view should retain thinking blocks")
	}
}

func TestStore_CuratedIdempotent(t *testing.T) {
	store := newTestStore()
	store.Append(models.TextEntry(models.SpeakerHuman, "question"), "")
	store.Append(models.Entry{Speaker: models.SpeakerAI, Blocks: []models.Block{
		{Kind: models.BlockToolCall, ID: "c1", Name: "ls", Params: map[string]any{"path": "."}},
	}}, "")

	first := store.Curated()
	second := store.Curated()
	if !reflect.DeepEqual(first, second) {
		t.Error("curated view should be stable without intervening appends")
	}
}

func TestStore_SnapshotsAreIndependent(t *testing.T) {
	store := newTestStore()
	store.Append(models.Entry{Speaker: models.SpeakerAI, Blocks: []models.Block{
		{Kind: models.BlockToolCall, ID: "c1", Name: "write", Params: map[string]any{"path": "a.txt"}},
	}}, "")

	snap := store.All()
	snap[0].Blocks[0].Name = "mutated"
	snap[0].Blocks[0].Params["path"] = "b.txt"

	fresh := store.All()
	if fresh[0].Blocks[0].Name != "write" {
		t.Error("mutating a snapshot block changed the store")
	}
	if fresh[0].Blocks[0].Params["path"] != "a.txt" {
		t.Error("mutating snapshot params changed the store")
	}
}

func TestStore_CuratedForTransportSanitizesCycles(t *testing.T) {
	params := map[string]any{"query": "status"}
	params["cache"] = params // self-reference, as observed from real models

	store := newTestStore()
	store.Append(models.TextEntry(models.SpeakerHuman, "go"), "")
	store.Append(models.Entry{Speaker: models.SpeakerAI, Blocks: []models.Block{
		{Kind: models.BlockToolCall, ID: "c1", Name: "lookup", Params: params},
	}}, "")

	transport := store.CuratedForTransport()
	data, err := json.Marshal(transport)
	if err != nil {
		t.Fatalf("transport view should always serialize: %v", err)
	}
	var decoded []models.Entry
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("round-trip decode failed: %v", err)
	}
	got := decoded[1].Blocks[0].Params["cache"]
	if got != CircularMarker {
		t.Errorf("cache field = %v, want circular marker", got)
	}

	// The original graph is untouched.
	if cached, ok := params["cache"].(map[string]any); !ok || reflect.ValueOf(cached).Pointer() != reflect.ValueOf(params).Pointer() {
		t.Error("sanitizing must not mutate the original parameter graph")
	}
}

func TestStore_PopAndRecalculate(t *testing.T) {
	store := newTestStore()
	store.Append(models.TextEntry(models.SpeakerHuman, "aaaa"), "m")  // 1 token
	store.Append(models.TextEntry(models.SpeakerAI, "bbbbbbbb"), "m") // 2 tokens

	popped, ok := store.Pop()
	if !ok {
		t.Fatal("Pop() should return the last entry")
	}
	if popped.Speaker != models.SpeakerAI {
		t.Errorf("popped speaker = %q, want ai", popped.Speaker)
	}

	// Ledger is stale until recalculated.
	if got := store.Recalculate("m"); got != 1 {
		t.Errorf("Recalculate() = %d, want 1", got)
	}

	if _, ok := store.Pop(); !ok {
		t.Fatal("second Pop() should succeed")
	}
	if _, ok := store.Pop(); ok {
		t.Error("Pop() on empty store should report false")
	}
}

func TestStore_QueuesDuringCompression(t *testing.T) {
	store := newTestStore()
	store.Append(models.TextEntry(models.SpeakerHuman, "before"), "")

	store.BeginCompression()
	store.Append(models.TextEntry(models.SpeakerHuman, "queued-1"), "")
	store.Append(models.TextEntry(models.SpeakerAI, "queued-2"), "")
	if store.Len() != 1 {
		t.Fatalf("Len() during compression = %d, want 1", store.Len())
	}

	store.Replace([]models.Entry{models.TextEntry(models.SpeakerHuman, "summary")}, "")
	store.EndCompression()

	all := store.All()
	want := []string{"summary", "queued-1", "queued-2"}
	if len(all) != len(want) {
		t.Fatalf("Len() after flush = %d, want %d", len(all), len(want))
	}
	for i, text := range want {
		if got := all[i].Text(); got != text {
			t.Errorf("entry %d = %q, want %q", i, got, text)
		}
	}
}

func TestStore_ClearQueuedDuringCompression(t *testing.T) {
	store := newTestStore()
	store.Append(models.TextEntry(models.SpeakerHuman, "a"), "")

	store.BeginCompression()
	store.Clear()
	store.Append(models.TextEntry(models.SpeakerHuman, "b"), "")
	if store.Len() != 1 {
		t.Fatal("queued clear applied early")
	}
	store.EndCompression()

	all := store.All()
	if len(all) != 1 || all[0].Text() != "b" {
		t.Errorf("after flush got %d entries, want just the re-appended one", len(all))
	}
	if store.TotalTokens() == 0 {
		t.Error("ledger should account for the flushed append")
	}
}

func TestStore_ReplaceRebuildsLedger(t *testing.T) {
	store := newTestStore()
	store.Append(models.TextEntry(models.SpeakerHuman, "aaaaaaaaaaaaaaaa"), "m")
	before := store.TotalTokens()

	store.Replace([]models.Entry{models.TextEntry(models.SpeakerHuman, "aaaa")}, "m")
	after := store.TotalTokens()
	if after >= before {
		t.Errorf("ledger after replace = %d, want less than %d", after, before)
	}
	if after != 1 {
		t.Errorf("ledger = %d, want 1", after)
	}
}
