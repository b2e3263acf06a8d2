package store

import (
	"context"
	"testing"
	"time"

	"converse/internal/types"
)

func testStore(t *testing.T) *LocalStore {
	t.Helper()
	s, err := NewLocalStore(":memory:")
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	got, err := s.GetState(ctx, "alice")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if got != nil {
		t.Fatal("absent user should return nil state")
	}

	conf := 0.42
	state := types.NewAgentState()
	state.Messages = append(state.Messages,
		types.NewMessage(types.RoleUser, "hello"),
		types.NewMessage(types.RoleAssistant, "hi there"))
	state.Category = "Greeting"
	state.Confidence = &conf
	state.RequirementAttempts["Greeting"] = 1
	state.WorkflowStep = types.StepConfidence

	if err := s.PutState(ctx, "alice", state); err != nil {
		t.Fatalf("PutState: %v", err)
	}

	got, err = s.GetState(ctx, "alice")
	if err != nil {
		t.Fatalf("GetState after put: %v", err)
	}
	if got == nil {
		t.Fatal("state missing after put")
	}
	if len(got.Messages) != 2 || got.Category != "Greeting" {
		t.Errorf("round-trip mismatch: %+v", got)
	}
	if got.Confidence == nil || *got.Confidence != conf {
		t.Errorf("confidence lost in round trip: %v", got.Confidence)
	}
	if got.RequirementAttempts["Greeting"] != 1 {
		t.Errorf("attempts lost in round trip: %v", got.RequirementAttempts)
	}
}

func TestStateIsolationBetweenUsers(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	state := types.NewAgentState()
	state.Category = "Billing"
	if err := s.PutState(ctx, "alice", state); err != nil {
		t.Fatalf("PutState: %v", err)
	}

	got, err := s.GetState(ctx, "bob")
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if got != nil {
		t.Error("bob should not observe alice's state")
	}
}

func TestCorruptStateShadowedNotDeleted(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	if _, err := s.db.Exec(
		"INSERT INTO agent_state (user_id, state) VALUES (?, ?)", "alice", "{not json"); err != nil {
		t.Fatalf("seed corrupt row: %v", err)
	}

	got, err := s.GetState(ctx, "alice")
	if err != nil {
		t.Fatalf("GetState should treat corrupt state as absent, got error: %v", err)
	}
	if got != nil {
		t.Fatal("corrupt state should read as absent")
	}

	// The corrupt row is still there until the next Put shadows it.
	var raw string
	if err := s.db.QueryRow("SELECT state FROM agent_state WHERE user_id = ?", "alice").Scan(&raw); err != nil {
		t.Fatalf("corrupt row should remain inspectable: %v", err)
	}
	if raw != "{not json" {
		t.Errorf("corrupt row mutated: %q", raw)
	}

	if err := s.PutState(ctx, "alice", types.NewAgentState()); err != nil {
		t.Fatalf("PutState over corrupt row: %v", err)
	}
	got, err = s.GetState(ctx, "alice")
	if err != nil || got == nil {
		t.Fatalf("fresh state should shadow the corrupt row: %v, %v", got, err)
	}
}

func TestVectorUpsertSearchDelete(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	now := time.Now().UTC()

	recs := []struct {
		id  string
		vec []float32
		src string
	}{
		{"a#0", []float32{1, 0, 0}, "a.md"},
		{"a#1", []float32{0.9, 0.1, 0}, "a.md"},
		{"b#0", []float32{0, 1, 0}, "b.md"},
	}
	for i, r := range recs {
		rec := types.ContentRecord{Source: r.src, Content: r.id, ChunkIndex: i, TotalChunks: 3, LoadedAt: now}
		if err := s.Upsert(ctx, r.id, r.vec, rec); err != nil {
			t.Fatalf("Upsert %s: %v", r.id, err)
		}
	}

	hits, err := s.Search(ctx, []float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("hits = %d, want 2", len(hits))
	}
	if hits[0].Record.Content != "a#0" {
		t.Errorf("nearest = %s, want a#0", hits[0].Record.Content)
	}
	if hits[0].Similarity < hits[1].Similarity {
		t.Error("neighbors not ordered by descending similarity")
	}

	if err := s.DeleteSource(ctx, "a.md"); err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}
	hits, err = s.Search(ctx, []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("Search after delete: %v", err)
	}
	for _, h := range hits {
		if h.Record.Source == "a.md" {
			t.Error("deleted source still searchable")
		}
	}
}

func TestUpsertReplacesExistingID(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)
	now := time.Now().UTC()

	rec := types.ContentRecord{Source: "a.md", Content: "old", ChunkIndex: 0, TotalChunks: 1, LoadedAt: now}
	if err := s.Upsert(ctx, "a#0", []float32{1, 0}, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	rec.Content = "new"
	if err := s.Upsert(ctx, "a#0", []float32{0, 1}, rec); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	hits, err := s.Search(ctx, []float32{0, 1}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1 (upsert, not append)", len(hits))
	}
	if hits[0].Record.Content != "new" {
		t.Errorf("content = %s, want new", hits[0].Record.Content)
	}
}

func TestHashRegistryPersistence(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	in := map[string]string{"a.md": "digest-a", "b.md": "digest-b"}
	if err := s.SaveHashes(ctx, in); err != nil {
		t.Fatalf("SaveHashes: %v", err)
	}

	out, err := s.LoadHashes(ctx)
	if err != nil {
		t.Fatalf("LoadHashes: %v", err)
	}
	if len(out) != 2 || out["a.md"] != "digest-a" || out["b.md"] != "digest-b" {
		t.Errorf("registry round trip = %v", out)
	}

	// A save rewrites wholesale; removed sources disappear.
	if err := s.SaveHashes(ctx, map[string]string{"b.md": "digest-b2"}); err != nil {
		t.Fatalf("second SaveHashes: %v", err)
	}
	out, _ = s.LoadHashes(ctx)
	if len(out) != 1 || out["b.md"] != "digest-b2" {
		t.Errorf("rewrite result = %v", out)
	}
}

func TestMemoryVectorIndexContract(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryVectorIndex()
	now := time.Now().UTC()

	for i, v := range [][]float32{{1, 0}, {0.5, 0.5}, {0, 1}} {
		rec := types.ContentRecord{Source: "s.md", ChunkIndex: i, TotalChunks: 3, LoadedAt: now}
		if err := m.Upsert(ctx, ids(i), v, rec); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	hits, err := m.Search(ctx, []float32{1, 0}, 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 || hits[0].Record.ChunkIndex != 0 {
		t.Errorf("unexpected neighbors: %+v", hits)
	}

	if err := m.DeleteSource(ctx, "s.md"); err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}
	hits, _ = m.Search(ctx, []float32{1, 0}, 10)
	if len(hits) != 0 {
		t.Errorf("expected empty index after delete, got %d", len(hits))
	}
}

func ids(i int) string {
	return string(rune('a'+i)) + "#0"
}
