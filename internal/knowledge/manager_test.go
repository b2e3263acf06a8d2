package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"converse/internal/embedding"
	"converse/internal/retrieval"
	"converse/internal/types"
)

func testManager(t *testing.T, engine embedding.Engine, index retrieval.VectorIndex) *Manager {
	t.Helper()
	chunker, err := NewChunker(200, 40)
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}
	m, err := NewManager(context.Background(), ManagerConfig{
		Loader:     NewLoader(10_000, 10, time.Second),
		Chunker:    chunker,
		Hashes:     NewMemoryHashPersistence(),
		Engine:     engine,
		Index:      index,
		MaxResults: 3,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestManagerFallsBackToKeyword(t *testing.T) {
	m := testManager(t, nil, nil)
	if got := m.Strategy(); got != "keyword" {
		t.Errorf("strategy = %s, want keyword without an engine", got)
	}
}

func TestManagerLoadSkipsUnchanged(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	a := writeFile(t, dir, "a.md", "The refund policy allows returns within thirty days.")
	b := writeFile(t, dir, "b.md", "Support hours are nine to five on weekdays.")

	m := testManager(t, nil, nil)

	stats := m.LoadSources(ctx, []string{a, b})
	require.Equal(t, 2, stats.Loaded)
	require.Equal(t, 0, stats.Failed)
	require.Equal(t, 0, stats.SkippedUnchanged)

	stats = m.LoadSources(ctx, []string{a, b})
	require.Equal(t, 0, stats.Loaded, "second pass should skip both")
	require.Equal(t, 2, stats.SkippedUnchanged)

	require.NoError(t, os.WriteFile(a, []byte("The refund policy allows returns within sixty days."), 0o644))
	stats = m.LoadSources(ctx, []string{a, b})
	require.Equal(t, 1, stats.Loaded, "only the edited source should re-index")
	require.Equal(t, 1, stats.SkippedUnchanged)
}

func TestManagerLoadCountsFailures(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	good := writeFile(t, dir, "good.md", "Some indexed content here.")
	missing := filepath.Join(dir, "missing.md")

	m := testManager(t, nil, nil)
	stats := m.LoadSources(ctx, []string{good, missing})
	require.Equal(t, 1, stats.Loaded)
	require.Equal(t, 1, stats.Failed)
	require.Len(t, stats.Errors, 1)
	require.Contains(t, stats.Errors[0], "missing.md")
}

func TestManagerRetrieveFormatting(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src := writeFile(t, dir, "policy.md", "Refunds are processed within five business days of approval.")

	m := testManager(t, nil, nil)
	m.LoadSources(ctx, []string{src})

	block := m.RetrieveForQuery(ctx, "refunds processed days")
	if !strings.HasPrefix(block, "Knowledge Source 1 (") {
		t.Errorf("block should be numbered and attributed, got %q", block)
	}
	if !strings.Contains(block, "policy.md") {
		t.Errorf("block should name the source, got %q", block)
	}
	if !strings.Contains(block, "five business days") {
		t.Errorf("block should carry the chunk content, got %q", block)
	}
}

func TestManagerRetrieveNoResultsMarker(t *testing.T) {
	ctx := context.Background()
	m := testManager(t, nil, nil)
	if got := m.RetrieveForQuery(ctx, "anything at all"); got != NoKnowledgeFound {
		t.Errorf("empty index should return the marker, got %q", got)
	}
}

// stubEngine embeds deterministically so retrieval order is predictable.
type stubEngine struct{ fail bool }

func (s *stubEngine) Embed(_ context.Context, text string) ([]float32, error) {
	if s.fail {
		return nil, fmt.Errorf("engine offline")
	}
	v := make([]float32, 4)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		v[len(w)%4]++
	}
	return v, nil
}

func (s *stubEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (s *stubEngine) Dimensions() int { return 4 }
func (s *stubEngine) Name() string    { return "stub" }

// stubIndex is a minimal in-memory VectorIndex for selection tests.
type stubIndex struct {
	entries []retrieval.Neighbor
}

func (s *stubIndex) Upsert(_ context.Context, _ string, _ []float32, rec types.ContentRecord) error {
	s.entries = append(s.entries, retrieval.Neighbor{Record: rec, Similarity: 1})
	return nil
}

func (s *stubIndex) Search(_ context.Context, _ []float32, k int) ([]retrieval.Neighbor, error) {
	if len(s.entries) > k {
		return s.entries[:k], nil
	}
	return s.entries, nil
}

func (s *stubIndex) DeleteSource(_ context.Context, source string) error {
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.Record.Source != source {
			kept = append(kept, e)
		}
	}
	s.entries = kept
	return nil
}

func TestManagerSelectsEmbeddingWhenEngineAnswers(t *testing.T) {
	m := testManager(t, &stubEngine{}, &stubIndex{})
	if got := m.Strategy(); got != "embedding" {
		t.Errorf("strategy = %s, want embedding", got)
	}
}

func TestManagerFallsBackWhenProbeFails(t *testing.T) {
	m := testManager(t, &stubEngine{fail: true}, &stubIndex{})
	if got := m.Strategy(); got != "keyword" {
		t.Errorf("strategy = %s, want keyword after failed probe", got)
	}
}
