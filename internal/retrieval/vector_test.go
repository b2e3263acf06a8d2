package retrieval

import (
	"context"
	"fmt"
	"testing"

	"converse/internal/types"
)

// unitEngine returns fixed unit vectors per known text so similarity
// outcomes are exact.
type unitEngine struct {
	vectors map[string][]float32
}

func (e *unitEngine) Embed(_ context.Context, text string) ([]float32, error) {
	v, ok := e.vectors[text]
	if !ok {
		return nil, fmt.Errorf("no vector for %q", text)
	}
	return v, nil
}

func (e *unitEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *unitEngine) Dimensions() int { return 3 }
func (e *unitEngine) Name() string    { return "unit" }

type fakeIndex struct {
	ids     []string
	vectors map[string][]float32
	records map[string]types.ContentRecord
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{
		vectors: make(map[string][]float32),
		records: make(map[string]types.ContentRecord),
	}
}

func (f *fakeIndex) Upsert(_ context.Context, id string, vector []float32, rec types.ContentRecord) error {
	if _, ok := f.vectors[id]; !ok {
		f.ids = append(f.ids, id)
	}
	f.vectors[id] = vector
	f.records[id] = rec
	return nil
}

func (f *fakeIndex) Search(_ context.Context, vector []float32, k int) ([]Neighbor, error) {
	var out []Neighbor
	for _, id := range f.ids {
		v := f.vectors[id]
		var dot float64
		for i := range v {
			dot += float64(v[i]) * float64(vector[i])
		}
		out = append(out, Neighbor{Record: f.records[id], Similarity: dot})
	}
	// Insertion-order stable selection sort on similarity.
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].Similarity > out[i].Similarity {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (f *fakeIndex) DeleteSource(_ context.Context, source string) error {
	kept := f.ids[:0]
	for _, id := range f.ids {
		if f.records[id].Source == source {
			delete(f.vectors, id)
			delete(f.records, id)
			continue
		}
		kept = append(kept, id)
	}
	f.ids = kept
	return nil
}

func TestNewEmbeddingRetrieverRequiresCollaborators(t *testing.T) {
	if _, err := NewEmbeddingRetriever(nil, newFakeIndex()); err == nil {
		t.Error("nil engine should fail at construction")
	}
	if _, err := NewEmbeddingRetriever(&unitEngine{}, nil); err == nil {
		t.Error("nil index should fail at construction")
	}
}

func TestEmbeddingRetrieverScoreMapping(t *testing.T) {
	ctx := context.Background()
	engine := &unitEngine{vectors: map[string][]float32{
		"same":     {1, 0, 0},
		"sideways": {0, 1, 0},
		"query":    {1, 0, 0},
	}}
	index := newFakeIndex()

	r, err := NewEmbeddingRetriever(engine, index)
	if err != nil {
		t.Fatalf("NewEmbeddingRetriever: %v", err)
	}
	err = r.Index(ctx, []types.ContentRecord{
		record("a.md", "same", 0),
		record("b.md", "sideways", 0),
	})
	if err != nil {
		t.Fatalf("Index: %v", err)
	}

	results, err := r.Query(ctx, "query", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	// Identical direction maps to 1.0, orthogonal to 0.5.
	if results[0].Score != 1.0 {
		t.Errorf("identical vector score = %v, want 1.0", results[0].Score)
	}
	if results[1].Score != 0.5 {
		t.Errorf("orthogonal vector score = %v, want 0.5", results[1].Score)
	}
}

func TestEmbeddingRetrieverReindexIsIdempotent(t *testing.T) {
	ctx := context.Background()
	engine := &unitEngine{vectors: map[string][]float32{"chunk": {1, 0, 0}}}
	index := newFakeIndex()
	r, _ := NewEmbeddingRetriever(engine, index)

	recs := []types.ContentRecord{record("a.md", "chunk", 0)}
	if err := r.Index(ctx, recs); err != nil {
		t.Fatalf("first Index: %v", err)
	}
	if err := r.Index(ctx, recs); err != nil {
		t.Fatalf("second Index: %v", err)
	}
	if len(index.ids) != 1 {
		t.Errorf("re-indexing the same chunk should upsert, got %d entries", len(index.ids))
	}
}

func TestEmbeddingRetrieverDeleteSource(t *testing.T) {
	ctx := context.Background()
	engine := &unitEngine{vectors: map[string][]float32{
		"chunk": {1, 0, 0},
		"query": {1, 0, 0},
	}}
	index := newFakeIndex()
	r, _ := NewEmbeddingRetriever(engine, index)

	_ = r.Index(ctx, []types.ContentRecord{record("a.md", "chunk", 0)})
	if err := r.DeleteSource(ctx, "a.md"); err != nil {
		t.Fatalf("DeleteSource: %v", err)
	}
	results, err := r.Query(ctx, "query", 10)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("deleted source still retrievable: %+v", results)
	}
}
