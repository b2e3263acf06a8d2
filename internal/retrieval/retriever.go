// Package retrieval ranks stored knowledge chunks against query text.
// Two interchangeable strategies: lexical keyword overlap (always
// available) and embedding-based vector similarity (requires an
// embedding engine and a vector index). Strategy selection happens
// once, at knowledge-manager construction.
package retrieval

import (
	"context"

	"converse/internal/types"
)

// Result is one ranked chunk returned by a query.
type Result struct {
	Source      string
	Content     string
	Score       float64
	ChunkIndex  int
	TotalChunks int
}

// Retriever is the common strategy contract. Query results are ordered
// by descending score with ties broken by original insertion order.
// DeleteSource removes every chunk indexed for a source; the change
// detector calls it before re-indexing changed content.
type Retriever interface {
	Index(ctx context.Context, records []types.ContentRecord) error
	Query(ctx context.Context, text string, maxResults int) ([]Result, error)
	DeleteSource(ctx context.Context, source string) error
	Name() string
}

// Neighbor is one nearest-neighbor hit from a vector index.
type Neighbor struct {
	Record     types.ContentRecord
	Similarity float64 // cosine similarity in [-1, 1]
}

// VectorIndex is the external vector-store collaborator used by the
// embedding strategy.
type VectorIndex interface {
	Upsert(ctx context.Context, id string, vector []float32, record types.ContentRecord) error
	Search(ctx context.Context, vector []float32, k int) ([]Neighbor, error)
	DeleteSource(ctx context.Context, source string) error
}
