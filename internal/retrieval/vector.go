package retrieval

import (
	"context"
	"fmt"

	"converse/internal/embedding"
	"converse/internal/logging"
	"converse/internal/types"
)

// EmbeddingRetriever indexes chunks as vectors through an embedding
// engine and serves queries by nearest-neighbor search on a vector
// index. Both collaborators must be present at construction; a missing
// capability fails here, never at query time.
type EmbeddingRetriever struct {
	engine embedding.Engine
	index  VectorIndex
}

// NewEmbeddingRetriever validates the collaborators and returns the
// retriever. Callers fall back to NewKeywordRetriever on error.
func NewEmbeddingRetriever(engine embedding.Engine, index VectorIndex) (*EmbeddingRetriever, error) {
	if engine == nil {
		return nil, fmt.Errorf("embedding retriever: no embedding engine")
	}
	if index == nil {
		return nil, fmt.Errorf("embedding retriever: no vector index")
	}
	logging.Retrieval("embedding retriever ready: engine=%s dims=%d", engine.Name(), engine.Dimensions())
	return &EmbeddingRetriever{engine: engine, index: index}, nil
}

// Name identifies the active strategy in logs and stats.
func (r *EmbeddingRetriever) Name() string { return "embedding" }

// Index embeds each record and upserts it into the vector index. The
// upsert key is source#chunk so re-indexing a source is idempotent.
func (r *EmbeddingRetriever) Index(ctx context.Context, records []types.ContentRecord) error {
	if len(records) == 0 {
		return nil
	}
	texts := make([]string, len(records))
	for i, rec := range records {
		texts[i] = rec.Content
	}
	vectors, err := r.engine.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}
	for i, rec := range records {
		id := fmt.Sprintf("%s#%d", rec.Source, rec.ChunkIndex)
		if err := r.index.Upsert(ctx, id, vectors[i], rec); err != nil {
			return fmt.Errorf("upsert %s: %w", id, err)
		}
	}
	logging.RetrievalDebug("embedding: indexed %d records", len(records))
	return nil
}

// DeleteSource removes every vector indexed for the source.
func (r *EmbeddingRetriever) DeleteSource(ctx context.Context, source string) error {
	return r.index.DeleteSource(ctx, source)
}

// Query embeds the text and returns the nearest chunks. Cosine
// similarity in [-1,1] is mapped to a [0,1] score (higher = closer).
func (r *EmbeddingRetriever) Query(ctx context.Context, text string, maxResults int) ([]Result, error) {
	if maxResults <= 0 {
		maxResults = 3
	}
	vec, err := r.engine.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	neighbors, err := r.index.Search(ctx, vec, maxResults)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	out := make([]Result, 0, len(neighbors))
	for _, n := range neighbors {
		score := (n.Similarity + 1) / 2
		if score < 0 {
			score = 0
		} else if score > 1 {
			score = 1
		}
		out = append(out, Result{
			Source:      n.Record.Source,
			Content:     n.Record.Content,
			Score:       score,
			ChunkIndex:  n.Record.ChunkIndex,
			TotalChunks: n.Record.TotalChunks,
		})
	}
	logging.RetrievalDebug("embedding: query returned %d results", len(out))
	return out, nil
}
