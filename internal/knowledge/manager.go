package knowledge

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"converse/internal/embedding"
	"converse/internal/logging"
	"converse/internal/retrieval"
	"converse/internal/types"
)

// NoKnowledgeFound is returned by RetrieveForQuery when no chunk
// matches the query. Callers check for it before injecting knowledge
// into a prompt.
const NoKnowledgeFound = "No relevant knowledge found."

// ManagerConfig wires a Manager's collaborators. Engine and Index are
// optional; without both the manager falls back to keyword retrieval.
type ManagerConfig struct {
	Loader     *Loader
	Chunker    *Chunker
	Hashes     HashPersistence
	Engine     embedding.Engine
	Index      retrieval.VectorIndex
	MaxResults int
}

// Manager is the facade over loading, chunking, change detection, and
// retrieval. Loads take the write lock, queries the read lock, so
// queries never observe a partially re-indexed source.
type Manager struct {
	loader     *Loader
	chunker    *Chunker
	detector   *ChangeDetector
	retriever  retrieval.Retriever
	maxResults int
	mu         sync.RWMutex
}

// NewManager picks the retrieval strategy once, at construction: the
// embedding retriever when an engine and index are wired and the engine
// answers a probe, otherwise keyword overlap. The choice is logged and
// holds for the manager's lifetime.
func NewManager(ctx context.Context, cfg ManagerConfig) (*Manager, error) {
	if cfg.Loader == nil || cfg.Chunker == nil {
		return nil, fmt.Errorf("knowledge manager requires a loader and a chunker")
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = 3
	}

	m := &Manager{
		loader:     cfg.Loader,
		chunker:    cfg.Chunker,
		detector:   NewChangeDetector(ctx, cfg.Hashes),
		maxResults: maxResults,
	}
	m.retriever = selectRetriever(ctx, cfg.Engine, cfg.Index)
	return m, nil
}

func selectRetriever(ctx context.Context, engine embedding.Engine, index retrieval.VectorIndex) retrieval.Retriever {
	if engine == nil || index == nil {
		logging.Knowledge("no embedding engine configured, using keyword retrieval")
		return retrieval.NewKeywordRetriever()
	}

	probeCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if _, err := engine.Embed(probeCtx, "probe"); err != nil {
		logging.Get(logging.CategoryKnowledge).Warnf(
			"embedding engine %s unavailable, falling back to keyword retrieval: %v", engine.Name(), err)
		return retrieval.NewKeywordRetriever()
	}

	r, err := retrieval.NewEmbeddingRetriever(engine, index)
	if err != nil {
		logging.Get(logging.CategoryKnowledge).Warnf(
			"embedding retriever unavailable, falling back to keyword retrieval: %v", err)
		return retrieval.NewKeywordRetriever()
	}
	logging.Knowledge("using embedding retrieval via %s", engine.Name())
	return r
}

// Strategy names the active retrieval strategy.
func (m *Manager) Strategy() string { return m.retriever.Name() }

// LoadSources loads, change-checks, chunks, and indexes every source.
// Unchanged sources are skipped; failed sources are counted and
// reported in the stats without aborting the batch. The hash registry
// is flushed once at the end of the pass.
func (m *Manager) LoadSources(ctx context.Context, sources []string) types.LoadStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := types.LoadStats{Total: len(sources)}
	outcomes := m.loader.LoadAll(ctx, sources)

	for _, out := range outcomes {
		if out.Err != nil {
			stats.Failed++
			stats.Errors = append(stats.Errors, out.Err.Error())
			logging.Get(logging.CategoryKnowledge).Warnf("load %s: %v", out.Source, out.Err)
			continue
		}

		digest := HashText(out.Text)
		if !m.detector.Changed(out.Source, digest) {
			stats.SkippedUnchanged++
			logging.KnowledgeDebug("%s unchanged, skipping re-index", out.Source)
			continue
		}

		if err := m.indexSource(ctx, out, digest); err != nil {
			stats.Failed++
			stats.Errors = append(stats.Errors, err.Error())
			logging.Get(logging.CategoryKnowledge).Warnf("index %s: %v", out.Source, err)
			continue
		}
		stats.Loaded++
	}

	if err := m.detector.Flush(ctx); err != nil {
		logging.Get(logging.CategoryKnowledge).Warnf("persist hash registry: %v", err)
	}
	logging.Knowledge("load pass: %d loaded, %d skipped, %d failed of %d",
		stats.Loaded, stats.SkippedUnchanged, stats.Failed, stats.Total)
	return stats
}

// indexSource replaces a source's chunks wholesale. Superseded chunks
// are removed first so a shrinking source leaves no stale tail. The
// digest is recorded only after indexing succeeds, so a failed pass is
// retried next time.
func (m *Manager) indexSource(ctx context.Context, out Outcome, digest string) error {
	if err := m.retriever.DeleteSource(ctx, out.Source); err != nil {
		return fmt.Errorf("clear stale chunks for %s: %w", out.Source, err)
	}

	chunks := m.chunker.Chunk(out.Text)
	now := time.Now().UTC()
	records := make([]types.ContentRecord, len(chunks))
	for i, chunk := range chunks {
		records[i] = types.ContentRecord{
			Source:      out.Source,
			Content:     chunk,
			ContentHash: digest,
			ChunkIndex:  i,
			TotalChunks: len(chunks),
			LoadedAt:    now,
		}
	}

	if err := m.retriever.Index(ctx, records); err != nil {
		return fmt.Errorf("index %s: %w", out.Source, err)
	}
	m.detector.Record(out.Source, digest)
	logging.KnowledgeDebug("indexed %s: %d chunks (%s, truncated=%v)",
		out.Source, len(chunks), out.Meta.Type, out.Meta.Truncated)
	return nil
}

// RetrieveForQuery returns the top chunks for the query formatted as a
// numbered, source-attributed block, or NoKnowledgeFound when nothing
// matches. Retrieval errors degrade to the no-knowledge marker so a
// flaky engine never takes down a conversation.
func (m *Manager) RetrieveForQuery(ctx context.Context, query string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	results, err := m.retriever.Query(ctx, query, m.maxResults)
	if err != nil {
		logging.Get(logging.CategoryKnowledge).Warnf("retrieve for query: %v", err)
		return NoKnowledgeFound
	}
	if len(results) == 0 {
		return NoKnowledgeFound
	}

	var b strings.Builder
	for i, res := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "Knowledge Source %d (%s, chunk %d/%d):\n%s",
			i+1, res.Source, res.ChunkIndex+1, res.TotalChunks, res.Content)
	}
	return b.String()
}
