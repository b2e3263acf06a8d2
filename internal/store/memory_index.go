package store

import (
	"context"
	"sort"
	"sync"

	"converse/internal/embedding"
	"converse/internal/retrieval"
	"converse/internal/types"
)

// MemoryVectorIndex is an in-process vector index with the same
// contract as the SQLite-backed one. Used when no database path is
// configured, and by tests.
type MemoryVectorIndex struct {
	mu      sync.RWMutex
	order   []string // insertion order of ids, for stable ties
	entries map[string]memoryEntry
}

type memoryEntry struct {
	vector []float32
	record types.ContentRecord
}

// NewMemoryVectorIndex creates an empty in-memory vector index.
func NewMemoryVectorIndex() *MemoryVectorIndex {
	return &MemoryVectorIndex{entries: make(map[string]memoryEntry)}
}

// Upsert stores a chunk under a stable id.
func (m *MemoryVectorIndex) Upsert(_ context.Context, id string, vector []float32, rec types.ContentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[id]; !exists {
		m.order = append(m.order, id)
	}
	m.entries[id] = memoryEntry{vector: vector, record: rec}
	return nil
}

// Search returns the k nearest neighbors by cosine similarity,
// descending, ties broken by insertion order.
func (m *MemoryVectorIndex) Search(_ context.Context, vector []float32, k int) ([]retrieval.Neighbor, error) {
	if k <= 0 {
		k = 10
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []retrieval.Neighbor
	for _, id := range m.order {
		entry, ok := m.entries[id]
		if !ok || len(entry.vector) != len(vector) {
			continue
		}
		sim, err := embedding.CosineSimilarity(vector, entry.vector)
		if err != nil {
			continue
		}
		hits = append(hits, retrieval.Neighbor{
			Record:     entry.record,
			Similarity: sim,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// DeleteSource removes every chunk stored for the source.
func (m *MemoryVectorIndex) DeleteSource(_ context.Context, source string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.order[:0]
	for _, id := range m.order {
		if entry, ok := m.entries[id]; ok && entry.record.Source == source {
			delete(m.entries, id)
			continue
		}
		kept = append(kept, id)
	}
	m.order = kept
	return nil
}
