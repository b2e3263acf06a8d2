package retrieval

import (
	"context"
	"sort"
	"strings"
	"sync"

	"converse/internal/logging"
	"converse/internal/types"
)

// KeywordRetriever scores chunks by lexical word-set overlap with the
// query. Pure in-memory, no external dependency; it is the fallback
// strategy and is always constructible.
type KeywordRetriever struct {
	mu      sync.RWMutex
	chunks  []keywordChunk
	nextOrd int
}

type keywordChunk struct {
	record types.ContentRecord
	words  map[string]struct{}
	ord    int // insertion order, breaks score ties
}

// NewKeywordRetriever creates an empty keyword retriever.
func NewKeywordRetriever() *KeywordRetriever {
	return &KeywordRetriever{}
}

// Name identifies the active strategy in logs and stats.
func (r *KeywordRetriever) Name() string { return "keyword" }

// Index tokenizes and stores the records.
func (r *KeywordRetriever) Index(_ context.Context, records []types.ContentRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range records {
		r.chunks = append(r.chunks, keywordChunk{
			record: rec,
			words:  tokenize(rec.Content),
			ord:    r.nextOrd,
		})
		r.nextOrd++
	}
	logging.RetrievalDebug("keyword: indexed %d records (total=%d)", len(records), len(r.chunks))
	return nil
}

// DeleteSource drops every chunk for the source.
func (r *KeywordRetriever) DeleteSource(_ context.Context, source string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.chunks[:0]
	for _, c := range r.chunks {
		if c.record.Source != source {
			kept = append(kept, c)
		}
	}
	r.chunks = kept
	return nil
}

// Query returns up to maxResults chunks ordered by descending overlap
// score. Chunks with zero overlap are never returned.
func (r *KeywordRetriever) Query(_ context.Context, text string, maxResults int) ([]Result, error) {
	if maxResults <= 0 {
		maxResults = 3
	}
	queryWords := tokenize(text)
	if len(queryWords) == 0 {
		return nil, nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	type scored struct {
		res Result
		ord int
	}
	var hits []scored
	for _, c := range r.chunks {
		overlap := 0
		for w := range queryWords {
			if _, ok := c.words[w]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		hits = append(hits, scored{
			res: Result{
				Source:      c.record.Source,
				Content:     c.record.Content,
				Score:       float64(overlap),
				ChunkIndex:  c.record.ChunkIndex,
				TotalChunks: c.record.TotalChunks,
			},
			ord: c.ord,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].res.Score != hits[j].res.Score {
			return hits[i].res.Score > hits[j].res.Score
		}
		return hits[i].ord < hits[j].ord
	})

	if len(hits) > maxResults {
		hits = hits[:maxResults]
	}
	out := make([]Result, len(hits))
	for i, h := range hits {
		out[i] = h.res
	}
	logging.RetrievalDebug("keyword: query returned %d results", len(out))
	return out, nil
}

// tokenize lowercases and splits text into a word set, stripping
// punctuation at token edges.
func tokenize(text string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.Trim(w, ".,;:!?\"'()[]{}")
		if w == "" {
			continue
		}
		set[w] = struct{}{}
	}
	return set
}
