// Package store provides SQLite-backed persistence for the agent:
// conversation state keyed by user, the vector index consumed by the
// embedding retriever, and the source-hash registry used for change
// detection. The pure-Go driver (modernc.org/sqlite) is the default;
// building with -tags sqlite_vec swaps in the sqlite-vec extension for
// accelerated nearest-neighbor search.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"converse/internal/embedding"
	"converse/internal/logging"
	"converse/internal/retrieval"
	"converse/internal/types"
)

// LocalStore is the SQLite store. A single connection with WAL keeps
// writer concurrency simple; callers serialize through database/sql.
type LocalStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// NewLocalStore opens (or creates) the database at path and runs
// migrations. Use ":memory:" for tests.
func NewLocalStore(path string) (*LocalStore, error) {
	logging.Store("opening store at %s", path)

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open(sqliteDriver, path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("set journal_mode=WAL: %v", err)
	}

	s := &LocalStore{db: db, dbPath: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *LocalStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS agent_state (
			user_id    TEXT PRIMARY KEY,
			state      TEXT NOT NULL,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS content_chunks (
			id           TEXT PRIMARY KEY,
			source       TEXT NOT NULL,
			content      TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			chunk_index  INTEGER NOT NULL,
			total_chunks INTEGER NOT NULL,
			embedding    BLOB,
			loaded_at    TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_content_chunks_source ON content_chunks(source)`,
		`CREATE TABLE IF NOT EXISTS source_hashes (
			source TEXT PRIMARY KEY,
			digest TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *LocalStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// STATE STORE
// =============================================================================

// GetState loads the persisted state for a user. Absent rows return
// (nil, nil). A malformed row is logged and treated as absent; it is
// shadowed by the next Put, not deleted, so it stays inspectable.
func (s *LocalStore) GetState(ctx context.Context, userID string) (*types.AgentState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var raw string
	err := s.db.QueryRowContext(ctx,
		"SELECT state FROM agent_state WHERE user_id = ?", userID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state for %s: %w", userID, err)
	}

	state, err := decodeState(raw)
	if err != nil {
		logging.Get(logging.CategoryStore).Warnf("corrupt state for %s, starting fresh: %v", userID, err)
		return nil, nil
	}
	return state, nil
}

// PutState writes the state for a user, replacing any prior row.
func (s *LocalStore) PutState(ctx context.Context, userID string, state *types.AgentState) error {
	raw, err := encodeState(state)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO agent_state (user_id, state, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		userID, raw, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("persist state for %s: %w", userID, err)
	}
	return nil
}

// =============================================================================
// VECTOR INDEX
// =============================================================================

// Upsert stores a chunk with its embedding under a stable id.
func (s *LocalStore) Upsert(ctx context.Context, id string, vector []float32, rec types.ContentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO content_chunks (id, source, content, content_hash, chunk_index, total_chunks, embedding, loaded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			source = excluded.source, content = excluded.content,
			content_hash = excluded.content_hash, chunk_index = excluded.chunk_index,
			total_chunks = excluded.total_chunks, embedding = excluded.embedding,
			loaded_at = excluded.loaded_at`,
		id, rec.Source, rec.Content, rec.ContentHash, rec.ChunkIndex, rec.TotalChunks,
		encodeVector(vector), rec.LoadedAt)
	if err != nil {
		return fmt.Errorf("upsert chunk %s: %w", id, err)
	}
	return nil
}

// Search scans stored embeddings and returns the k nearest neighbors by
// cosine similarity, descending, ties broken by rowid (insertion order).
func (s *LocalStore) Search(ctx context.Context, vector []float32, k int) ([]retrieval.Neighbor, error) {
	if k <= 0 {
		k = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if vecAccelerated {
		return s.searchVec(ctx, vector, k)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT source, content, content_hash, chunk_index, total_chunks, embedding, loaded_at
		 FROM content_chunks WHERE embedding IS NOT NULL ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("scan chunks: %w", err)
	}
	defer rows.Close()

	var hits []retrieval.Neighbor
	for rows.Next() {
		var rec types.ContentRecord
		var blob []byte
		if err := rows.Scan(&rec.Source, &rec.Content, &rec.ContentHash,
			&rec.ChunkIndex, &rec.TotalChunks, &blob, &rec.LoadedAt); err != nil {
			continue
		}
		stored, err := decodeVector(blob)
		if err != nil || len(stored) != len(vector) {
			continue
		}
		sim, err := embedding.CosineSimilarity(vector, stored)
		if err != nil {
			continue
		}
		hits = append(hits, retrieval.Neighbor{Record: rec, Similarity: sim})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	logging.StoreDebug("vector search returned %d neighbors", len(hits))
	return hits, nil
}

// searchVec pushes the distance computation into SQL via sqlite-vec's
// vec_distance_cosine. Reachable only on builds tagged sqlite_vec, where
// the extension is auto-loaded into every connection. Caller holds the
// read lock.
func (s *LocalStore) searchVec(ctx context.Context, vector []float32, k int) ([]retrieval.Neighbor, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, content, content_hash, chunk_index, total_chunks, loaded_at,
		        vec_distance_cosine(embedding, ?) AS distance
		 FROM content_chunks
		 WHERE embedding IS NOT NULL AND length(embedding) = ?
		 ORDER BY distance ASC, rowid ASC
		 LIMIT ?`,
		encodeVector(vector), len(vector)*4, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	var hits []retrieval.Neighbor
	for rows.Next() {
		var rec types.ContentRecord
		var distance float64
		if err := rows.Scan(&rec.Source, &rec.Content, &rec.ContentHash,
			&rec.ChunkIndex, &rec.TotalChunks, &rec.LoadedAt, &distance); err != nil {
			continue
		}
		// vec_distance_cosine returns cosine distance, 1 - similarity.
		hits = append(hits, retrieval.Neighbor{Record: rec, Similarity: 1 - distance})
	}
	logging.StoreDebug("vector search (sqlite-vec) returned %d neighbors", len(hits))
	return hits, rows.Err()
}

// DeleteSource removes every chunk stored for the source.
func (s *LocalStore) DeleteSource(ctx context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, "DELETE FROM content_chunks WHERE source = ?", source)
	if err != nil {
		return fmt.Errorf("delete chunks for %s: %w", source, err)
	}
	return nil
}

// =============================================================================
// HASH REGISTRY PERSISTENCE
// =============================================================================

// LoadHashes reads the full source→digest registry.
func (s *LocalStore) LoadHashes(ctx context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT source, digest FROM source_hashes")
	if err != nil {
		return nil, fmt.Errorf("load hash registry: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var source, digest string
		if err := rows.Scan(&source, &digest); err != nil {
			continue
		}
		out[source] = digest
	}
	return out, rows.Err()
}

// SaveHashes rewrites the registry to match the given map.
func (s *LocalStore) SaveHashes(ctx context.Context, hashes map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin hash save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM source_hashes"); err != nil {
		return fmt.Errorf("clear hash registry: %w", err)
	}
	for source, digest := range hashes {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO source_hashes (source, digest) VALUES (?, ?)", source, digest); err != nil {
			return fmt.Errorf("save hash for %s: %w", source, err)
		}
	}
	return tx.Commit()
}

// =============================================================================
// VECTOR ENCODING
// =============================================================================

// encodeVector packs float32s little-endian, the layout sqlite-vec uses.
func encodeVector(v []float32) []byte {
	if v == nil {
		return nil
	}
	out := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f))
	}
	return out
}

func decodeVector(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d not a multiple of 4", len(b))
	}
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out, nil
}
