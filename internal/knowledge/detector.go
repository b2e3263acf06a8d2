package knowledge

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"converse/internal/logging"
)

// HashText returns the hex SHA-256 digest of the content.
func HashText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// HashPersistence stores the source→digest registry across restarts.
// The SQLite store implements it; tests use the in-memory variant.
type HashPersistence interface {
	LoadHashes(ctx context.Context) (map[string]string, error)
	SaveHashes(ctx context.Context, hashes map[string]string) error
}

// ChangeDetector decides whether a source's content changed since the
// last indexing pass by comparing content digests. Unknown sources
// always count as changed.
type ChangeDetector struct {
	mu      sync.Mutex
	hashes  map[string]string
	persist HashPersistence // nil means registry lives only in memory
}

// NewChangeDetector builds a detector, loading any persisted registry.
// A registry that fails to load is logged and treated as empty, which
// just forces a full re-index.
func NewChangeDetector(ctx context.Context, persist HashPersistence) *ChangeDetector {
	d := &ChangeDetector{hashes: make(map[string]string), persist: persist}
	if persist == nil {
		return d
	}
	loaded, err := persist.LoadHashes(ctx)
	if err != nil {
		logging.Get(logging.CategoryKnowledge).Warnf("hash registry unreadable, re-indexing everything: %v", err)
		return d
	}
	d.hashes = loaded
	logging.KnowledgeDebug("hash registry loaded with %d sources", len(loaded))
	return d
}

// Changed reports whether the digest differs from the recorded one.
func (d *ChangeDetector) Changed(source, digest string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	prev, ok := d.hashes[source]
	return !ok || prev != digest
}

// Record remembers the digest for a source. Call after a successful
// index pass so a failed pass is retried next time.
func (d *ChangeDetector) Record(source, digest string) {
	d.mu.Lock()
	d.hashes[source] = digest
	d.mu.Unlock()
}

// Forget drops a source from the registry.
func (d *ChangeDetector) Forget(source string) {
	d.mu.Lock()
	delete(d.hashes, source)
	d.mu.Unlock()
}

// Flush writes the registry through to persistence.
func (d *ChangeDetector) Flush(ctx context.Context) error {
	if d.persist == nil {
		return nil
	}
	d.mu.Lock()
	snapshot := make(map[string]string, len(d.hashes))
	for k, v := range d.hashes {
		snapshot[k] = v
	}
	d.mu.Unlock()
	return d.persist.SaveHashes(ctx, snapshot)
}

// MemoryHashPersistence is an in-process HashPersistence for tests and
// storeless runs.
type MemoryHashPersistence struct {
	mu     sync.Mutex
	hashes map[string]string
}

func NewMemoryHashPersistence() *MemoryHashPersistence {
	return &MemoryHashPersistence{hashes: make(map[string]string)}
}

func (m *MemoryHashPersistence) LoadHashes(context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.hashes))
	for k, v := range m.hashes {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryHashPersistence) SaveHashes(_ context.Context, hashes map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hashes = make(map[string]string, len(hashes))
	for k, v := range hashes {
		m.hashes[k] = v
	}
	return nil
}
