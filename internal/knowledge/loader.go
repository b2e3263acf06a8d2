// Package knowledge loads content from files, directories, and URLs,
// splits it into overlapping chunks, detects changes via content
// hashes, and serves ranked snippets to the conversation pipeline
// through a pluggable retriever.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"converse/internal/logging"
)

// ErrKind classifies a per-source load failure.
type ErrKind string

const (
	ErrNotFound   ErrKind = "not_found"
	ErrUnreadable ErrKind = "unreadable"
	ErrTimeout    ErrKind = "timeout"
	ErrTooLarge   ErrKind = "too_large"
)

// SourceError is a typed per-source failure. It is aggregated into load
// stats and never fails the batch.
type SourceError struct {
	Source string
	Kind   ErrKind
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Metadata describes how a source was loaded.
type Metadata struct {
	Type      string // "file", "directory", or "url"
	Truncated bool
	FileCount int // directories only
}

// Outcome is the per-source result of a batch load.
type Outcome struct {
	Source string
	Text   string
	Meta   Metadata
	Err    error
}

// Loader turns a source identifier into raw text plus metadata.
// Polymorphic over source kind: file path, directory path, or URL.
type Loader struct {
	maxFileBytes int
	maxDirFiles  int
	httpClient   *http.Client
}

// hardCapMultiple bounds single files: content up to maxFileBytes is
// kept whole, up to hardCapMultiple*maxFileBytes it is truncated with a
// flag, beyond that the source fails as too large.
const hardCapMultiple = 10

// loadParallelism bounds concurrent source loads within one batch.
const loadParallelism = 4

// textExtensions are the file suffixes a directory walk collects.
var textExtensions = map[string]bool{
	".md": true, ".txt": true, ".rst": true, ".html": true,
	".json": true, ".yaml": true, ".yml": true, ".csv": true,
	".go": true, ".py": true, ".js": true, ".ts": true,
}

// NewLoader creates a loader with the given ceilings.
func NewLoader(maxFileBytes, maxDirFiles int, urlTimeout time.Duration) *Loader {
	if maxFileBytes <= 0 {
		maxFileBytes = 100_000
	}
	if maxDirFiles <= 0 {
		maxDirFiles = 100
	}
	if urlTimeout <= 0 {
		urlTimeout = 10 * time.Second
	}
	return &Loader{
		maxFileBytes: maxFileBytes,
		maxDirFiles:  maxDirFiles,
		httpClient:   &http.Client{Timeout: urlTimeout},
	}
}

// Load resolves one source. Errors are always *SourceError.
func (l *Loader) Load(ctx context.Context, source string) (string, Metadata, error) {
	switch {
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		return l.loadURL(ctx, source)
	default:
		info, err := os.Stat(source)
		if err != nil {
			kind := ErrUnreadable
			if errors.Is(err, fs.ErrNotExist) {
				kind = ErrNotFound
			}
			return "", Metadata{}, &SourceError{Source: source, Kind: kind, Err: err}
		}
		if info.IsDir() {
			return l.loadDirectory(source)
		}
		return l.loadFile(source, info.Size())
	}
}

// LoadAll loads every source with bounded parallelism, aggregating
// per-source outcomes in input order. One failing source never aborts
// the others.
func (l *Loader) LoadAll(ctx context.Context, sources []string) []Outcome {
	outcomes := make([]Outcome, len(sources))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(loadParallelism)
	for i, source := range sources {
		g.Go(func() error {
			text, meta, err := l.Load(ctx, source)
			outcomes[i] = Outcome{Source: source, Text: text, Meta: meta, Err: err}
			return nil // per-source errors live in the outcome
		})
	}
	_ = g.Wait()

	return outcomes
}

func (l *Loader) loadFile(source string, size int64) (string, Metadata, error) {
	if size > int64(l.maxFileBytes)*hardCapMultiple {
		return "", Metadata{}, &SourceError{Source: source, Kind: ErrTooLarge,
			Err: fmt.Errorf("file is %d bytes, cap is %d", size, l.maxFileBytes*hardCapMultiple)}
	}

	data, err := os.ReadFile(source)
	if err != nil {
		return "", Metadata{}, &SourceError{Source: source, Kind: ErrUnreadable, Err: err}
	}

	meta := Metadata{Type: "file"}
	if len(data) > l.maxFileBytes {
		data = data[:l.maxFileBytes]
		meta.Truncated = true
	}
	return string(data), meta, nil
}

// loadDirectory recursively collects text-like files up to the
// file-count ceiling, concatenating with provenance-preserving
// separators.
func (l *Loader) loadDirectory(source string) (string, Metadata, error) {
	var files []string
	err := filepath.WalkDir(source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip unreadable entries, keep walking
		}
		if d.IsDir() || !textExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return "", Metadata{}, &SourceError{Source: source, Kind: ErrUnreadable, Err: err}
	}

	sort.Strings(files)
	if len(files) > l.maxDirFiles {
		files = files[:l.maxDirFiles]
	}

	var parts []string
	truncated := false
	for _, path := range files {
		text, meta, err := l.loadFile(path, fileSize(path))
		if err != nil {
			logging.KnowledgeDebug("directory %s: skipping %s: %v", source, path, err)
			continue
		}
		truncated = truncated || meta.Truncated
		rel, relErr := filepath.Rel(source, path)
		if relErr != nil {
			rel = path
		}
		parts = append(parts, fmt.Sprintf("=== %s ===\n%s", rel, text))
	}

	return strings.Join(parts, "\n\n"), Metadata{
		Type:      "directory",
		Truncated: truncated,
		FileCount: len(parts),
	}, nil
}

func (l *Loader) loadURL(ctx context.Context, source string) (string, Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return "", Metadata{}, &SourceError{Source: source, Kind: ErrUnreadable, Err: err}
	}

	resp, err := l.httpClient.Do(req)
	if err != nil {
		kind := ErrUnreadable
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			kind = ErrTimeout
		}
		return "", Metadata{}, &SourceError{Source: source, Kind: kind, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", Metadata{}, &SourceError{Source: source, Kind: ErrUnreadable,
			Err: fmt.Errorf("unexpected status %d", resp.StatusCode)}
	}

	limited := io.LimitReader(resp.Body, int64(l.maxFileBytes)+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return "", Metadata{}, &SourceError{Source: source, Kind: ErrUnreadable, Err: err}
	}

	meta := Metadata{Type: "url"}
	if len(data) > l.maxFileBytes {
		data = data[:l.maxFileBytes]
		meta.Truncated = true
	}
	return string(data), meta, nil
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}
