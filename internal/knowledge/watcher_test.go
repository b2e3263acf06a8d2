package knowledge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"converse/internal/types"
)

type countingReloader struct {
	mu    sync.Mutex
	calls int
}

func (c *countingReloader) LoadSources(_ context.Context, sources []string) types.LoadStats {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return types.LoadStats{Total: len(sources)}
}

func (c *countingReloader) loadCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func startWatcher(t *testing.T, rel *countingReloader, sources []string) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan struct{})
	w := NewWatcher(rel, sources)
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	// Let the watches establish before the test starts mutating files.
	time.Sleep(100 * time.Millisecond)
	return func() {
		stop()
		<-done
	}
}

func waitForCalls(t *testing.T, rel *countingReloader, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if rel.loadCalls() >= want {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d reloads, have %d", want, rel.loadCalls())
}

func TestWatcherIgnoresURLSources(t *testing.T) {
	w := NewWatcher(&countingReloader{}, []string{
		"https://example.com/doc",
		"http://example.com/other",
		"notes.txt",
	})
	if len(w.watched) != 1 || w.watched[0] != "notes.txt" {
		t.Errorf("watched = %v, want only the local path", w.watched)
	}
	if len(w.sources) != 3 {
		t.Errorf("reload must still cover all %d sources, got %d", 3, len(w.sources))
	}
}

func TestWatcherCoalescesEventBurst(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("v0"), 0o644); err != nil {
		t.Fatal(err)
	}

	rel := &countingReloader{}
	stop := startWatcher(t, rel, []string{path})
	defer stop()

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(path, []byte(fmt.Sprintf("revision %d", i)), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	waitForCalls(t, rel, 1)
	time.Sleep(2 * debounceWindow)
	if got := rel.loadCalls(); got != 1 {
		t.Errorf("reloads = %d, want the burst coalesced into 1", got)
	}
}

func TestWatcherSurvivesAtomicReplace(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	rel := &countingReloader{}
	stop := startWatcher(t, rel, []string{path})
	defer stop()

	// Editor-style atomic save: write a temp file, rename it over the
	// target. The watch followed the old inode and must be re-added.
	tmp := filepath.Join(dir, "notes.txt.tmp")
	if err := os.WriteFile(tmp, []byte("v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}
	waitForCalls(t, rel, 1)

	// A plain write after the replace must still trigger a reload.
	if err := os.WriteFile(path, []byte("v3"), 0o644); err != nil {
		t.Fatal(err)
	}
	waitForCalls(t, rel, 2)
}
