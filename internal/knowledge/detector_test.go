package knowledge

import (
	"context"
	"testing"
)

func TestChangeDetectorSecondPassUnchanged(t *testing.T) {
	d := NewChangeDetector(context.Background(), nil)

	content := "the quick brown fox"
	digest := HashText(content)
	if !d.Changed("notes.md", digest) {
		t.Error("unknown source should count as changed")
	}
	d.Record("notes.md", digest)

	if d.Changed("notes.md", HashText(content)) {
		t.Error("second pass over unmodified content should not re-index")
	}
}

func TestChangeDetectorSingleByteChange(t *testing.T) {
	d := NewChangeDetector(context.Background(), nil)

	d.Record("notes.md", HashText("the quick brown fox"))
	if !d.Changed("notes.md", HashText("the quick brown fix")) {
		t.Error("a one-byte change must trigger re-indexing")
	}
}

func TestChangeDetectorPersistenceRoundTrip(t *testing.T) {
	ctx := context.Background()
	persist := NewMemoryHashPersistence()

	d := NewChangeDetector(ctx, persist)
	d.Record("a.md", HashText("alpha"))
	d.Record("b.md", HashText("beta"))
	if err := d.Flush(ctx); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	// A fresh detector over the same persistence sees the registry.
	d2 := NewChangeDetector(ctx, persist)
	if d2.Changed("a.md", HashText("alpha")) {
		t.Error("persisted digest for a.md should survive restart")
	}
	if !d2.Changed("b.md", HashText("gamma")) {
		t.Error("changed content should still be detected after restart")
	}
}

func TestChangeDetectorForget(t *testing.T) {
	d := NewChangeDetector(context.Background(), nil)
	d.Record("a.md", HashText("alpha"))
	d.Forget("a.md")
	if !d.Changed("a.md", HashText("alpha")) {
		t.Error("forgotten source should count as changed")
	}
}
