package knowledge

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"converse/internal/logging"
	"converse/internal/types"
)

// debounceWindow coalesces bursts of filesystem events (editors often
// write a file several times in quick succession) into one reload.
const debounceWindow = 500 * time.Millisecond

// reloader re-runs a knowledge load pass. Satisfied by *Manager.
type reloader interface {
	LoadSources(ctx context.Context, sources []string) types.LoadStats
}

// Watcher re-indexes local sources when they change on disk. URL
// sources are ignored; they only refresh on an explicit load.
type Watcher struct {
	manager reloader
	sources []string
	watched []string
}

// NewWatcher prepares a watcher over the local subset of sources.
func NewWatcher(manager reloader, sources []string) *Watcher {
	var local []string
	for _, s := range sources {
		if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
			continue
		}
		local = append(local, s)
	}
	return &Watcher{manager: manager, sources: sources, watched: local}
}

// Run watches until the context is cancelled. Events are debounced and
// each flush re-runs a full load pass; unchanged sources are skipped by
// the change detector, so the pass is cheap. Watches dropped by an
// editor's atomic save (write temp file, rename over the target) are
// re-added at the next flush, once the replacement file exists.
func (w *Watcher) Run(ctx context.Context) error {
	if len(w.watched) == 0 {
		logging.Knowledge("no local sources to watch")
		<-ctx.Done()
		return ctx.Err()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	for _, path := range w.watched {
		if _, statErr := os.Stat(path); statErr != nil {
			logging.KnowledgeDebug("not watching %s: %v", path, statErr)
			continue
		}
		if addErr := fsw.Add(path); addErr != nil {
			logging.Get(logging.CategoryKnowledge).Warnf("watch %s: %v", path, addErr)
		}
	}
	logging.Knowledge("watching %d local sources", len(w.watched))

	rewatch := make(map[string]struct{})
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			logging.KnowledgeDebug("fs event: %s", ev)
			if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				// The watch followed the old inode and is gone.
				rewatch[ev.Name] = struct{}{}
			}
			if timer == nil {
				timer = time.NewTimer(debounceWindow)
				fire = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(debounceWindow)
			}

		case <-fire:
			timer = nil
			fire = nil
			stats := w.manager.LoadSources(ctx, w.sources)
			logging.Knowledge("watch reload: %d re-indexed, %d unchanged", stats.Loaded, stats.SkippedUnchanged)
			for path := range rewatch {
				if addErr := fsw.Add(path); addErr != nil {
					logging.KnowledgeDebug("rewatch %s: %v", path, addErr)
					continue
				}
				delete(rewatch, path)
			}

		case watchErr, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logging.Get(logging.CategoryKnowledge).Warnf("watcher: %v", watchErr)
		}
	}
}
