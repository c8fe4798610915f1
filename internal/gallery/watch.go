package gallery

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a path must stay quiet before it is emitted.
const DefaultDebounce = 500 * time.Millisecond

// Watch emits the paths of images created or modified under root until ctx
// is cancelled. Directories created after the call are watched as well.
// Each path is emitted once per burst of writes, after debounce elapsed
// without further events for it.
func (ix *Indexer) Watch(ctx context.Context, root string, debounce time.Duration) (<-chan string, error) {
	root, err := ResolveRoot(root)
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := ix.addTree(w, root); err != nil {
		_ = w.Close()
		return nil, err
	}

	out := make(chan string)
	go ix.watchLoop(ctx, w, out, debounce)
	return out, nil
}

func (ix *Indexer) addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return fmt.Errorf("watch %s: %w", root, err)
			}
			ix.logger.Warn("not watching unreadable directory", "path", path, "error", err)
			return filepath.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.Add(path); err != nil {
			if path == root {
				return fmt.Errorf("watch %s: %w", root, err)
			}
			ix.logger.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (ix *Indexer) watchLoop(ctx context.Context, w *fsnotify.Watcher, out chan<- string, debounce time.Duration) {
	defer close(out)
	defer func() { _ = w.Close() }()

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.Events:
			if !ok {
				return
			}
			ix.handleEvent(w, event, pending)

		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			ix.logger.Warn("watcher error", "error", err)

		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < debounce {
					continue
				}
				delete(pending, path)
				select {
				case out <- path:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

func (ix *Indexer) handleEvent(w *fsnotify.Watcher, event fsnotify.Event, pending map[string]time.Time) {
	path := filepath.Clean(event.Name)

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		delete(pending, path)
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	if event.Has(fsnotify.Create) && isDir(path) {
		if err := ix.addTree(w, path); err != nil {
			ix.logger.Warn("failed to watch new directory", "path", path, "error", err)
		}
		// Files may land in the directory before its watch is registered.
		now := time.Now()
		_ = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
			if err == nil && !d.IsDir() && ix.Matches(p) {
				pending[filepath.Clean(p)] = now
			}
			return nil
		})
		return
	}
	if ix.Matches(path) {
		pending[path] = time.Now()
	}
}
