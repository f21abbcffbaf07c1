// Package watch monitors the content folder and reports created or modified
// assets so the daemon can warm the cache for them. Stop must be called to
// release filesystem resources.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ContentWatcher owns the fsnotify goroutine for one content root.
type ContentWatcher struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Stop halts the watcher and waits for the underlying goroutine to exit.
func (w *ContentWatcher) Stop() {
	if w == nil {
		return
	}
	w.once.Do(func() {
		w.cancel()
		<-w.done
	})
}

// Content wires fsnotify around the content root and invokes onAssets with
// the keys (root-relative slash paths) of files that changed, debounced so a
// burst of writes yields one callback. New subdirectories are watched as they
// appear.
func Content(ctx context.Context, root string, onAssets func(keys []string), onError func(error)) (*ContentWatcher, error) {
	if onAssets == nil {
		return nil, fmt.Errorf("watch: content watcher requires a change callback")
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve content root: %w", err)
	}
	if info, err := os.Stat(absRoot); err != nil {
		return nil, fmt.Errorf("watch: stat content root: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("watch: content root %s is not a directory", absRoot)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("watch: content: %w", err)
	}

	done := make(chan struct{})
	cw := &ContentWatcher{cancel: cancel, done: done}

	go func() {
		defer close(done)
		defer func() {
			if err := watcher.Close(); err != nil && onError != nil {
				onError(fmt.Errorf("watch: content close: %w", err))
			}
		}()

		dirs := map[string]struct{}{}
		addDir := func(dir string) {
			dir = filepath.Clean(dir)
			if _, ok := dirs[dir]; ok {
				return
			}
			if err := watcher.Add(dir); err != nil {
				if onError != nil {
					onError(fmt.Errorf("watch: add %s: %w", dir, err))
				}
				return
			}
			dirs[dir] = struct{}{}
		}

		if err := filepath.WalkDir(absRoot, func(path string, d os.DirEntry, walkErr error) error {
			if walkErr != nil {
				if onError != nil {
					onError(fmt.Errorf("watch: walk %s: %w", path, walkErr))
				}
				return nil
			}
			if d.IsDir() {
				addDir(path)
			}
			return nil
		}); err != nil && onError != nil {
			onError(fmt.Errorf("watch: traverse %s: %w", absRoot, err))
		}

		const debounce = 25 * time.Millisecond
		pending := map[string]struct{}{}
		var flushTimer *time.Timer
		var flushSignal <-chan time.Time
		scheduleFlush := func() {
			if flushTimer == nil {
				flushTimer = time.NewTimer(debounce)
			} else {
				if !flushTimer.Stop() {
					select {
					case <-flushTimer.C:
					default:
					}
				}
				flushTimer.Reset(debounce)
			}
			flushSignal = flushTimer.C
		}
		defer func() {
			if flushTimer != nil {
				flushTimer.Stop()
			}
		}()

		for {
			select {
			case <-watchCtx.Done():
				return
			case <-flushSignal:
				flushSignal = nil
				keys := make([]string, 0, len(pending))
				for key := range pending {
					keys = append(keys, key)
				}
				pending = map[string]struct{}{}
				onAssets(keys)
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				name := filepath.Clean(event.Name)
				info, err := os.Stat(name)
				if err != nil {
					continue
				}
				if info.IsDir() {
					addDir(name)
					continue
				}
				rel, err := filepath.Rel(absRoot, name)
				if err != nil {
					continue
				}
				pending[filepath.ToSlash(rel)] = struct{}{}
				scheduleFlush()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if err != nil && onError != nil {
					onError(fmt.Errorf("watch: content: %w", err))
				}
			}
		}
	}()

	return cw, nil
}
