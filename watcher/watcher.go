// Package watcher reloads themes when files under the themes directory change.
package watcher

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDelay is how long the watcher waits for more events before signalling.
const DefaultDelay = 100 * time.Millisecond

// Watcher monitors a themes directory and its theme subdirectories.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	rootDir   string
	delay     time.Duration
	events    chan struct{}
	stop      chan struct{}
	stopOnce  sync.Once
	debounce  *time.Timer
	mu        sync.Mutex
	closed    bool
}

// New watches rootDir, creating it when missing. delay <= 0 uses DefaultDelay.
func New(rootDir string, delay time.Duration) (*Watcher, error) {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, err
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fsWatcher: fsw,
		rootDir:   rootDir,
		delay:     delay,
		events:    make(chan struct{}, 1),
		stop:      make(chan struct{}),
	}

	if err := w.addRecursive(rootDir); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

// addRecursive adds a directory and all its visible subdirectories.
func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == dir {
				return err
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && hidden(path) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

// hidden reports whether path names a dot file, such as the temporary
// directories used while a repository theme is extracted.
func hidden(path string) bool {
	return strings.HasPrefix(filepath.Base(path), ".")
}

func (w *Watcher) run() {
	defer func() {
		w.mu.Lock()
		w.closed = true
		if w.debounce != nil {
			w.debounce.Stop()
		}
		w.mu.Unlock()
		close(w.events)
	}()

	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if hidden(event.Name) {
				continue
			}

			w.mu.Lock()
			if w.debounce != nil {
				w.debounce.Stop()
			}
			w.debounce = time.AfterFunc(w.delay, func() {
				w.mu.Lock()
				defer w.mu.Unlock()

				if w.closed {
					return
				}

				select {
				case w.events <- struct{}{}:
				default:
				}
			})
			w.mu.Unlock()

			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.addRecursive(event.Name)
				}
			}
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Printf("[watcher] %v", err)
		}
	}
}

// Events signals once per burst of changes.
func (w *Watcher) Events() <-chan struct{} {
	return w.events
}

// Run calls reload after every burst of changes until ctx is done, then
// stops the watcher.
func (w *Watcher) Run(ctx context.Context, reload func() error) {
	log.Printf("[watcher] watching %s", w.rootDir)
	defer w.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("[watcher] stopped")
			return
		case _, ok := <-w.events:
			if !ok {
				return
			}
			if err := reload(); err != nil {
				log.Printf("[watcher] reload failed: %v", err)
			}
		}
	}
}

// Stop shuts down the watcher. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		w.fsWatcher.Close()
	})
}
