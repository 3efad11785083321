// Package watch reports changes to a repository's metadata so clients can
// refresh status views without polling.
package watch

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/thiagokokada/gitcore/internal/debounce"
)

const DefaultDelay = 350 * time.Millisecond

// Change is emitted once per burst of filesystem events.
type Change struct {
	Root string `json:"root"`
}

// Watcher watches a repository's metadata directory, or the worktree root
// when the metadata lives elsewhere, and debounces events into Changes.
type Watcher struct {
	root    string
	fsw     *fsnotify.Watcher
	changes chan Change
	logger  *slog.Logger

	mu       sync.Mutex
	debounce *debounce.Debouncer
	closed   bool
	done     chan struct{}
}

// New starts watching root. gitDir is watched when it is a directory
// directly under root; otherwise root itself is watched. A non-positive
// delay selects DefaultDelay.
func New(root, gitDir string, delay time.Duration, logger *slog.Logger) (*Watcher, error) {
	if delay <= 0 {
		delay = DefaultDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify: %w", err)
	}
	w := &Watcher{
		root:    root,
		fsw:     fsw,
		changes: make(chan Change, 1),
		logger:  logger,
		done:    make(chan struct{}),
	}
	for _, path := range watchPaths(root, gitDir) {
		logger.Debug("adding path to FS watcher", slog.String("path", path))
		if err := fsw.Add(path); err != nil {
			err := errors.Join(err, fsw.Close())
			return nil, fmt.Errorf("watch %s: %w", path, err)
		}
	}
	w.debounce = debounce.New(delay, w.notify)
	go w.loop()
	return w, nil
}

// Changes delivers one notification per debounced burst. Bursts that arrive
// while a notification is still pending are coalesced into it.
func (w *Watcher) Changes() <-chan Change { return w.changes }

func (w *Watcher) Root() string { return w.root }

// Close stops the watcher. The Changes channel is closed afterwards.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.debounce.Stop()
	w.mu.Unlock()

	err := w.fsw.Close()
	<-w.done
	return err
}

func (w *Watcher) notify() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	select {
	case w.changes <- Change{Root: w.root}:
	default:
	}
}

func (w *Watcher) loop() {
	defer func() {
		w.mu.Lock()
		close(w.changes)
		w.mu.Unlock()
		close(w.done)
	}()
	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if shouldIgnore(ev.Name) {
				continue
			}
			w.logger.Debug("fsnotify event",
				slog.String("op", ev.Op.String()),
				slog.String("path", ev.Name),
			)
			w.mu.Lock()
			if !w.closed {
				w.debounce.Trigger()
			}
			w.mu.Unlock()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("fsnotify error", slog.Any("error", err))
		}
	}
}

func watchPaths(root, gitDir string) []string {
	if gitDir == "" {
		gitDir = filepath.Join(root, ".git")
	}
	if filepath.Dir(gitDir) == filepath.Clean(root) {
		if info, err := os.Stat(gitDir); err == nil && info.IsDir() {
			return []string{gitDir}
		}
	}
	return []string{root}
}

func shouldIgnore(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".lock", ".ipc":
		return true
	default:
		return false
	}
}
