package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cuemby/clm/pkg/log"
)

var watcherLog = log.WithComponent("watcher")

// Handler reacts to a debounced change at path. Implementations
// typically cancel any in-flight job for that input, re-plan the
// single file, and enqueue the result.
type Handler interface {
	HandleChange(ctx context.Context, path string) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, path string) error

func (f HandlerFunc) HandleChange(ctx context.Context, path string) error { return f(ctx, path) }

// ignoredSuffixes covers editor swap/backup files that fire spurious
// write events around every real save.
var ignoredSuffixes = []string{".swp", ".swo", "~"}

// ignoredDirs are path components that, if present anywhere in a
// changed path, exclude it from triggering a rebuild.
var ignoredDirs = []string{".git", "__pycache__", ".ipynb_checkpoints", "node_modules"}

// Watcher recursively watches a root directory and debounces
// per-path change bursts before invoking a Handler, the same
// mutex-guarded per-key map shape as a reconciliation loop's
// per-resource cancel functions.
type Watcher struct {
	root    string
	handler Handler
	delay   time.Duration
	fsw     *fsnotify.Watcher

	mu     sync.Mutex
	timers map[string]*time.Timer

	stopCh chan struct{}
}

// New creates a Watcher rooted at root. It does not start watching
// until Start is called.
func New(root string, handler Handler, delay time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		root:    root,
		handler: handler,
		delay:   delay,
		fsw:     fsw,
		timers:  make(map[string]*time.Timer),
		stopCh:  make(chan struct{}),
	}, nil
}

// Start adds every directory under root to the underlying fsnotify
// watch list and begins processing events in the background. It
// returns once the initial directory walk completes.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addTree(w.root); err != nil {
		return err
	}
	go w.loop(ctx)
	return nil
}

// Stop closes the underlying watcher and cancels pending debounce timers.
func (w *Watcher) Stop() {
	close(w.stopCh)
	_ = w.fsw.Close()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, t := range w.timers {
		t.Stop()
	}
	w.timers = make(map[string]*time.Timer)
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if isIgnoredDir(path) {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			watcherLog.Warn().Err(err).Msg("watcher error")
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if isIgnored(event.Name) {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.fsw.Add(event.Name); err != nil {
				watcherLog.Warn().Err(err).Str("path", event.Name).Msg("failed to watch new directory")
			}
			return
		}
	}

	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}

	w.debounce(ctx, event.Name)
}

func (w *Watcher) debounce(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.delay, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()

		if err := w.handler.HandleChange(ctx, path); err != nil {
			watcherLog.Warn().Err(err).Str("path", path).Msg("change handler failed")
		}
	})
}

func isIgnored(path string) bool {
	if isIgnoredDir(path) {
		return true
	}
	base := filepath.Base(path)
	for _, suffix := range ignoredSuffixes {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	return strings.HasPrefix(base, ".#")
}

func isIgnoredDir(path string) bool {
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		for _, ignored := range ignoredDirs {
			if part == ignored {
				return true
			}
		}
	}
	return false
}
