package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type recordingHandler struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingHandler) HandleChange(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return nil
}

func (r *recordingHandler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.paths)
}

func TestWatcherDebouncesRapidWrites(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "notebook.ipynb")
	if err := os.WriteFile(target, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	h := &recordingHandler{}
	w, err := New(dir, h, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer w.Stop()

	for i := 0; i < 5; i++ {
		if err := os.WriteFile(target, []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(200 * time.Millisecond)

	if got := h.count(); got != 1 {
		t.Errorf("expected exactly one debounced call for rapid writes, got %d", got)
	}
}

func TestIsIgnoredEditorSwapFiles(t *testing.T) {
	cases := map[string]bool{
		"notebook.ipynb":     false,
		".notebook.ipynb.swp": true,
		"notebook.ipynb~":    true,
		".#lockfile":         true,
		"a/.git/HEAD":        true,
		"a/__pycache__/x.pyc": true,
	}
	for path, want := range cases {
		if got := isIgnored(path); got != want {
			t.Errorf("isIgnored(%q) = %v, want %v", path, got, want)
		}
	}
}
