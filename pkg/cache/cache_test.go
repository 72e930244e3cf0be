package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/clm/pkg/storage"
	"github.com/cuemby/clm/pkg/types"
)

func openTestCache(t *testing.T) (*storage.Store, *ResultCache) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Init(context.Background()))
	return store, New(store)
}

func TestPutAndLookupResult(t *testing.T) {
	_, c := openTestCache(t)
	ctx := context.Background()

	_, err := c.Lookup(ctx, "out.png", "hash1")
	require.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Put(ctx, "out.png", "hash1", []byte(`{"format":"png"}`)))

	entry, err := c.Lookup(ctx, "out.png", "hash1")
	require.NoError(t, err)
	require.Equal(t, "out.png", entry.OutputPath)
	require.Equal(t, int64(1), entry.AccessCount)
}

func TestVerifyOnDiskEvictsMissingFile(t *testing.T) {
	_, c := openTestCache(t)
	ctx := context.Background()

	dir := t.TempDir()
	outputPath := filepath.Join(dir, "out.png")
	require.NoError(t, os.WriteFile(outputPath, []byte("x"), 0o644))
	require.NoError(t, c.Put(ctx, outputPath, "hash1", nil))

	entry, err := c.Lookup(ctx, outputPath, "hash1")
	require.NoError(t, err)
	require.True(t, c.VerifyOnDisk(ctx, entry))

	require.NoError(t, os.Remove(outputPath))
	require.False(t, c.VerifyOnDisk(ctx, entry))

	_, err = c.Lookup(ctx, outputPath, "hash1")
	require.ErrorIs(t, err, ErrMiss)
}

func TestExecutedNotebookRoundTrip(t *testing.T) {
	_, c := openTestCache(t)
	ctx := context.Background()

	_, err := c.LookupExecutedNotebook(ctx, "a.ipynb", "hash1", "en", "python")
	require.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.PutExecutedNotebook(ctx, types.ExecutedNotebookEntry{
		InputPath:   "a.ipynb",
		ContentHash: "hash1",
		Language:    "en",
		ProgLang:    "python",
		NotebookRaw: []byte(`{"cells":[]}`),
	}))

	entry, err := c.LookupExecutedNotebook(ctx, "a.ipynb", "hash1", "en", "python")
	require.NoError(t, err)
	require.Equal(t, []byte(`{"cells":[]}`), entry.NotebookRaw)
}

func TestPruneUnused(t *testing.T) {
	_, c := openTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "never-read.png", "hash1", nil))
	require.NoError(t, c.Put(ctx, "was-read.png", "hash2", nil))
	_, err := c.Lookup(ctx, "was-read.png", "hash2")
	require.NoError(t, err)

	n, err := c.PruneUnused(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = c.Lookup(ctx, "was-read.png", "hash2")
	require.NoError(t, err)
}

func TestPruneKeepingVersionsKeepsMostRecentPerOutputPath(t *testing.T) {
	store, c := openTestCache(t)
	ctx := context.Background()

	// Three content hashes for the same output_path, with created_at backdated
	// so ordering between them is unambiguous regardless of insert speed.
	require.NoError(t, c.Put(ctx, "diagram.png", "hash1", nil))
	_, err := store.DB().ExecContext(ctx,
		"UPDATE results_cache SET created_at = ? WHERE output_path = ? AND content_hash = ?",
		time.Now().Add(-2*time.Hour), "diagram.png", "hash1")
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, "diagram.png", "hash2", nil))
	_, err = store.DB().ExecContext(ctx,
		"UPDATE results_cache SET created_at = ? WHERE output_path = ? AND content_hash = ?",
		time.Now().Add(-1*time.Hour), "diagram.png", "hash2")
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, "diagram.png", "hash3", nil))

	// An unrelated output_path with a single version must survive untouched
	// regardless of the other key's history.
	require.NoError(t, c.Put(ctx, "other.png", "hashA", nil))

	resultsPruned, notebooksPruned, err := c.PruneKeepingVersions(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, int64(1), resultsPruned)
	require.Equal(t, int64(0), notebooksPruned)

	_, err = c.Lookup(ctx, "diagram.png", "hash1")
	require.ErrorIs(t, err, ErrMiss)
	_, err = c.Lookup(ctx, "diagram.png", "hash2")
	require.NoError(t, err)
	_, err = c.Lookup(ctx, "diagram.png", "hash3")
	require.NoError(t, err)
	_, err = c.Lookup(ctx, "other.png", "hashA")
	require.NoError(t, err)
}
