package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOpenAndInitIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")
	ctx := context.Background()

	store, err := Open(path)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Init(ctx))

	require.Equal(t, path, store.Path())
}

func TestCollectStatsCountsEmptyTables(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Init(ctx))

	stats, err := store.CollectStats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Jobs)
	require.Zero(t, stats.ResultsCache)
	require.Zero(t, stats.ExecutedNotebookCache)
	require.Zero(t, stats.Workers)
	require.Zero(t, stats.WorkerEvents)
}

func TestVacuumIntoCopiesDatabase(t *testing.T) {
	store, err := Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Init(ctx))

	dest := filepath.Join(t.TempDir(), "copy.db")
	require.NoError(t, store.VacuumInto(ctx, dest))

	copied, err := Open(dest)
	require.NoError(t, err)
	defer copied.Close()

	stats, err := copied.CollectStats(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.Jobs)
}
