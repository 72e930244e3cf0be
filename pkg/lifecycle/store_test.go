package lifecycle

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/clm/pkg/storage"
	"github.com/cuemby/clm/pkg/types"
)

func openTestStore(t *testing.T) (*storage.Store, *WorkerStore) {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Init(context.Background()))
	return store, NewWorkerStore(store)
}

func TestRegisterAndHeartbeat(t *testing.T) {
	_, ws := openTestStore(t)
	ctx := context.Background()

	id, err := ws.Register(ctx, types.JobKindNotebook, "direct-123", types.ExecutionModeDirect)
	require.NoError(t, err)
	require.Positive(t, id)

	require.NoError(t, ws.Heartbeat(ctx, id))

	workers, err := ws.All(ctx)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	require.Equal(t, types.WorkerStatusIdle, workers[0].Status)

	require.ErrorIs(t, ws.Heartbeat(ctx, id+999), ErrWorkerNotFound)
}

func TestPreRegisterActivate(t *testing.T) {
	_, ws := openTestStore(t)
	ctx := context.Background()

	id, err := ws.PreRegister(ctx, types.JobKindDrawIO, types.ExecutionModeDocker, "session-1", "lifecycle-manager")
	require.NoError(t, err)

	err = ws.Activate(ctx, id, "container-abc", 4242)
	require.NoError(t, err)

	// Activating an already-active worker fails: it is no longer 'created'.
	err = ws.Activate(ctx, id, "container-def", 4242)
	require.Error(t, err)

	workers, err := ws.ByKind(ctx, types.JobKindDrawIO)
	require.NoError(t, err)
	require.Len(t, workers, 1)
	require.Equal(t, types.WorkerStatusIdle, workers[0].Status)
	require.Equal(t, "container-abc", workers[0].ContainerID)
}

func TestPruneEventsAndDeadWorkers(t *testing.T) {
	store, ws := openTestStore(t)
	ctx := context.Background()

	id, err := ws.Register(ctx, types.JobKindNotebook, "direct-1", types.ExecutionModeDirect)
	require.NoError(t, err)
	require.NoError(t, ws.RecordEvent(ctx, types.EventWorkerRegistered, &id, types.JobKindNotebook, types.ExecutionModeDirect, "registered", nil))
	require.NoError(t, ws.SetStatus(ctx, id, types.WorkerStatusDead))

	// Age the rows past any "older than" window by rewriting their
	// timestamps directly, since the schema stamps CURRENT_TIMESTAMP on
	// insert and there is no clock to fast-forward in a test.
	old := time.Now().Add(-48 * time.Hour)
	_, err = store.DB().ExecContext(ctx, "UPDATE worker_events SET created_at = ?", old)
	require.NoError(t, err)
	_, err = store.DB().ExecContext(ctx, "UPDATE workers SET last_heartbeat = ? WHERE id = ?", old, id)
	require.NoError(t, err)

	eventsPruned, err := ws.PruneEvents(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), eventsPruned)

	deadPruned, err := ws.PruneDead(ctx, 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), deadPruned)

	workers, err := ws.All(ctx)
	require.NoError(t, err)
	require.Empty(t, workers)
}
