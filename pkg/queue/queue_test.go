package queue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/clm/pkg/storage"
	"github.com/cuemby/clm/pkg/types"
)

func openTestQueue(t *testing.T) *Queue {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "jobs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.Init(context.Background()))
	return New(store)
}

func TestEnqueueClaimUpdateStatus(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, EnqueueParams{
		Kind:      types.JobKindPlantUML,
		InputPath: "diagrams/a.puml",
		Payload:   []byte(`{}`),
	})
	require.NoError(t, err)
	require.Positive(t, id)

	job, err := q.Claim(ctx, types.JobKindPlantUML, 1)
	require.NoError(t, err)
	require.NotNil(t, job)
	require.Equal(t, id, job.ID)
	require.Equal(t, types.JobStatusProcessing, job.Status)

	_, err = q.Claim(ctx, types.JobKindPlantUML, 1)
	require.ErrorIs(t, err, ErrNoJobAvailable)

	require.NoError(t, q.UpdateStatus(ctx, id, types.JobStatusCompleted, "", `{"ok":true}`))

	got, err := q.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusCompleted, got.Status)
}

func TestListFiltersByStatusAndKind(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	id1, err := q.Enqueue(ctx, EnqueueParams{Kind: types.JobKindNotebook, InputPath: "a.ipynb", Payload: []byte(`{}`)})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, EnqueueParams{Kind: types.JobKindDrawIO, InputPath: "b.drawio", Payload: []byte(`{}`)})
	require.NoError(t, err)

	jobs, err := q.List(ctx, ListParams{Kind: types.JobKindNotebook})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, id1, jobs[0].ID)

	jobs, err = q.List(ctx, ListParams{Status: types.JobStatusPending})
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	jobs, err = q.List(ctx, ListParams{Limit: 1})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
}

func TestCancelBulkOnlyAffectsOldPendingJobs(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, EnqueueParams{Kind: types.JobKindNotebook, InputPath: "a.ipynb", Payload: []byte(`{}`)})
	require.NoError(t, err)

	n, err := q.CancelBulk(ctx, time.Hour, "")
	require.NoError(t, err)
	require.Zero(t, n, "job created just now should not match an hour-old cutoff")

	n, err = q.CancelBulk(ctx, -time.Hour, "")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := q.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusCancelled, got.Status)
}

func TestCancelBulkRestrictsByKind(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, EnqueueParams{Kind: types.JobKindNotebook, InputPath: "a.ipynb", Payload: []byte(`{}`)})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, EnqueueParams{Kind: types.JobKindDrawIO, InputPath: "b.drawio", Payload: []byte(`{}`)})
	require.NoError(t, err)

	n, err := q.CancelBulk(ctx, -time.Hour, types.JobKindDrawIO)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Pending)
	require.Equal(t, int64(1), stats.Cancelled)
}

func TestCancelForInputSetsCancelledAtAndBy(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, EnqueueParams{Kind: types.JobKindNotebook, InputPath: "a.ipynb", Payload: []byte(`{}`)})
	require.NoError(t, err)

	n, err := q.CancelForInput(ctx, "a.ipynb", "watch")
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := q.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusCancelled, got.Status)
	require.NotNil(t, got.CancelledAt)
	require.Equal(t, "watch", got.CancelledBy)
	require.Nil(t, got.CompletedAt)
}

func TestResetHungKeysOffStartedAtNotHeartbeat(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, EnqueueParams{Kind: types.JobKindNotebook, InputPath: "a.ipynb", Payload: []byte(`{}`)})
	require.NoError(t, err)
	_, err = q.Claim(ctx, types.JobKindNotebook, 1)
	require.NoError(t, err)

	// A fresh claim is not stale yet, even against a worker row that does
	// not exist (no heartbeat to compare against at all).
	requeued, failed, err := q.ResetHung(ctx, time.Hour)
	require.NoError(t, err)
	require.Zero(t, requeued)
	require.Zero(t, failed)

	requeued, failed, err = q.ResetHung(ctx, -time.Hour)
	require.NoError(t, err)
	require.Equal(t, 1, requeued)
	require.Zero(t, failed)

	got, err := q.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, types.JobStatusPending, got.Status)
	require.Nil(t, got.StartedAt)
}

func TestPrunePerStatusRetention(t *testing.T) {
	q := openTestQueue(t)
	ctx := context.Background()

	completedID, err := q.Enqueue(ctx, EnqueueParams{Kind: types.JobKindNotebook, InputPath: "a.ipynb", Payload: []byte(`{}`)})
	require.NoError(t, err)
	_, err = q.Claim(ctx, types.JobKindNotebook, 1)
	require.NoError(t, err)
	require.NoError(t, q.UpdateStatus(ctx, completedID, types.JobStatusCompleted, "", ""))

	cancelledID, err := q.Enqueue(ctx, EnqueueParams{Kind: types.JobKindDrawIO, InputPath: "b.drawio", Payload: []byte(`{}`)})
	require.NoError(t, err)
	_, err = q.CancelForInput(ctx, "b.drawio", "watch")
	require.NoError(t, err)

	// Neither window has elapsed yet: nothing is pruned.
	n, err := q.Prune(ctx, time.Hour, time.Hour, time.Hour)
	require.NoError(t, err)
	require.Zero(t, n)

	// Only the cancelled retention window has elapsed.
	n, err = q.Prune(ctx, time.Hour, time.Hour, -time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	_, err = q.Get(ctx, cancelledID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = q.Get(ctx, completedID)
	require.NoError(t, err)
}
