package workerclient

import (
	"context"

	"github.com/cuemby/clm/pkg/lifecycle"
	"github.com/cuemby/clm/pkg/queue"
	"github.com/cuemby/clm/pkg/types"
)

// DirectClient satisfies Client against the SQLite-backed queue and
// worker store directly, for workers that share a filesystem with the
// database file.
type DirectClient struct {
	queue   *queue.Queue
	workers *lifecycle.WorkerStore
}

// NewDirectClient wraps an already-opened queue and worker store.
func NewDirectClient(q *queue.Queue, workers *lifecycle.WorkerStore) *DirectClient {
	return &DirectClient{queue: q, workers: workers}
}

func (c *DirectClient) Register(ctx context.Context, kind types.JobKind, mode types.ExecutionMode, containerID string, preAssignedID int64, parentPID int) (int64, error) {
	if preAssignedID > 0 {
		if err := c.workers.Activate(ctx, preAssignedID, containerID, parentPID); err != nil {
			return 0, err
		}
		return preAssignedID, nil
	}
	id, err := c.workers.Register(ctx, kind, containerID, mode)
	if err != nil {
		return 0, err
	}
	_ = c.workers.RecordEvent(ctx, types.EventWorkerRegistered, &id, kind, mode, "self-registered", nil)
	return id, nil
}

func (c *DirectClient) Claim(ctx context.Context, kind types.JobKind, workerID int64) (*types.Job, error) {
	return c.queue.Claim(ctx, kind, workerID)
}

func (c *DirectClient) UpdateStatus(ctx context.Context, jobID int64, status types.JobStatus, errorJSON, resultJSON string) error {
	return c.queue.UpdateStatus(ctx, jobID, status, errorJSON, resultJSON)
}

func (c *DirectClient) IsCancelled(ctx context.Context, jobID int64) (bool, error) {
	return c.queue.IsCancelled(ctx, jobID)
}

func (c *DirectClient) Heartbeat(ctx context.Context, workerID int64) error {
	return c.workers.Heartbeat(ctx, workerID)
}

func (c *DirectClient) Unregister(ctx context.Context, workerID int64, reason string) error {
	if err := c.workers.SetStatus(ctx, workerID, types.WorkerStatusDead); err != nil {
		return err
	}
	return c.workers.RecordEvent(ctx, types.EventWorkerStopped, &workerID, "", "", reason, nil)
}
