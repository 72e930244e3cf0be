package workerclient

import (
	"context"

	"github.com/cuemby/clm/pkg/types"
)

// Client is every queue/worker operation clm-worker's claim loop needs,
// implemented once against SQLite directly and once against the
// WorkerApi's HTTP surface.
type Client interface {
	// Register activates a pre-assigned worker id (preAssignedID > 0) or
	// self-registers a fresh one, returning the effective worker id.
	Register(ctx context.Context, kind types.JobKind, mode types.ExecutionMode, containerID string, preAssignedID int64, parentPID int) (int64, error)
	Claim(ctx context.Context, kind types.JobKind, workerID int64) (*types.Job, error)
	UpdateStatus(ctx context.Context, jobID int64, status types.JobStatus, errorJSON, resultJSON string) error
	IsCancelled(ctx context.Context, jobID int64) (bool, error)
	Heartbeat(ctx context.Context, workerID int64) error
	Unregister(ctx context.Context, workerID int64, reason string) error
}
