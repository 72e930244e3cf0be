package lifecycle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuemby/clm/pkg/storage"
	"github.com/cuemby/clm/pkg/types"
)

// ErrWorkerNotFound is returned when a worker id does not exist.
var ErrWorkerNotFound = errors.New("lifecycle: worker not found")

// HeartbeatStaleAfter is how old last_heartbeat may get before a worker
// is classified unhealthy during reconciliation.
const HeartbeatStaleAfter = 30 * time.Second

// WorkerStore owns the workers and worker_events tables.
type WorkerStore struct {
	db *sql.DB
}

// NewWorkerStore wraps an already-initialized Store for worker access.
func NewWorkerStore(store *storage.Store) *WorkerStore {
	return &WorkerStore{db: store.DB()}
}

// PreRegister inserts a worker row in 'created' status, used by the
// LifecycleManager to hand a child process its id before it starts,
// avoiding the startup race of letting the worker self-register.
func (s *WorkerStore) PreRegister(ctx context.Context, kind types.JobKind, executionMode types.ExecutionMode, sessionID, managedBy string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO workers (kind, container_id, status, execution_mode, session_id, managed_by)
		VALUES (?, ?, 'created', ?, ?, ?)
	`, string(kind), fmt.Sprintf("pending-%s", sessionID), string(executionMode), sessionID, managedBy)
	if err != nil {
		return 0, fmt.Errorf("lifecycle: pre-register worker: %w", err)
	}
	return res.LastInsertId()
}

// Activate flips a pre-registered 'created' row to 'idle' and records its
// real container identity. It rejects a row not currently 'created'.
func (s *WorkerStore) Activate(ctx context.Context, workerID int64, containerID string, parentPID int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workers SET status = 'idle', container_id = ?, last_heartbeat = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'created'
	`, containerID, workerID)
	if err != nil {
		return fmt.Errorf("lifecycle: activate worker %d: %w", workerID, err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("lifecycle: worker %d is not in created status", workerID)
	}
	_ = parentPID // recorded via WorkerEvent metadata, not a column
	return nil
}

// Register inserts and immediately activates a worker that started
// without a pre-assigned id (the direct-subprocess self-registration
// path).
func (s *WorkerStore) Register(ctx context.Context, kind types.JobKind, containerID string, executionMode types.ExecutionMode) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO workers (kind, container_id, status, execution_mode)
		VALUES (?, ?, 'idle', ?)
	`, string(kind), containerID, string(executionMode))
	if err != nil {
		return 0, fmt.Errorf("lifecycle: register worker: %w", err)
	}
	return res.LastInsertId()
}

// Heartbeat stamps last_heartbeat for workerID.
func (s *WorkerStore) Heartbeat(ctx context.Context, workerID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE workers SET last_heartbeat = CURRENT_TIMESTAMP WHERE id = ?
	`, workerID)
	if err != nil {
		return fmt.Errorf("lifecycle: heartbeat worker %d: %w", workerID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrWorkerNotFound
	}
	return nil
}

// SetStatus transitions a worker's status (idle/busy on job claim and
// completion; dead on graceful unregister or reaping).
func (s *WorkerStore) SetStatus(ctx context.Context, workerID int64, status types.WorkerStatus) error {
	_, err := s.db.ExecContext(ctx, "UPDATE workers SET status = ? WHERE id = ?", string(status), workerID)
	if err != nil {
		return fmt.Errorf("lifecycle: set status worker %d: %w", workerID, err)
	}
	return nil
}

// RecordCompletion bumps a worker's processed/failed counters and rolling
// average processing time after a job finishes.
func (s *WorkerStore) RecordCompletion(ctx context.Context, workerID int64, failed bool, duration time.Duration) error {
	column := "jobs_processed"
	if failed {
		column = "jobs_failed"
	}
	query := fmt.Sprintf(`
		UPDATE workers SET %s = %s + 1,
			avg_processing_time_ms = (avg_processing_time_ms * (jobs_processed + jobs_failed) + ?) / (jobs_processed + jobs_failed + 1)
		WHERE id = ?
	`, column, column)
	_, err := s.db.ExecContext(ctx, query, duration.Milliseconds(), workerID)
	if err != nil {
		return fmt.Errorf("lifecycle: record completion worker %d: %w", workerID, err)
	}
	return nil
}

// ByKind lists every worker of a given kind.
func (s *WorkerStore) ByKind(ctx context.Context, kind types.JobKind) ([]types.Worker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, container_id, kind, status, execution_mode, jobs_processed, jobs_failed,
		       avg_processing_time_ms, started_at, last_heartbeat, session_id, managed_by
		FROM workers WHERE kind = ?
	`, string(kind))
	if err != nil {
		return nil, fmt.Errorf("lifecycle: list workers by kind: %w", err)
	}
	defer rows.Close()
	return scanWorkers(rows)
}

// All lists every worker regardless of kind, used by "status".
func (s *WorkerStore) All(ctx context.Context) ([]types.Worker, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, container_id, kind, status, execution_mode, jobs_processed, jobs_failed,
		       avg_processing_time_ms, started_at, last_heartbeat, session_id, managed_by
		FROM workers
	`)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: list workers: %w", err)
	}
	defer rows.Close()
	return scanWorkers(rows)
}

func scanWorkers(rows *sql.Rows) ([]types.Worker, error) {
	var out []types.Worker
	for rows.Next() {
		var w types.Worker
		var kind, status, executionMode string
		var avgMs int64
		var sessionID, managedBy sql.NullString
		if err := rows.Scan(&w.ID, &w.ContainerID, &kind, &status, &executionMode, &w.JobsProcessed,
			&w.JobsFailed, &avgMs, &w.StartedAt, &w.LastHeartbeat, &sessionID, &managedBy); err != nil {
			return nil, fmt.Errorf("lifecycle: scan worker: %w", err)
		}
		w.Kind = types.JobKind(kind)
		w.Status = types.WorkerStatus(status)
		w.ExecutionMode = types.ExecutionMode(executionMode)
		w.AvgProcessingTime = time.Duration(avgMs) * time.Millisecond
		w.SessionID = sessionID.String
		w.ManagedBy = managedBy.String
		out = append(out, w)
	}
	return out, rows.Err()
}

// CountsByKindStatus groups worker rows by (kind, status) for the
// metrics collector's periodic gauge refresh.
func (s *WorkerStore) CountsByKindStatus(ctx context.Context) (map[[2]string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT kind, status, COUNT(*) FROM workers GROUP BY kind, status")
	if err != nil {
		return nil, fmt.Errorf("lifecycle: counts by kind/status: %w", err)
	}
	defer rows.Close()

	out := make(map[[2]string]int)
	for rows.Next() {
		var kind, status string
		var count int
		if err := rows.Scan(&kind, &status, &count); err != nil {
			return nil, err
		}
		out[[2]string{kind, status}] = count
	}
	return out, rows.Err()
}

// PruneEvents deletes worker_events rows older than olderThan, used by
// "db prune" to keep the audit trail from growing without bound.
func (s *WorkerStore) PruneEvents(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, "DELETE FROM worker_events WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("lifecycle: prune events: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PruneDead deletes worker rows in the dead status older than olderThan,
// used alongside PruneEvents so "db prune" also clears stale identities
// left behind by crashed or reaped workers.
func (s *WorkerStore) PruneDead(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM workers WHERE status = 'dead' AND last_heartbeat < ?
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("lifecycle: prune dead workers: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RecordEvent appends a row to the worker_events audit trail.
func (s *WorkerStore) RecordEvent(ctx context.Context, eventType types.WorkerEventType, workerID *int64, kind types.JobKind, mode types.ExecutionMode, message string, metadata map[string]string) error {
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("lifecycle: marshal event metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO worker_events (event_type, worker_id, kind, execution_mode, message, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(eventType), workerID, string(kind), string(mode), message, string(metaJSON))
	if err != nil {
		return fmt.Errorf("lifecycle: record event: %w", err)
	}
	return nil
}
