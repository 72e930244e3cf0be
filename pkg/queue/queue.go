package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/cuemby/clm/pkg/log"
	"github.com/cuemby/clm/pkg/metrics"
	"github.com/cuemby/clm/pkg/storage"
	"github.com/cuemby/clm/pkg/types"
)

var queueLog = log.WithComponent("queue")

// ErrNoJobAvailable is returned by Claim when no pending job of the
// requested kind exists.
var ErrNoJobAvailable = errors.New("queue: no job available")

// ErrNotFound is returned when a job id does not exist.
var ErrNotFound = errors.New("queue: job not found")

// maxClaimRetries bounds how many times Claim retries a single attempt
// after SQLITE_BUSY before giving up and returning the underlying error.
const maxClaimRetries = 5

// Queue is the durable job queue backed by the shared Store.
type Queue struct {
	db *sql.DB
}

// New wraps an already-initialized Store for job queue access.
func New(store *storage.Store) *Queue {
	return &Queue{db: store.DB()}
}

// EnqueueParams describes a new job. MaxAttempts defaults to
// types.DefaultMaxAttempts when zero.
type EnqueueParams struct {
	Kind          types.JobKind
	InputPath     string
	OutputPath    string
	ContentHash   string
	Payload       []byte
	Priority      int
	CorrelationID string
	MaxAttempts   int
}

// Enqueue inserts a new pending job and returns its id.
func (q *Queue) Enqueue(ctx context.Context, p EnqueueParams) (int64, error) {
	if !p.Kind.IsValid() {
		return 0, fmt.Errorf("queue: invalid job kind %q", p.Kind)
	}
	maxAttempts := p.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = types.DefaultMaxAttempts
	}

	res, err := q.db.ExecContext(ctx, `
		INSERT INTO jobs (kind, status, priority, input_path, output_path, content_hash, payload, correlation_id, max_attempts)
		VALUES (?, 'pending', ?, ?, ?, ?, ?, ?, ?)
	`, string(p.Kind), p.Priority, p.InputPath, p.OutputPath, p.ContentHash, p.Payload, nullableString(p.CorrelationID), maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("queue: enqueue: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("queue: enqueue: read insert id: %w", err)
	}

	metrics.JobsEnqueuedTotal.WithLabelValues(string(p.Kind)).Inc()
	queueLog.Debug().Int64("job_id", id).Str("kind", string(p.Kind)).Msg("job enqueued")
	return id, nil
}

// Claim atomically picks the highest-priority, oldest pending job of kind
// and marks it processing, incrementing its attempt count. It returns
// ErrNoJobAvailable when the queue has nothing of that kind pending.
func (q *Queue) Claim(ctx context.Context, kind types.JobKind, workerID int64) (*types.Job, error) {
	var job *types.Job
	var err error

	for attempt := 0; attempt < maxClaimRetries; attempt++ {
		job, err = q.tryClaim(ctx, kind, workerID)
		if err == nil || !isBusy(err) {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 20 * time.Millisecond)
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (q *Queue) tryClaim(ctx context.Context, kind types.JobKind, workerID int64) (*types.Job, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'processing',
		    started_at = CURRENT_TIMESTAMP,
		    worker_id = ?,
		    attempts = attempts + 1
		WHERE id = (
			SELECT id FROM jobs
			WHERE kind = ? AND status = 'pending' AND attempts < max_attempts
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
		)
		AND status = 'pending'
		RETURNING id, kind, status, priority, input_path, output_path, content_hash, payload,
		          correlation_id, created_at, started_at, completed_at, cancelled_at, cancelled_by,
		          worker_id, attempts, max_attempts, error_json, result_json
	`, workerID, string(kind))

	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoJobAvailable
	}
	if err != nil {
		return nil, fmt.Errorf("queue: claim: %w", err)
	}
	return job, nil
}

// UpdateStatus transitions a processing job to completed or failed,
// recording a structured error payload and/or result payload. A job in
// any other status is left unchanged: repeating the status it already has
// returns nil, and any other transition returns an error. Attempts below
// max_attempts on failure leave the job eligible for RequeueForRetry to
// go back to pending; UpdateStatus itself never re-queues.
func (q *Queue) UpdateStatus(ctx context.Context, jobID int64, status types.JobStatus, errorJSON, resultJSON string) error {
	if status != types.JobStatusCompleted && status != types.JobStatusFailed {
		return fmt.Errorf("queue: invalid terminal status %q", status)
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, completed_at = CURRENT_TIMESTAMP, error_json = ?, result_json = ?
		WHERE id = ? AND status = 'processing'
	`, string(status), nullableString(errorJSON), nullableString(resultJSON), jobID)
	if err != nil {
		return fmt.Errorf("queue: update status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var current string
		err := q.db.QueryRowContext(ctx, "SELECT status FROM jobs WHERE id = ?", jobID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("queue: update status: %w", err)
		}
		if current == string(status) {
			return nil
		}
		return fmt.Errorf("queue: invalid transition %s -> %s for job %d", current, status, jobID)
	}

	outcome := "failed"
	if status == types.JobStatusCompleted {
		outcome = "completed"
	}
	var kind string
	_ = q.db.QueryRowContext(ctx, "SELECT kind FROM jobs WHERE id = ?", jobID).Scan(&kind)
	metrics.JobsCompletedTotal.WithLabelValues(kind, outcome).Inc()

	return nil
}

// RequeueForRetry moves a failed job back to pending if it has not
// exhausted max_attempts. It is a no-op (returns false, nil) otherwise.
func (q *Queue) RequeueForRetry(ctx context.Context, jobID int64) (bool, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'pending', started_at = NULL, worker_id = NULL
		WHERE id = ? AND status = 'failed' AND attempts < max_attempts
	`, jobID)
	if err != nil {
		return false, fmt.Errorf("queue: requeue: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CancelForInput marks every pending job against inputPath as cancelled,
// used by watch mode when a file changes before its prior build finished.
// Jobs a worker has already claimed are left untouched. It returns the
// number of jobs cancelled.
func (q *Queue) CancelForInput(ctx context.Context, inputPath, cancelledBy string) (int, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE jobs
		SET status = 'cancelled', cancelled_at = CURRENT_TIMESTAMP, cancelled_by = ?
		WHERE input_path = ? AND status = 'pending'
	`, nullableString(cancelledBy), inputPath)
	if err != nil {
		return 0, fmt.Errorf("queue: cancel for input: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		queueLog.Info().Str("input_path", inputPath).Int64("cancelled", n).Str("by", cancelledBy).Msg("jobs cancelled")
	}
	return int(n), nil
}

// IsCancelled reports whether jobID has been cancelled, polled by workers
// cooperatively between processing steps.
func (q *Queue) IsCancelled(ctx context.Context, jobID int64) (bool, error) {
	var status string
	err := q.db.QueryRowContext(ctx, "SELECT status FROM jobs WHERE id = ?", jobID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("queue: is cancelled: %w", err)
	}
	return status == string(types.JobStatusCancelled), nil
}

// ResetHung requeues processing jobs that have been running longer than
// staleAfter, bounded by max_attempts. Jobs that have exhausted their
// attempts are marked failed instead of requeued. This is keyed off the
// job's own started_at, not its worker's heartbeat: a worker can still be
// alive and heartbeating while one of its jobs simply runs long, and that
// must not cause a second worker to pick up the same job.
func (q *Queue) ResetHung(ctx context.Context, staleAfter time.Duration) (requeued, failed int, err error) {
	cutoff := time.Now().Add(-staleAfter)

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, attempts, max_attempts
		FROM jobs
		WHERE status = 'processing' AND started_at < ?
	`, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("queue: find hung jobs: %w", err)
	}
	defer rows.Close()

	type hungJob struct {
		id          int64
		attempts    int
		maxAttempts int
	}
	var hung []hungJob
	for rows.Next() {
		var j hungJob
		if err := rows.Scan(&j.id, &j.attempts, &j.maxAttempts); err != nil {
			return 0, 0, fmt.Errorf("queue: scan hung job: %w", err)
		}
		hung = append(hung, j)
	}
	if err := rows.Err(); err != nil {
		return 0, 0, err
	}

	for _, j := range hung {
		if j.attempts >= j.maxAttempts {
			if _, err := q.db.ExecContext(ctx, `
				UPDATE jobs SET status = 'failed', completed_at = CURRENT_TIMESTAMP,
				       error_json = ? WHERE id = ?
			`, `{"category":"worker_hung","message":"worker stopped heartbeating and attempts exhausted"}`, j.id); err != nil {
				return requeued, failed, fmt.Errorf("queue: fail hung job %d: %w", j.id, err)
			}
			failed++
			continue
		}
		if _, err := q.db.ExecContext(ctx, `
			UPDATE jobs SET status = 'pending', started_at = NULL, worker_id = NULL WHERE id = ?
		`, j.id); err != nil {
			return requeued, failed, fmt.Errorf("queue: requeue hung job %d: %w", j.id, err)
		}
		requeued++
	}

	if requeued > 0 || failed > 0 {
		queueLog.Warn().Int("requeued", requeued).Int("failed", failed).Msg("reset hung jobs")
	}
	return requeued, failed, nil
}

// Get returns a single job by id.
func (q *Queue) Get(ctx context.Context, jobID int64) (*types.Job, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, kind, status, priority, input_path, output_path, content_hash, payload,
		       correlation_id, created_at, started_at, completed_at, cancelled_at, cancelled_by,
		       worker_id, attempts, max_attempts, error_json, result_json
		FROM jobs WHERE id = ?
	`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return job, err
}

// StatusCounts is a snapshot of job counts grouped by status.
type StatusCounts struct {
	Pending    int64
	Processing int64
	Completed  int64
	Failed     int64
	Cancelled  int64
}

// Stats returns job counts grouped by status across every kind.
func (q *Queue) Stats(ctx context.Context) (StatusCounts, error) {
	var c StatusCounts
	rows, err := q.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM jobs GROUP BY status")
	if err != nil {
		return c, fmt.Errorf("queue: stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return c, err
		}
		switch types.JobStatus(status) {
		case types.JobStatusPending:
			c.Pending = count
		case types.JobStatusProcessing:
			c.Processing = count
		case types.JobStatusCompleted:
			c.Completed = count
		case types.JobStatusFailed:
			c.Failed = count
		case types.JobStatusCancelled:
			c.Cancelled = count
		}
	}
	return c, rows.Err()
}

// KindStatusCount is one (kind, status) group with its row count, used
// by the metrics collector to populate per-label gauges.
type KindStatusCount struct {
	Kind   types.JobKind
	Status types.JobStatus
	Count  int64
}

// StatsByKind returns job counts grouped by kind and status, for the
// metrics collector's periodic gauge refresh.
func (q *Queue) StatsByKind(ctx context.Context) ([]KindStatusCount, error) {
	rows, err := q.db.QueryContext(ctx, "SELECT kind, status, COUNT(*) FROM jobs GROUP BY kind, status")
	if err != nil {
		return nil, fmt.Errorf("queue: stats by kind: %w", err)
	}
	defer rows.Close()

	var out []KindStatusCount
	for rows.Next() {
		var kind, status string
		var count int64
		if err := rows.Scan(&kind, &status, &count); err != nil {
			return nil, err
		}
		out = append(out, KindStatusCount{Kind: types.JobKind(kind), Status: types.JobStatus(status), Count: count})
	}
	return out, rows.Err()
}

// StatsByKindStatus adapts StatsByKind to the shape metrics.Collector
// expects, keeping the metrics package free of a dependency on queue's
// types.
func (q *Queue) StatsByKindStatus(ctx context.Context) ([]metrics.KindStatusCount, error) {
	counts, err := q.StatsByKind(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]metrics.KindStatusCount, 0, len(counts))
	for _, c := range counts {
		out = append(out, metrics.KindStatusCount{Kind: string(c.Kind), Status: string(c.Status), Count: c.Count})
	}
	return out, nil
}

// ListParams filters the job listing "clm jobs list" prints. A zero value
// Status matches every status; Limit of zero means no limit.
type ListParams struct {
	Status types.JobStatus
	Kind   types.JobKind
	Limit  int
}

// List returns jobs newest-first matching p.
func (q *Queue) List(ctx context.Context, p ListParams) ([]*types.Job, error) {
	query := `
		SELECT id, kind, status, priority, input_path, output_path, content_hash, payload,
		       correlation_id, created_at, started_at, completed_at, cancelled_at, cancelled_by,
		       worker_id, attempts, max_attempts, error_json, result_json
		FROM jobs WHERE 1=1`
	var args []any
	if p.Status != "" {
		query += " AND status = ?"
		args = append(args, string(p.Status))
	}
	if p.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(p.Kind))
	}
	query += " ORDER BY created_at DESC"
	if p.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, p.Limit)
	}

	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("queue: list: %w", err)
	}
	defer rows.Close()

	var out []*types.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("queue: list: scan: %w", err)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

// CancelBulk cancels every pending or processing job older than olderThan,
// optionally restricted to kind (empty matches every kind). It backs
// "clm jobs cancel" and returns the number of jobs affected.
func (q *Queue) CancelBulk(ctx context.Context, olderThan time.Duration, kind types.JobKind) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	query := `
		UPDATE jobs
		SET status = 'cancelled', cancelled_at = CURRENT_TIMESTAMP, cancelled_by = 'bulk'
		WHERE status IN ('pending', 'processing') AND created_at < ?`
	args := []any{cutoff}
	if kind != "" {
		query += " AND kind = ?"
		args = append(args, string(kind))
	}

	res, err := q.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("queue: cancel bulk: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		queueLog.Info().Int64("cancelled", n).Msg("jobs bulk cancelled")
	}
	return int(n), nil
}

// Prune deletes terminal jobs past their status-specific retention window,
// used by "db prune" to keep the jobs table from growing without bound
// across many build runs. completedOlderThan/failedOlderThan are measured
// against completed_at; cancelledOlderThan is measured against
// cancelled_at, since a cancelled job never sets completed_at.
func (q *Queue) Prune(ctx context.Context, completedOlderThan, failedOlderThan, cancelledOlderThan time.Duration) (int64, error) {
	now := time.Now()
	res, err := q.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE (status = 'completed' AND completed_at < ?)
		   OR (status = 'failed' AND completed_at < ?)
		   OR (status = 'cancelled' AND cancelled_at < ?)
	`, now.Add(-completedOlderThan), now.Add(-failedOlderThan), now.Add(-cancelledOlderThan))
	if err != nil {
		return 0, fmt.Errorf("queue: prune: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*types.Job, error) {
	var j types.Job
	var kind, status string
	var correlationID, errorJSON, resultJSON, cancelledBy sql.NullString
	var startedAt, completedAt, cancelledAt sql.NullTime
	var workerID sql.NullInt64

	err := row.Scan(
		&j.ID, &kind, &status, &j.Priority, &j.InputPath, &j.OutputPath, &j.ContentHash, &j.Payload,
		&correlationID, &j.CreatedAt, &startedAt, &completedAt, &cancelledAt, &cancelledBy, &workerID,
		&j.Attempts, &j.MaxAttempts, &errorJSON, &resultJSON,
	)
	if err != nil {
		return nil, err
	}

	j.Kind = types.JobKind(kind)
	j.Status = types.JobStatus(status)
	j.CorrelationID = correlationID.String
	j.ErrorJSON = errorJSON.String
	j.ResultJSON = resultJSON.String
	j.CancelledBy = cancelledBy.String
	if startedAt.Valid {
		j.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		j.CompletedAt = &completedAt.Time
	}
	if cancelledAt.Valid {
		j.CancelledAt = &cancelledAt.Time
	}
	if workerID.Valid {
		j.WorkerID = &workerID.Int64
	}
	return &j, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy
	}
	return false
}

// MarshalPayload is a small convenience used by callers building the
// kind-specific payload JSON before Enqueue.
func MarshalPayload(v any) ([]byte, error) {
	return json.Marshal(v)
}
