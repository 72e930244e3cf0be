package builddriver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/clm/pkg/errors"
	"github.com/cuemby/clm/pkg/log"
	"github.com/cuemby/clm/pkg/planner"
	"github.com/cuemby/clm/pkg/progress"
	"github.com/cuemby/clm/pkg/queue"
	"github.com/cuemby/clm/pkg/types"
)

var driverLog = log.WithComponent("builddriver")

// DefaultMaxWaitForCompletion bounds how long one stage may run before
// the driver gives up and reports it timed out, matching
// max_wait_for_completion's default in spec.md section 6.
const DefaultMaxWaitForCompletion = 1200 * time.Second

// pollInterval is how often the driver re-checks job status while a
// stage is in flight.
const pollInterval = 500 * time.Millisecond

// DefaultProgressInterval and DefaultLongJobThreshold are the fallbacks
// used when CLX_E2E_PROGRESS_INTERVAL or CLX_E2E_LONG_JOB_THRESHOLD are
// unset or unparsable.
const (
	DefaultProgressInterval = 5 * time.Second
	DefaultLongJobThreshold = 60 * time.Second
)

func envSeconds(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

func envBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

// Result is what Run returns once every stage has drained or the
// driver gave up.
type Result struct {
	Total       int
	Completed   int
	Failed      int
	Cancelled   int
	TimedOut    bool
	FailedJobs  []FailedJob
}

// FailedJob pairs a job id with its classified error, for the CLI to
// render.
type FailedJob struct {
	JobID int64
	Input string
	Error types.BuildError
}

// Driver executes a planner.Plan stage by stage against a queue.
type Driver struct {
	queue                *queue.Queue
	broker               *progress.Broker
	maxWaitForCompletion time.Duration
	progressInterval     time.Duration
	longJobThreshold     time.Duration
}

// New builds a Driver. broker may be nil, in which case progress events
// are dropped rather than published. progressInterval and
// longJobThreshold come from CLX_E2E_PROGRESS_INTERVAL and
// CLX_E2E_LONG_JOB_THRESHOLD (seconds), falling back to their package
// defaults when unset.
func New(q *queue.Queue, broker *progress.Broker, maxWaitForCompletion time.Duration) *Driver {
	if maxWaitForCompletion <= 0 {
		maxWaitForCompletion = DefaultMaxWaitForCompletion
	}
	return &Driver{
		queue:                q,
		broker:               broker,
		maxWaitForCompletion: maxWaitForCompletion,
		progressInterval:     envSeconds("CLX_E2E_PROGRESS_INTERVAL", DefaultProgressInterval),
		longJobThreshold:     envSeconds("CLX_E2E_LONG_JOB_THRESHOLD", DefaultLongJobThreshold),
	}
}

// Run enqueues and waits out every stage of plan in order, then copies
// plan.Assets verbatim. It stops advancing stages (but still copies
// assets) if a stage times out, since later stages may depend on
// outputs the timed-out stage never produced.
func (d *Driver) Run(ctx context.Context, plan *planner.Plan) (Result, error) {
	var result Result

	for _, stage := range plan.Stages {
		d.publish(progress.EventStageStarted, 0, 0, "", fmt.Sprintf("stage %d started", stage.Index))

		jobIDs := make([]int64, 0, len(stage.Jobs))
		for _, pj := range stage.Jobs {
			id, err := d.queue.Enqueue(ctx, queue.EnqueueParams{
				Kind:          pj.Spec.Kind,
				InputPath:     pj.SourcePath,
				OutputPath:    pj.Spec.OutputPath,
				ContentHash:   pj.ContentHash,
				Payload:       pj.Spec.Payload,
				Priority:      pj.Spec.Priority,
				CorrelationID: pj.CorrelationID,
			})
			if err != nil {
				return result, fmt.Errorf("builddriver: enqueue stage %d: %w", stage.Index, err)
			}
			jobIDs = append(jobIDs, id)
			result.Total++
			d.publish(progress.EventJobEnqueued, id, 0, pj.CorrelationID, pj.SourcePath)
		}

		stageResult, err := d.awaitStage(ctx, jobIDs)
		if err != nil {
			return result, err
		}
		result.Completed += stageResult.Completed
		result.Failed += stageResult.Failed
		result.Cancelled += stageResult.Cancelled
		result.FailedJobs = append(result.FailedJobs, stageResult.FailedJobs...)

		d.publish(progress.EventStageCompleted, 0, 0, "", fmt.Sprintf("stage %d completed", stage.Index))

		if stageResult.TimedOut {
			result.TimedOut = true
			break
		}
	}

	if err := d.copyAssets(plan.Assets); err != nil {
		return result, err
	}

	d.publish(progress.EventBuildCompleted, 0, 0, "", "build completed")
	return result, nil
}

func (d *Driver) awaitStage(ctx context.Context, jobIDs []int64) (Result, error) {
	var result Result
	total := len(jobIDs)
	pending := make(map[int64]bool, total)
	for _, id := range jobIDs {
		pending[id] = true
	}
	warnedLong := make(map[int64]bool)

	deadline := time.Now().Add(d.maxWaitForCompletion)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	lastProgressTick := time.Now()

	for len(pending) > 0 {
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-ticker.C:
			for id := range pending {
				job, err := d.queue.Get(ctx, id)
				if err != nil {
					continue
				}
				if !job.Status.IsTerminal() {
					if job.StartedAt != nil && !warnedLong[id] && time.Since(*job.StartedAt) > d.longJobThreshold {
						warnedLong[id] = true
						d.publish(progress.EventJobLongRunning, id, 0, job.CorrelationID, job.InputPath)
						driverLog.Warn().Int64("job_id", id).Str("input", job.InputPath).
							Dur("running_for", time.Since(*job.StartedAt)).Msg("job exceeded the long-running threshold")
					}
					continue
				}
				delete(pending, id)
				switch job.Status {
				case types.JobStatusCompleted:
					result.Completed++
					d.publish(progress.EventJobCompleted, id, 0, job.CorrelationID, job.OutputPath)
				case types.JobStatusFailed:
					result.Failed++
					buildErr := errors.Classify(job.Kind, job.InputPath, job.ErrorJSON)
					result.FailedJobs = append(result.FailedJobs, FailedJob{JobID: id, Input: job.InputPath, Error: buildErr})
					d.publish(progress.EventJobFailed, id, 0, job.CorrelationID, buildErr.Message)
				case types.JobStatusCancelled:
					result.Cancelled++
					d.publish(progress.EventJobCancelled, id, 0, job.CorrelationID, job.InputPath)
				}
			}
			if time.Since(lastProgressTick) >= d.progressInterval {
				lastProgressTick = time.Now()
				done := total - len(pending)
				d.publish(progress.EventProgressTick, 0, 0, "", fmt.Sprintf("%d/%d jobs done", done, total))
			}
			if time.Now().After(deadline) {
				result.TimedOut = true
				driverLog.Warn().Int("still_pending", len(pending)).Msg("stage timed out waiting for completion")
				return result, nil
			}
		}
	}
	return result, nil
}

func (d *Driver) copyAssets(assets []planner.AssetCopy) error {
	for _, a := range assets {
		if err := copyFile(a.SourcePath, a.DestPath); err != nil {
			return fmt.Errorf("builddriver: copy asset %s: %w", a.SourcePath, err)
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}

func (d *Driver) publish(eventType progress.EventType, jobID, workerID int64, correlationID, message string) {
	if d.broker == nil {
		return
	}
	d.broker.Publish(&progress.Event{
		Type:          eventType,
		JobID:         jobID,
		WorkerID:      workerID,
		CorrelationID: correlationID,
		Message:       message,
	})
}
