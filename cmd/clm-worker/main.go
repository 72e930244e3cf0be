// Command clm-worker is the subprocess or container entry point one
// WorkerExecutor backend starts per pool slot. It registers (or
// activates a pre-assigned identity), then loops claiming jobs of its
// configured kind until signalled to stop.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cuemby/clm/pkg/cache"
	"github.com/cuemby/clm/pkg/errors"
	"github.com/cuemby/clm/pkg/lifecycle"
	"github.com/cuemby/clm/pkg/log"
	"github.com/cuemby/clm/pkg/processor"
	"github.com/cuemby/clm/pkg/queue"
	"github.com/cuemby/clm/pkg/storage"
	"github.com/cuemby/clm/pkg/types"
	"github.com/cuemby/clm/pkg/workerclient"
)

var workerLog = log.WithComponent("clm-worker")

// defaultPollInterval matches config.Defaults().PollInterval; the
// worker does not load the full layered config, only the handful of
// environment variables spec.md section 6 names.
const defaultPollInterval = 1 * time.Second

func main() {
	kind := flag.String("kind", "", "job kind this worker claims (notebook, plantuml, drawio)")
	flag.Parse()

	log.Init(log.Config{Level: log.Level(envOr("LOG_LEVEL", "info"))})

	if err := run(*kind); err != nil {
		workerLog.Fatal().Err(err).Msg("worker exited with error")
	}
}

func run(kindFlag string) error {
	jobKind := types.JobKind(kindFlag)
	if !jobKind.IsValid() {
		return fmt.Errorf("clm-worker: invalid --kind %q", kindFlag)
	}

	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		return fmt.Errorf("clm-worker: DB_PATH is required")
	}

	executionMode := types.ExecutionModeDirect
	if os.Getenv("CLM_EXECUTION_MODE") == string(types.ExecutionModeDocker) {
		executionMode = types.ExecutionModeDocker
	}

	client, closeFn, err := buildClient(dbPath)
	if err != nil {
		return err
	}
	defer closeFn()

	var preAssignedID int64
	if raw := os.Getenv("CLM_WORKER_ID"); raw != "" {
		preAssignedID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("clm-worker: invalid CLM_WORKER_ID %q: %w", raw, err)
		}
	}

	containerID := fmt.Sprintf("direct-%d", os.Getpid())
	if executionMode == types.ExecutionModeDocker {
		containerID = os.Getenv("HOSTNAME")
	}

	ctx := context.Background()
	workerID, err := client.Register(ctx, jobKind, executionMode, containerID, preAssignedID, parentPID())
	if err != nil {
		return fmt.Errorf("clm-worker: register: %w", err)
	}
	workerLog = log.WithWorkerID(workerID)
	workerLog.Info().Str("kind", string(jobKind)).Msg("worker registered")

	dispatcher, err := buildDispatcher(dbPath)
	if err != nil {
		return err
	}

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGTERM, syscall.SIGINT, os.Interrupt)

	pollInterval := defaultPollInterval
	if raw := os.Getenv("CLM_POLL_INTERVAL_MS"); raw != "" {
		if ms, err := strconv.Atoi(raw); err == nil {
			pollInterval = time.Duration(ms) * time.Millisecond
		}
	}

	claimLoop(ctx, client, dispatcher, jobKind, workerID, pollInterval, stopCh)

	if err := client.Unregister(ctx, workerID, "graceful shutdown"); err != nil {
		workerLog.Warn().Err(err).Msg("failed to unregister cleanly")
	}
	return nil
}

func claimLoop(ctx context.Context, client workerclient.Client, dispatcher *processor.Dispatcher, kind types.JobKind, workerID int64, pollInterval time.Duration, stopCh <-chan os.Signal) {
	for {
		select {
		case <-stopCh:
			workerLog.Info().Msg("received shutdown signal")
			return
		default:
		}

		job, err := client.Claim(ctx, kind, workerID)
		if err != nil {
			workerLog.Warn().Err(err).Msg("claim failed")
			sleepOrStop(pollInterval, stopCh)
			continue
		}
		if job == nil {
			_ = client.Heartbeat(ctx, workerID)
			sleepOrStop(pollInterval, stopCh)
			continue
		}

		workerLog.Info().Int64("job_id", job.ID).Str("input_path", job.InputPath).Msg("job claimed")
		resultJSON, procErr := dispatcher.Process(ctx, job)
		if procErr != nil {
			buildErr := errors.Classify(job.Kind, job.InputPath, procErr.Error())
			errorJSON, _ := jsonMarshalBuildError(buildErr)
			if err := client.UpdateStatus(ctx, job.ID, types.JobStatusFailed, errorJSON, ""); err != nil {
				workerLog.Warn().Err(err).Int64("job_id", job.ID).Msg("failed to record failure")
			}
		} else if err := client.UpdateStatus(ctx, job.ID, types.JobStatusCompleted, "", resultJSON); err != nil {
			workerLog.Warn().Err(err).Int64("job_id", job.ID).Msg("failed to record completion")
		}

		_ = client.Heartbeat(ctx, workerID)
	}
}

func sleepOrStop(d time.Duration, stopCh <-chan os.Signal) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-stopCh:
	}
}

func buildClient(dbPath string) (workerclient.Client, func(), error) {
	if envTruthy("CLM_USE_WORKER_API") {
		addr := envOr("CLM_WORKER_API_ADDR", "http://127.0.0.1:8420")
		return workerclient.NewRemoteClient(addr), func() {}, nil
	}

	store, err := storage.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("clm-worker: open db: %w", err)
	}
	if err := store.Init(context.Background()); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("clm-worker: init db: %w", err)
	}
	client := workerclient.NewDirectClient(queue.New(store), lifecycle.NewWorkerStore(store))
	return client, func() { store.Close() }, nil
}

func buildDispatcher(dbPath string) (*processor.Dispatcher, error) {
	store, err := storage.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("clm-worker: open cache db: %w", err)
	}
	resultCache := cache.New(store)

	return processor.NewDispatcher(resultCache, map[types.JobKind]processor.Processor{
		types.JobKindNotebook: processor.NewNotebookProcessor(os.Getenv("NOTEBOOK_COMMAND"), resultCache),
		types.JobKindPlantUML: processor.NewPlantUMLProcessor(os.Getenv("PLANTUML_JAR")),
		types.JobKindDrawIO:   processor.NewDrawIOProcessor(os.Getenv("DRAWIO_EXECUTABLE")),
	}), nil
}

func jsonMarshalBuildError(e types.BuildError) (string, error) {
	b, err := json.Marshal(map[string]any{
		"error_type":          e.ErrorType,
		"category":            e.Category,
		"severity":            e.Severity,
		"file_path":           e.FilePath,
		"message":             e.Message,
		"actionable_guidance": e.ActionableGuidance,
		"details":             e.Details,
	})
	return string(b), err
}

func parentPID() int {
	if raw := os.Getenv("CLM_PARENT_PID"); raw != "" {
		if pid, err := strconv.Atoi(raw); err == nil {
			return pid
		}
	}
	return os.Getppid()
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envTruthy(key string) bool {
	switch os.Getenv(key) {
	case "true", "1", "yes":
		return true
	}
	return false
}
