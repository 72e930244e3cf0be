package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/clm/pkg/log"
	"github.com/cuemby/clm/pkg/metrics"
	"github.com/cuemby/clm/pkg/queue"
	"github.com/cuemby/clm/pkg/types"
)

var lifecycleLog = log.WithComponent("lifecycle")

// reconcileInterval is how often RunReaperLoop repeats its ReapHung pass
// after the initial one.
const reconcileInterval = 10 * time.Second

// Executor is the contract both WorkerExecutor backends (direct
// subprocess, container) satisfy.
type Executor interface {
	// Start launches a worker for the given pre-registered id and
	// returns an opaque executor-local identity (PID string, container
	// id) used for Stop/IsRunning.
	Start(ctx context.Context, config WorkerKindConfig, workerID int64) (executorID string, err error)
	Stop(ctx context.Context, executorID string) error
	IsRunning(executorID string) bool
}

// WorkerKindConfig is the worker_config block for one job kind.
type WorkerKindConfig struct {
	Kind         types.JobKind
	Count        int
	ExecutionMode types.ExecutionMode
	Image        string
	Env          map[string]string
	MemoryLimit  string
	AutoStart    bool
	AutoStop     bool
	ReuseWorkers bool
}

// Manager runs the per-build worker reconciliation loop: discover
// existing workers, adopt healthy ones when reuse is enabled, start the
// deficit, and reap stragglers on shutdown.
type Manager struct {
	store     *WorkerStore
	queue     *queue.Queue
	executors map[types.ExecutionMode]Executor
	sessionID string

	managedExecutorIDs map[int64]string // workerID -> executor-local id, started by this session

	stopCh chan struct{}
}

// NewManager constructs a Manager for one build session. executors maps
// each supported ExecutionMode to its backend; a kind configured for a
// mode with no registered executor is a configuration error surfaced at
// Reconcile time, not at construction.
func NewManager(store *WorkerStore, q *queue.Queue, sessionID string, executors map[types.ExecutionMode]Executor) *Manager {
	return &Manager{
		store:              store,
		queue:              q,
		executors:          executors,
		sessionID:          sessionID,
		managedExecutorIDs: make(map[int64]string),
		stopCh:             make(chan struct{}),
	}
}

// Reconcile runs one pass for every configured kind: classify existing
// workers, adopt or start as reuse_workers and count demand, and persist
// a WorkerEvent for each transition.
func (m *Manager) Reconcile(ctx context.Context, configs []WorkerKindConfig) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconciliationDuration)
	metrics.ReconciliationCyclesTotal.Inc()

	for _, cfg := range configs {
		if err := m.reconcileKind(ctx, cfg); err != nil {
			return fmt.Errorf("lifecycle: reconcile %s: %w", cfg.Kind, err)
		}
	}
	return nil
}

func (m *Manager) reconcileKind(ctx context.Context, cfg WorkerKindConfig) error {
	existing, err := m.store.ByKind(ctx, cfg.Kind)
	if err != nil {
		return err
	}

	executor, hasExecutor := m.executors[cfg.ExecutionMode]

	healthy := 0
	for _, w := range existing {
		if m.isHealthy(w, executor) {
			healthy++
		}
	}

	metrics.WorkersTotal.WithLabelValues(string(cfg.Kind), "healthy").Set(float64(healthy))

	if cfg.ReuseWorkers && healthy >= cfg.Count {
		lifecycleLog.Debug().Str("kind", string(cfg.Kind)).Int("healthy", healthy).Msg("reusing existing workers")
		return nil
	}

	if !cfg.AutoStart {
		return nil
	}
	if !hasExecutor {
		return fmt.Errorf("no executor registered for execution mode %q", cfg.ExecutionMode)
	}

	deficit := cfg.Count - healthy
	if !cfg.ReuseWorkers {
		deficit = cfg.Count
	}

	for i := 0; i < deficit; i++ {
		if err := m.startOne(ctx, cfg, executor); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) startOne(ctx context.Context, cfg WorkerKindConfig, executor Executor) error {
	workerID, err := m.store.PreRegister(ctx, cfg.Kind, cfg.ExecutionMode, m.sessionID, m.sessionID)
	if err != nil {
		return err
	}

	if err := m.store.RecordEvent(ctx, types.EventWorkerStarting, &workerID, cfg.Kind, cfg.ExecutionMode, "starting worker", nil); err != nil {
		lifecycleLog.Warn().Err(err).Msg("failed to record worker_starting event")
	}

	executorID, err := executor.Start(ctx, cfg, workerID)
	if err != nil {
		_ = m.store.RecordEvent(ctx, types.EventWorkerFailed, &workerID, cfg.Kind, cfg.ExecutionMode, err.Error(), nil)
		return fmt.Errorf("start worker: %w", err)
	}

	m.managedExecutorIDs[workerID] = executorID
	metrics.WorkersStartedTotal.WithLabelValues(string(cfg.Kind), string(cfg.ExecutionMode)).Inc()
	lifecycleLog.Info().Int64("worker_id", workerID).Str("kind", string(cfg.Kind)).Msg("worker started")
	return nil
}

func (m *Manager) isHealthy(w types.Worker, executor Executor) bool {
	if w.Status != types.WorkerStatusIdle && w.Status != types.WorkerStatusBusy {
		return false
	}
	if time.Since(w.LastHeartbeat) >= HeartbeatStaleAfter {
		return false
	}
	if executor != nil && !executor.IsRunning(w.ContainerID) {
		return false
	}
	return true
}

// ReapHung marks every worker that is not already dead and whose
// heartbeat is older than staleAfter as dead, recording a worker_failed
// event for each, then has the queue reset processing jobs that started
// more than staleAfter ago. It returns the number of workers reaped.
func (m *Manager) ReapHung(ctx context.Context, staleAfter time.Duration) (int, error) {
	all, err := m.store.All(ctx)
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, w := range all {
		if w.Status == types.WorkerStatusDead {
			continue
		}
		if time.Since(w.LastHeartbeat) < staleAfter {
			continue
		}

		if err := m.store.SetStatus(ctx, w.ID, types.WorkerStatusDead); err != nil {
			lifecycleLog.Warn().Err(err).Int64("worker_id", w.ID).Msg("failed to mark worker dead")
			continue
		}
		_ = m.store.RecordEvent(ctx, types.EventWorkerFailed, &w.ID, w.Kind, w.ExecutionMode, "heartbeat stale, reaped", nil)
		metrics.WorkersReapedTotal.WithLabelValues(string(w.Kind), "stale_heartbeat").Inc()
		metrics.HeartbeatStaleTotal.Inc()
		reaped++
	}

	if _, _, err := m.queue.ResetHung(ctx, staleAfter); err != nil {
		return reaped, fmt.Errorf("lifecycle: reset hung jobs: %w", err)
	}

	return reaped, nil
}

// Shutdown stops every worker this manager started (tracked via
// managedExecutorIDs), honoring auto_stop per kind; workers this session
// merely adopted are left running for the next build to reuse.
func (m *Manager) Shutdown(ctx context.Context, configs []WorkerKindConfig, executors map[types.ExecutionMode]Executor) {
	close(m.stopCh)

	autoStop := make(map[types.JobKind]bool)
	for _, cfg := range configs {
		autoStop[cfg.Kind] = cfg.AutoStop
	}

	for workerID, executorID := range m.managedExecutorIDs {
		w, err := m.workerByID(ctx, workerID)
		if err != nil {
			continue
		}
		if !autoStop[w.Kind] {
			continue
		}
		executor, ok := executors[w.ExecutionMode]
		if !ok {
			continue
		}
		if err := executor.Stop(ctx, executorID); err != nil {
			lifecycleLog.Warn().Err(err).Int64("worker_id", workerID).Msg("failed to stop worker during shutdown")
			continue
		}
		_ = m.store.SetStatus(ctx, workerID, types.WorkerStatusDead)
		_ = m.store.RecordEvent(ctx, types.EventWorkerStopped, &workerID, w.Kind, w.ExecutionMode, "stopped at shutdown", nil)
	}
}

func (m *Manager) workerByID(ctx context.Context, id int64) (types.Worker, error) {
	all, err := m.store.All(ctx)
	if err != nil {
		return types.Worker{}, err
	}
	for _, w := range all {
		if w.ID == id {
			return w, nil
		}
	}
	return types.Worker{}, ErrWorkerNotFound
}
