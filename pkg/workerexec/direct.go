package workerexec

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/cuemby/clm/pkg/lifecycle"
	"github.com/cuemby/clm/pkg/log"
)

var directLog = log.WithComponent("workerexec.direct")

// Direct starts clm-worker as a plain child process. The executor-local
// identity is the process's PID formatted as a string; liveness is
// process existence, same as the teacher's process-supervised services.
type Direct struct {
	binaryPath string
	dbPath     string
	workspace  string
	logLevel   string

	mu   sync.Mutex
	cmds map[string]*exec.Cmd // executorID (pid string) -> running process
}

// NewDirect constructs a Direct executor. binaryPath is the clm-worker
// executable; dbPath and workspace become DB_PATH/WORKSPACE_PATH for
// every spawned worker.
func NewDirect(binaryPath, dbPath, workspace, logLevel string) *Direct {
	return &Direct{
		binaryPath: binaryPath,
		dbPath:     dbPath,
		workspace:  workspace,
		logLevel:   logLevel,
		cmds:       make(map[string]*exec.Cmd),
	}
}

// Start launches the worker binary with its pre-assigned id in the
// environment, per spec.md section 6.
func (d *Direct) Start(ctx context.Context, config lifecycle.WorkerKindConfig, workerID int64) (string, error) {
	cmd := exec.Command(d.binaryPath, "--kind", string(config.Kind))
	cmd.Env = append(os.Environ(),
		fmt.Sprintf("CLM_WORKER_ID=%d", workerID),
		fmt.Sprintf("CLM_PARENT_PID=%d", os.Getpid()),
		fmt.Sprintf("DB_PATH=%s", d.dbPath),
		fmt.Sprintf("WORKSPACE_PATH=%s", d.workspace),
		fmt.Sprintf("LOG_LEVEL=%s", d.logLevel),
	)
	for k, v := range config.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("workerexec: start direct worker: %w", err)
	}

	executorID := strconv.Itoa(cmd.Process.Pid)

	d.mu.Lock()
	d.cmds[executorID] = cmd
	d.mu.Unlock()

	go func() {
		if err := cmd.Wait(); err != nil {
			directLog.Debug().Str("executor_id", executorID).Err(err).Msg("worker process exited")
		}
	}()

	directLog.Info().Int64("worker_id", workerID).Str("pid", executorID).Msg("direct worker started")
	return executorID, nil
}

// Stop sends os.Interrupt (SIGINT); the worker's claim loop handles it
// like SIGTERM, finishing its current job before it exits.
func (d *Direct) Stop(ctx context.Context, executorID string) error {
	d.mu.Lock()
	cmd, ok := d.cmds[executorID]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("workerexec: no direct worker tracked for %s", executorID)
	}
	if cmd.Process == nil {
		return nil
	}
	if err := cmd.Process.Signal(os.Interrupt); err != nil {
		return fmt.Errorf("workerexec: stop direct worker %s: %w", executorID, err)
	}
	return nil
}

// IsRunning checks process existence via signal 0, the same liveness
// check described for the self-watchdog in spec.md section 4.5. It also
// accepts the "direct-<pid>" container id a direct worker registers with.
func (d *Direct) IsRunning(executorID string) bool {
	pid, err := strconv.Atoi(strings.TrimPrefix(executorID, "direct-"))
	if err != nil {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
