package workerexec

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/cuemby/clm/pkg/lifecycle"
	"github.com/cuemby/clm/pkg/log"
	"github.com/cuemby/clm/pkg/runtime"
)

var containerLog = log.WithComponent("workerexec.container")

// StopTimeout bounds how long a container worker gets to exit gracefully
// on SIGTERM before StopContainer escalates to SIGKILL.
const StopTimeout = 15 * time.Second

// Container starts clm-worker inside a containerd task, bind-mounting
// the workspace and the queue database so the worker can reach both
// without network access. Workers run this way must use the WorkerApi
// instead of touching the database file directly, per spec.md section 4.5.
type Container struct {
	rt        *runtime.ContainerdRuntime
	dbPath    string
	workspace string
}

// NewContainer wraps an already-connected containerd client.
func NewContainer(rt *runtime.ContainerdRuntime, dbPath, workspace string) *Container {
	return &Container{rt: rt, dbPath: dbPath, workspace: workspace}
}

// Start pulls config.Image if needed, creates a container bind-mounting
// the workspace and database read/write, and starts it. The container
// id doubles as the executor-local identity.
func (c *Container) Start(ctx context.Context, config lifecycle.WorkerKindConfig, workerID int64) (string, error) {
	if err := c.rt.PullImage(ctx, config.Image); err != nil {
		return "", fmt.Errorf("workerexec: pull image %s: %w", config.Image, err)
	}

	containerID := fmt.Sprintf("clm-worker-%d-%s", workerID, uuid.NewString()[:8])

	env := []string{
		fmt.Sprintf("CLM_WORKER_ID=%d", workerID),
		fmt.Sprintf("DB_PATH=%s", c.dbPath),
		fmt.Sprintf("WORKSPACE_PATH=%s", c.workspace),
		"CLM_USE_WORKER_API=1",
		"CLM_EXECUTION_MODE=docker",
	}
	for k, v := range config.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	spec := runtime.Spec{
		ID:    containerID,
		Image: config.Image,
		Env:   env,
		Mounts: []runtime.Mount{
			{Source: c.workspace, Destination: c.workspace, ReadOnly: false},
			{Source: c.dbPath, Destination: c.dbPath, ReadOnly: false},
		},
	}
	if limit, ok := parseMemoryLimit(config.MemoryLimit); ok {
		spec.MemoryLimitBytes = limit
	}

	if _, err := c.rt.CreateContainer(ctx, spec); err != nil {
		return "", fmt.Errorf("workerexec: create container: %w", err)
	}
	if err := c.rt.StartContainer(ctx, containerID); err != nil {
		return "", fmt.Errorf("workerexec: start container: %w", err)
	}

	containerLog.Info().Int64("worker_id", workerID).Str("container_id", containerID).Msg("container worker started")
	return containerID, nil
}

// Stop tears down the container with a bounded graceful shutdown window.
func (c *Container) Stop(ctx context.Context, executorID string) error {
	return c.rt.DeleteContainer(ctx, executorID)
}

// IsRunning reports whether executorID's task is still running.
func (c *Container) IsRunning(executorID string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.rt.IsRunning(ctx, executorID)
}

// parseMemoryLimit accepts plain byte counts or a trailing Mi/Gi suffix,
// matching the shorthand workers.yaml configs use for memory_limit.
func parseMemoryLimit(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	multiplier := int64(1)
	numeric := s
	switch {
	case len(s) > 2 && s[len(s)-2:] == "Gi":
		multiplier = 1024 * 1024 * 1024
		numeric = s[:len(s)-2]
	case len(s) > 2 && s[len(s)-2:] == "Mi":
		multiplier = 1024 * 1024
		numeric = s[:len(s)-2]
	}
	n, err := strconv.ParseInt(numeric, 10, 64)
	if err != nil {
		return 0, false
	}
	return n * multiplier, true
}
