package runtime

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cuemby/clm/pkg/log"
)

var runtimeLog = log.WithComponent("runtime.containerd")

const (
	// DefaultNamespace is the containerd namespace worker containers run in.
	DefaultNamespace = "clm"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// Spec describes one container to create: its image, environment and
// bind mounts. MemoryLimitBytes of 0 means no limit is applied.
type Spec struct {
	ID               string
	Image            string
	Env              []string
	MemoryLimitBytes int64
	Mounts           []Mount
}

// Mount is a bind mount applied to a container's OCI spec.
type Mount struct {
	Source      string
	Destination string
	ReadOnly    bool
}

// State mirrors the subset of containerd task status this package cares
// about.
type State string

const (
	StatePending  State = "pending"
	StateRunning  State = "running"
	StateComplete State = "complete"
	StateFailed   State = "failed"
)

// ContainerdRuntime wraps a containerd client scoped to one namespace.
type ContainerdRuntime struct {
	client    *containerd.Client
	namespace string
}

// NewContainerdRuntime connects to the containerd socket at socketPath,
// or DefaultSocketPath if empty.
func NewContainerdRuntime(socketPath string) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &ContainerdRuntime{
		client:    client,
		namespace: DefaultNamespace,
	}, nil
}

// Close releases the client connection.
func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// PullImage pulls and unpacks imageRef.
func (r *ContainerdRuntime) PullImage(ctx context.Context, imageRef string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	_, err := r.client.Pull(ctx, imageRef, containerd.WithPullUnpack)
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", imageRef, err)
	}
	return nil
}

// CreateContainer builds the OCI spec for s and creates the container
// with a new snapshot, without starting it.
func (r *ContainerdRuntime) CreateContainer(ctx context.Context, s Spec) (string, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	image, err := r.client.GetImage(ctx, s.Image)
	if err != nil {
		return "", fmt.Errorf("failed to get image %s: %w", s.Image, err)
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(s.Env),
	}

	if s.MemoryLimitBytes > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(s.MemoryLimitBytes)))
	}

	if len(s.Mounts) > 0 {
		opts = append(opts, oci.WithMounts(toOCIMounts(s.Mounts)))
	}

	ctrdContainer, err := r.client.NewContainer(
		ctx,
		s.ID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(s.ID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	return ctrdContainer.ID(), nil
}

// StartContainer creates and starts the container's task.
func (r *ContainerdRuntime) StartContainer(ctx context.Context, containerID string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", containerID, err)
	}

	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task: %w", err)
	}
	return nil
}

// StopContainer sends SIGTERM, waits up to timeout, then escalates to
// SIGKILL, and deletes the task. A container with no running task is a
// no-op.
func (r *ContainerdRuntime) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", containerID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to kill task: %w", err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("failed to wait for task: %w", err)
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return fmt.Errorf("failed to force kill task: %w", err)
		}
	}

	if _, err := task.Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// DeleteContainer stops (if running) and removes containerID along with
// its snapshot. A missing container is treated as already deleted.
func (r *ContainerdRuntime) DeleteContainer(ctx context.Context, containerID string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return nil
	}

	if err := r.StopContainer(ctx, containerID, 10*time.Second); err != nil {
		runtimeLog.Warn().Err(err).Str("container_id", containerID).Msg("failed to stop container before delete")
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("failed to delete container: %w", err)
	}
	return nil
}

// GetContainerStatus reports whether containerID's task is pending,
// running, or has exited (complete on status 0, failed otherwise).
func (r *ContainerdRuntime) GetContainerStatus(ctx context.Context, containerID string) (State, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, containerID)
	if err != nil {
		return StateFailed, fmt.Errorf("failed to load container %s: %w", containerID, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return StatePending, nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return StateFailed, fmt.Errorf("failed to get task status: %w", err)
	}

	switch status.Status {
	case containerd.Running, containerd.Paused:
		return StateRunning, nil
	case containerd.Stopped:
		if status.ExitStatus == 0 {
			return StateComplete, nil
		}
		return StateFailed, nil
	default:
		return StatePending, nil
	}
}

// IsRunning reports whether containerID currently has a running task.
func (r *ContainerdRuntime) IsRunning(ctx context.Context, containerID string) bool {
	status, err := r.GetContainerStatus(ctx, containerID)
	if err != nil {
		return false
	}
	return status == StateRunning
}

func toOCIMounts(mounts []Mount) []specs.Mount {
	out := make([]specs.Mount, 0, len(mounts))
	for _, m := range mounts {
		options := []string{"rbind"}
		if m.ReadOnly {
			options = append(options, "ro")
		} else {
			options = append(options, "rw")
		}
		out = append(out, specs.Mount{
			Source:      m.Source,
			Destination: m.Destination,
			Type:        "bind",
			Options:     options,
		})
	}
	return out
}
