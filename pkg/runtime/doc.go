/*
Package runtime wraps a containerd client for the subset of container
operations the container WorkerExecutor needs: pull an image, create a
container with bind mounts for the workspace and database, start it,
and tear it down on a graceful-then-forced timeout. It knows nothing
about jobs or workers; pkg/workerexec supplies that mapping.
*/
package runtime
