/*
Package workerexec implements the two WorkerExecutor backends behind the
lifecycle.Executor contract: Direct spawns a plain subprocess and
Container starts a containerd task. Neither assumes the other is
available; a build can mix kinds across both in the same run.
*/
package workerexec
