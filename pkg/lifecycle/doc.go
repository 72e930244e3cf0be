/*
Package lifecycle owns worker discovery, pre-registration and teardown:
the LifecycleManager reconciliation loop that decides, per job kind, how
many workers should exist, starts the deficit through a WorkerExecutor,
and reaps workers whose heartbeat has gone stale.

The reconciliation loop and its 30-second heartbeat staleness threshold
are a direct port of the teacher's node-down detection: a worker or node
that stops checking in is presumed dead after that window regardless of
whether its process has actually exited, because the alternative (waiting
for an OS-level signal that may never come for a hung process) leaves the
pool silently understaffed.
*/
package lifecycle
