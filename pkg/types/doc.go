/*
Package types defines the core data structures shared by every component
of the build orchestration subsystem: Job, Worker, WorkerEvent,
ResultCacheEntry, ExecutedNotebookEntry, OutputTarget, CorrelationData and
BuildError.

These are plain structs with no behaviour beyond small, self-contained
predicates (IsValid, IsTerminal, ShouldGenerate). Owning packages
(pkg/queue, pkg/cache, pkg/lifecycle, pkg/planner, pkg/errors) hold the
logic that creates, transitions and persists them; pkg/types exists so
those packages can share one vocabulary without importing each other.
*/
package types
