/*
Package log provides structured logging for clm using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable levels, and a small set of
context helpers used throughout the build orchestration subsystem.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true, Output: os.Stdout})

	queueLog := log.WithComponent("queue")
	queueLog.Info().Msg("job queue ready")

	jobLog := log.WithJobID(job.ID)
	jobLog.Error().Err(err).Msg("job failed")

Context loggers (WithComponent, WithJobID, WithWorkerID,
WithCorrelationID) attach a single field and return a derived
zerolog.Logger; chain .With() calls for more than one field.

# Conventions

  - Never log secrets (payload contents are logged at Debug only, and
    only their length/kind, not raw bytes).
  - Use .Err(err) rather than string-formatting errors into the message.
  - Background loops log Info on start/stop and Warn on every
    recoverable cycle failure; Debug is reserved for per-job detail.
*/
package log
