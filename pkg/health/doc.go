/*
Package health provides small, composable checkers for verifying that
something clm depends on is actually usable: the worker API's HTTP
endpoint, or an external tool binary invoked via exec.

It does not run a background polling loop itself. Callers decide when
to check and what to do with the Result; Status exists for callers that
want hysteresis (multiple consecutive failures before treating something
as down) rather than acting on a single flaky check.

# Checker Interface

Both checkers implement:

	type Checker interface {
		Check(ctx context.Context) Result
		Type() CheckType
	}

# HTTP Health Checks

HTTPChecker performs an HTTP request and classifies the response by
status code range (200-399 healthy by default):

	checker := health.NewHTTPChecker("http://127.0.0.1:8420/health").
		WithTimeout(3 * time.Second)
	result := checker.Check(ctx)

clm's "status" command uses this to report whether the worker API
process is reachable; the job and worker counts it prints always come
from a direct SQLite read.

# Exec Health Checks

ExecChecker runs a command on the host and treats exit code 0 as
healthy. clm's "build" command uses this to preflight external tools
(jupyter, java, the drawio binary) before starting any workers that
would need them, so a missing tool surfaces as one clear warning
instead of one failed job per file.

The ContainerID field on ExecChecker is carried over for container-mode
workers but is not wired to anything yet: direct-mode preflighting
covers the common case and a container image either has the tool
baked in or it doesn't.

# Status and Hysteresis

Status tracks consecutive failures and successes so a single transient
failure doesn't flip a caller's view of health:

	status := health.NewStatus()
	config := health.DefaultConfig()
	result := checker.Check(ctx)
	status.Update(result, config)
	if !status.Healthy {
		// acted on only after config.Retries consecutive failures
	}

Nothing in clm currently drives a Status loop; it is available for a
future long-running daemon mode that watches worker API reachability
over time rather than checking once per "status" invocation.
*/
package health
