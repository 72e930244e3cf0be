/*
Package metrics provides Prometheus metrics collection and exposition
for clm, plus a small component-health aggregator used by the worker
API's /health, /ready and /live endpoints.

Metrics are package-level prometheus.Collector values registered in an
init function with prometheus.MustRegister, so any package that imports metrics can observe a
counter or histogram without threading a registry through its
constructors. Handler() exposes the default registry for a caller to
mount at /metrics.

# Job and queue metrics

	clm_jobs_total{kind,status}            gauge, current count per kind/status
	clm_jobs_enqueued_total{kind}           counter
	clm_jobs_completed_total{kind,outcome}  counter, outcome is completed|failed
	clm_job_wait_duration_seconds{kind}     histogram, enqueue to claim
	clm_job_processing_duration_seconds{kind} histogram, claim to terminal

# Cache metrics

	clm_cache_hits_total{cache}             counter, cache is results|executed_notebook
	clm_cache_misses_total{cache}           counter
	clm_cache_stale_evictions_total{cache}  counter, cached artifact missing on disk

# Worker lifecycle metrics

	clm_workers_total{kind,status}          gauge
	clm_workers_started_total{kind,execution_mode} counter
	clm_workers_reaped_total{kind,reason}   counter
	clm_heartbeat_stale_total                counter

# Build and planning metrics

	clm_reconciliation_duration_seconds     histogram
	clm_reconciliation_cycles_total         counter
	clm_planning_duration_seconds           histogram
	clm_build_stage_duration_seconds{stage} histogram
	clm_builds_total{outcome}               counter

# Worker API and watch metrics

	clm_worker_api_requests_total{route,status} counter
	clm_worker_api_request_duration_seconds{route} histogram
	clm_watch_events_total{kind}            counter
	clm_watch_debounced_total                counter

# Component health

RegisterComponent and UpdateComponent record whether a named dependency
(storage, queue) is currently healthy. GetHealth aggregates every
registered component into one overall status; GetReadiness additionally
requires storage and queue specifically to be registered and healthy,
distinguishing "the process is up" (LivenessHandler, always 200) from
"the process can actually do its job" (ReadyHandler).

	metrics.RegisterComponent("storage", true, "")
	metrics.RegisterComponent("queue", true, "")
	http.Handle("/health", metrics.HealthHandler())
	http.Handle("/ready", metrics.ReadyHandler())
	http.Handle("/live", metrics.LivenessHandler())

A component once registered unhealthy stays in that state until another
RegisterComponent/UpdateComponent call reports it healthy again; nothing
polls components automatically.
*/
package metrics
