package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	JobsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clm_jobs_total",
			Help: "Total number of jobs by kind and status",
		},
		[]string{"kind", "status"},
	)

	JobsEnqueuedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clm_jobs_enqueued_total",
			Help: "Total number of jobs enqueued by kind",
		},
		[]string{"kind"},
	)

	JobsCompletedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clm_jobs_completed_total",
			Help: "Total number of jobs completed by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	JobWaitDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clm_job_wait_duration_seconds",
			Help:    "Time a job spent pending before being claimed",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	JobProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clm_job_processing_duration_seconds",
			Help:    "Time a worker spent processing a job",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	// Cache metrics
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clm_cache_hits_total",
			Help: "Total number of cache lookups that found a reusable result",
		},
		[]string{"cache"},
	)

	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clm_cache_misses_total",
			Help: "Total number of cache lookups that found nothing reusable",
		},
		[]string{"cache"},
	)

	CacheStaleEvictionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clm_cache_stale_evictions_total",
			Help: "Total number of cache entries discarded because the on-disk artifact no longer matched",
		},
		[]string{"cache"},
	)

	// Worker pool metrics
	WorkersTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "clm_workers_total",
			Help: "Total number of registered workers by kind and status",
		},
		[]string{"kind", "status"},
	)

	WorkersStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clm_workers_started_total",
			Help: "Total number of workers started by kind and execution mode",
		},
		[]string{"kind", "execution_mode"},
	)

	WorkersReapedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clm_workers_reaped_total",
			Help: "Total number of workers torn down for being hung or dead",
		},
		[]string{"kind", "reason"},
	)

	HeartbeatStaleTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clm_heartbeat_stale_total",
			Help: "Total number of times a worker's heartbeat was found stale during reconciliation",
		},
	)

	// Reconciliation metrics
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clm_reconciliation_duration_seconds",
			Help:    "Time taken for a lifecycle reconciliation cycle",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clm_reconciliation_cycles_total",
			Help: "Total number of lifecycle reconciliation cycles completed",
		},
	)

	// Planner / build driver metrics
	PlanningDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "clm_planning_duration_seconds",
			Help:    "Time taken to resolve a build plan into staged jobs",
			Buckets: prometheus.DefBuckets,
		},
	)

	BuildStageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clm_build_stage_duration_seconds",
			Help:    "Wall-clock duration of one execution stage",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"stage"},
	)

	BuildsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clm_builds_total",
			Help: "Total number of build runs by outcome",
		},
		[]string{"outcome"},
	)

	// HTTP worker bridge metrics
	WorkerAPIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clm_worker_api_requests_total",
			Help: "Total number of worker bridge API requests by route and status",
		},
		[]string{"route", "status"},
	)

	WorkerAPIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clm_worker_api_request_duration_seconds",
			Help:    "Worker bridge API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// Watch mode metrics
	WatchEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clm_watch_events_total",
			Help: "Total number of filesystem events observed by watch mode",
		},
		[]string{"kind"},
	)

	WatchDebouncedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "clm_watch_debounced_total",
			Help: "Total number of filesystem events coalesced by debouncing",
		},
	)
)

func init() {
	prometheus.MustRegister(
		JobsTotal,
		JobsEnqueuedTotal,
		JobsCompletedTotal,
		JobWaitDuration,
		JobProcessingDuration,
		CacheHitsTotal,
		CacheMissesTotal,
		CacheStaleEvictionsTotal,
		WorkersTotal,
		WorkersStartedTotal,
		WorkersReapedTotal,
		HeartbeatStaleTotal,
		ReconciliationDuration,
		ReconciliationCyclesTotal,
		PlanningDuration,
		BuildStageDuration,
		BuildsTotal,
		WorkerAPIRequestsTotal,
		WorkerAPIRequestDuration,
		WatchEventsTotal,
		WatchDebouncedTotal,
	)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
