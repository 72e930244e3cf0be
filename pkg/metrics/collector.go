package metrics

import (
	"context"
	"time"
)

// QueueStatsSource is the subset of *queue.Queue the collector needs.
// Defined here rather than imported directly to avoid a metrics->queue
// import cycle, since queue already imports metrics to record counters
// inline.
type QueueStatsSource interface {
	StatsByKindStatus(ctx context.Context) ([]KindStatusCount, error)
}

// KindStatusCount mirrors queue.KindStatusCount's shape without importing
// the queue package.
type KindStatusCount struct {
	Kind   string
	Status string
	Count  int64
}

// WorkerStatsSource is the subset of *lifecycle.WorkerStore the collector
// needs.
type WorkerStatsSource interface {
	CountsByKindStatus(ctx context.Context) (map[[2]string]int, error)
}

// Collector periodically refreshes the gauge metrics that reflect
// current state (queue depth by kind/status, worker pool size) rather
// than counters, which packages update inline as events occur.
type Collector struct {
	queue   QueueStatsSource
	workers WorkerStatsSource
	stopCh  chan struct{}
}

// NewCollector builds a Collector over the given queue and worker store
// adapters.
func NewCollector(queue QueueStatsSource, workers WorkerStatsSource) *Collector {
	return &Collector{
		queue:   queue,
		workers: workers,
		stopCh:  make(chan struct{}),
	}
}

// Start launches the periodic collection loop in the background.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop ends the collection loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.collectJobMetrics(ctx)
	c.collectWorkerMetrics(ctx)
}

func (c *Collector) collectJobMetrics(ctx context.Context) {
	if c.queue == nil {
		return
	}
	counts, err := c.queue.StatsByKindStatus(ctx)
	if err != nil {
		return
	}
	for _, kc := range counts {
		JobsTotal.WithLabelValues(kc.Kind, kc.Status).Set(float64(kc.Count))
	}
}

func (c *Collector) collectWorkerMetrics(ctx context.Context) {
	if c.workers == nil {
		return
	}
	counts, err := c.workers.CountsByKindStatus(ctx)
	if err != nil {
		return
	}
	for key, count := range counts {
		WorkersTotal.WithLabelValues(key[0], key[1]).Set(float64(count))
	}
}
