package metrics

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeQueueStats struct {
	counts []KindStatusCount
}

func (f fakeQueueStats) StatsByKindStatus(ctx context.Context) ([]KindStatusCount, error) {
	return f.counts, nil
}

type fakeWorkerStats struct {
	counts map[[2]string]int
}

func (f fakeWorkerStats) CountsByKindStatus(ctx context.Context) (map[[2]string]int, error) {
	return f.counts, nil
}

func TestCollectorCollectDoesNotPanicWithNilSources(t *testing.T) {
	c := NewCollector(nil, nil)
	c.collect()
}

func TestCollectorCollectUpdatesGauges(t *testing.T) {
	c := NewCollector(
		fakeQueueStats{counts: []KindStatusCount{{Kind: "notebook", Status: "pending", Count: 3}}},
		fakeWorkerStats{counts: map[[2]string]int{{"notebook", "idle"}: 2}},
	)
	c.collect()

	if got := testutil.ToFloat64(JobsTotal.WithLabelValues("notebook", "pending")); got != 3 {
		t.Errorf("JobsTotal = %v, want 3", got)
	}
	if got := testutil.ToFloat64(WorkersTotal.WithLabelValues("notebook", "idle")); got != 2 {
		t.Errorf("WorkersTotal = %v, want 2", got)
	}
}
