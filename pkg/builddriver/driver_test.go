package builddriver

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/clm/pkg/coursemodel"
	"github.com/cuemby/clm/pkg/planner"
	"github.com/cuemby/clm/pkg/progress"
	"github.com/cuemby/clm/pkg/queue"
	"github.com/cuemby/clm/pkg/storage"
	"github.com/cuemby/clm/pkg/types"
)

func newTestQueue(t *testing.T) *queue.Queue {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return queue.New(store)
}

func TestRunCompletesWhenWorkerClaimsAndFinishesJobs(t *testing.T) {
	q := newTestQueue(t)
	plan := &planner.Plan{
		Stages: []planner.Stage{
			{Index: 0, Jobs: []planner.PlannedJob{
				{
					Stage:      0,
					SourcePath: "topic1/notebook.ipynb",
					Spec: coursemodel.JobSpec{
						Kind:       types.JobKindNotebook,
						OutputPath: "out/notebook.html",
						Payload:    []byte(`{}`),
					},
				},
			}},
		},
	}

	d := New(q, nil, 2*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := d.Run(ctx, plan)
		done <- err
	}()

	// Simulate a worker claiming and completing the single job.
	time.Sleep(50 * time.Millisecond)
	job, err := q.Claim(ctx, types.JobKindNotebook, 1)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	resultJSON, _ := json.Marshal(map[string]string{"output": "ok"})
	if err := q.UpdateStatus(ctx, job.ID, types.JobStatusCompleted, "", string(resultJSON)); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return in time")
	}
}

func TestRunReportsTimeoutWhenJobNeverCompletes(t *testing.T) {
	q := newTestQueue(t)
	plan := &planner.Plan{
		Stages: []planner.Stage{
			{Index: 0, Jobs: []planner.PlannedJob{
				{
					SourcePath: "topic1/diagram.puml",
					Spec:       coursemodel.JobSpec{Kind: types.JobKindPlantUML, OutputPath: "out/diagram.svg"},
				},
			}},
		},
	}

	d := New(q, nil, 100*time.Millisecond)
	result, err := d.Run(context.Background(), plan)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !result.TimedOut {
		t.Error("expected TimedOut to be true when no worker ever claims the job")
	}
}

func TestAwaitStageWarnsOnceForLongRunningJob(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	id, err := q.Enqueue(ctx, queue.EnqueueParams{Kind: types.JobKindNotebook, InputPath: "a.ipynb", Payload: []byte(`{}`)})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := q.Claim(ctx, types.JobKindNotebook, 1); err != nil {
		t.Fatalf("Claim: %v", err)
	}

	broker := progress.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	// 1200ms spans several 500ms poll ticks, so a repeated warning would show.
	d := New(q, broker, 1200*time.Millisecond)
	d.longJobThreshold = 50 * time.Millisecond
	d.progressInterval = 10 * time.Millisecond

	result, err := d.awaitStage(ctx, []int64{id})
	if err != nil {
		t.Fatalf("awaitStage: %v", err)
	}
	if !result.TimedOut {
		t.Error("expected TimedOut since the job never completes")
	}

	longRunning := 0
drain:
	for {
		select {
		case ev := <-sub:
			if ev.Type == progress.EventJobLongRunning {
				longRunning++
			}
		case <-time.After(200 * time.Millisecond):
			break drain
		}
	}
	if longRunning != 1 {
		t.Errorf("expected exactly one long-running warning, got %d", longRunning)
	}
}
