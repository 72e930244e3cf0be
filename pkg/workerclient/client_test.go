package workerclient

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cuemby/clm/pkg/lifecycle"
	"github.com/cuemby/clm/pkg/queue"
	"github.com/cuemby/clm/pkg/storage"
	"github.com/cuemby/clm/pkg/types"
)

func newDirectTestClient(t *testing.T) *DirectClient {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return NewDirectClient(queue.New(store), lifecycle.NewWorkerStore(store))
}

func TestDirectClientRegisterSelfAssigns(t *testing.T) {
	c := newDirectTestClient(t)
	id, err := c.Register(context.Background(), types.JobKindNotebook, types.ExecutionModeDirect, "direct-abc", 0, 123)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a non-zero worker id")
	}
	if err := c.Heartbeat(context.Background(), id); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}
	if err := c.Unregister(context.Background(), id, "test shutdown"); err != nil {
		t.Fatalf("Unregister: %v", err)
	}
}

func TestDirectClientClaimAndUpdateStatus(t *testing.T) {
	c := newDirectTestClient(t)
	id, err := c.queue.Enqueue(context.Background(), queue.EnqueueParams{
		Kind:       types.JobKindPlantUML,
		InputPath:  "topic/diagram.puml",
		OutputPath: "out/diagram.svg",
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	job, err := c.Claim(context.Background(), types.JobKindPlantUML, 1)
	if err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if job.ID != id {
		t.Fatalf("claimed job id = %d, want %d", job.ID, id)
	}

	if err := c.UpdateStatus(context.Background(), job.ID, types.JobStatusCompleted, "", `{"output":"ok"}`); err != nil {
		t.Fatalf("UpdateStatus: %v", err)
	}

	cancelled, err := c.IsCancelled(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("IsCancelled: %v", err)
	}
	if cancelled {
		t.Error("completed job should not report cancelled")
	}
}
