package workerapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/cuemby/clm/pkg/cache"
	"github.com/cuemby/clm/pkg/lifecycle"
	"github.com/cuemby/clm/pkg/queue"
	"github.com/cuemby/clm/pkg/storage"
	"github.com/cuemby/clm/pkg/types"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := storage.Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	q := queue.New(store)
	workers := lifecycle.NewWorkerStore(store)
	resultCache := cache.New(store)

	s := New(q, workers, resultCache)
	ts := httptest.NewServer(s.httpServer.Handler)
	t.Cleanup(ts.Close)
	return s, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	buf, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(buf))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func TestRegisterActivateHeartbeatFlow(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/worker/register", registerRequest{
		Kind:          types.JobKindNotebook,
		ExecutionMode: types.ExecutionModeDirect,
		ContainerID:   "direct-abc",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register: status %d", resp.StatusCode)
	}
	var regOut map[string]int64
	if err := json.NewDecoder(resp.Body).Decode(&regOut); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	workerID := regOut["worker_id"]

	hbResp := postJSON(t, ts.URL+"/api/worker/heartbeat", heartbeatRequest{WorkerID: workerID})
	if hbResp.StatusCode != http.StatusOK {
		t.Fatalf("heartbeat: status %d", hbResp.StatusCode)
	}
	hbResp.Body.Close()
}

func TestClaimReturnsNoContentWhenQueueEmpty(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/api/worker/jobs/claim", claimRequest{Kind: types.JobKindNotebook, WorkerID: 1})
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("expected 204 for empty queue, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestHealthEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}
