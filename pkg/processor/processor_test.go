package processor

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/cuemby/clm/pkg/cache"
	"github.com/cuemby/clm/pkg/storage"
	"github.com/cuemby/clm/pkg/types"
)

type stubProcessor struct {
	result string
	err    error
	calls  int
}

func (s *stubProcessor) Process(ctx context.Context, job *types.Job) (string, error) {
	s.calls++
	return s.result, s.err
}

func newTestCache(t *testing.T) *cache.ResultCache {
	t.Helper()
	store, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return cache.New(store)
}

func TestDispatcherSkipsUnregisteredKind(t *testing.T) {
	d := NewDispatcher(newTestCache(t), map[types.JobKind]Processor{})
	_, err := d.Process(context.Background(), &types.Job{Kind: types.JobKindNotebook})
	if err == nil {
		t.Fatal("expected an error for an unregistered kind")
	}
}

func TestDispatcherCachesSuccessfulResult(t *testing.T) {
	resultCache := newTestCache(t)
	stub := &stubProcessor{result: `{"output_file":"out.html"}`}
	d := NewDispatcher(resultCache, map[types.JobKind]Processor{types.JobKindPlantUML: stub})

	job := &types.Job{Kind: types.JobKindPlantUML, OutputPath: "missing-on-disk.svg", ContentHash: "abc123"}
	if _, err := d.Process(context.Background(), job); err != nil {
		t.Fatalf("Process: %v", err)
	}
	if stub.calls != 1 {
		t.Fatalf("expected 1 call, got %d", stub.calls)
	}
	if _, err := resultCache.Lookup(context.Background(), job.OutputPath, job.ContentHash); err != nil {
		t.Fatalf("expected a result cache entry after a successful run: %v", err)
	}

	// A cache hit requires VerifyOnDisk to pass, which it won't for a
	// path that was never written, so the processor runs again.
	if _, err := d.Process(context.Background(), job); err != nil {
		t.Fatalf("Process (second): %v", err)
	}
	if stub.calls != 2 {
		t.Fatalf("expected cache miss to re-invoke processor, got %d calls", stub.calls)
	}
}

func TestPlantUMLProcessorReportsMissingJar(t *testing.T) {
	p := NewPlantUMLProcessor("")
	payload, _ := json.Marshal(map[string]string{"data": "@startuml\n@enduml", "output_format": "png", "output_file": "x.png"})
	_, err := p.Process(context.Background(), &types.Job{Kind: types.JobKindPlantUML, Payload: payload})
	if err == nil {
		t.Fatal("expected an error when PLANTUML_JAR is unset")
	}
}

func TestDrawIOProcessorReportsMissingExecutable(t *testing.T) {
	p := NewDrawIOProcessor("")
	payload, _ := json.Marshal(map[string]string{"data": "<mxfile></mxfile>", "output_format": "png", "output_file": "x.png"})
	_, err := p.Process(context.Background(), &types.Job{Kind: types.JobKindDrawIO, Payload: payload})
	if err == nil {
		t.Fatal("expected an error when DRAWIO_EXECUTABLE is unset")
	}
}
