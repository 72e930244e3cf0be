package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cuemby/clm/pkg/types"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.JobsDBPath != "jobs.db" {
		t.Errorf("JobsDBPath = %q, want jobs.db", cfg.JobsDBPath)
	}
	if len(cfg.Workers) != 3 {
		t.Errorf("expected 3 default worker kinds, got %d", len(cfg.Workers))
	}
}

func TestLoadReadsYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
log_level: debug
jobs_db_path: custom.db
workers:
  notebook:
    count: 4
    execution_mode: docker
    image: clm-notebook:latest
    auto_start: true
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.JobsDBPath != "custom.db" {
		t.Errorf("JobsDBPath = %q, want custom.db", cfg.JobsDBPath)
	}
	wc, ok := cfg.Workers[types.JobKindNotebook]
	if !ok {
		t.Fatal("expected notebook worker config")
	}
	if wc.Count != 4 || wc.ExecutionMode != "docker" {
		t.Errorf("unexpected notebook config: %+v", wc)
	}
}

func TestLoadRejectsDockerModeWithoutImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
workers:
  plantuml:
    count: 1
    execution_mode: docker
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path, nil); err == nil {
		t.Fatal("expected an error for docker mode without an image")
	}
}

func TestWorkerKindConfigsConverts(t *testing.T) {
	cfg := Defaults()
	kinds := cfg.WorkerKindConfigs()
	if len(kinds) != len(cfg.Workers) {
		t.Errorf("expected %d kind configs, got %d", len(cfg.Workers), len(kinds))
	}
}
