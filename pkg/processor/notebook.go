package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/cuemby/clm/pkg/cache"
	"github.com/cuemby/clm/pkg/types"
)

// notebookPayload mirrors the stable job-payload contract for
// types.JobKindNotebook.
type notebookPayload struct {
	types.CommonFields
	Language        string `json:"language"`
	Format          string `json:"format"`
	Kind            string `json:"kind"`
	ProgLang        string `json:"prog_lang"`
	FallbackExecute bool   `json:"fallback_execute"`
}

// NotebookProcessor executes a notebook with Command (an nbconvert-style
// CLI) and renders it to the requested format, consulting the executed-
// notebook cache so a notebook already run for this content hash and
// (language, prog_lang) pair is never re-executed, only re-rendered.
type NotebookProcessor struct {
	Command string // defaults to "jupyter"
	cache   *cache.ResultCache
}

// NewNotebookProcessor wraps resultCache for the executed-notebook tier.
func NewNotebookProcessor(command string, resultCache *cache.ResultCache) *NotebookProcessor {
	if command == "" {
		command = "jupyter"
	}
	return &NotebookProcessor{Command: command, cache: resultCache}
}

func (p *NotebookProcessor) Process(ctx context.Context, job *types.Job) (string, error) {
	var payload notebookPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return "", wrapError(fmt.Sprintf("malformed notebook payload: %v", err), "")
	}

	raw, err := p.executedNotebook(ctx, job, payload)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(payload.OutputFile), 0o755); err != nil {
		return "", fmt.Errorf("processor: create output dir: %w", err)
	}
	if payload.Format == string(types.OutputFormatNotebook) {
		if err := os.WriteFile(payload.OutputFile, raw, 0o644); err != nil {
			return "", fmt.Errorf("processor: write notebook output: %w", err)
		}
	} else if err := p.render(ctx, raw, payload); err != nil {
		return "", err
	}

	result, _ := json.Marshal(map[string]string{"output_file": payload.OutputFile, "format": payload.Format})
	return string(result), nil
}

// executedNotebook returns the post-execution notebook bytes, from the
// executed-notebook cache when available, otherwise by running Command.
func (p *NotebookProcessor) executedNotebook(ctx context.Context, job *types.Job, payload notebookPayload) ([]byte, error) {
	if entry, err := p.cache.LookupExecutedNotebook(ctx, payload.InputFile, job.ContentHash, payload.Language, payload.ProgLang); err == nil {
		return entry.NotebookRaw, nil
	}

	executedPath, err := os.CreateTemp("", "clm-executed-*.ipynb")
	if err != nil {
		return nil, fmt.Errorf("processor: create temp executed notebook: %w", err)
	}
	executedPath.Close()
	defer os.Remove(executedPath.Name())

	cmd := exec.CommandContext(ctx, p.Command, "nbconvert", "--to", "notebook", "--execute",
		"--output", executedPath.Name(), payload.InputFile)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if _, lookErr := exec.LookPath(p.Command); lookErr != nil {
			return nil, wrapError(fmt.Sprintf("notebook executor %s not found", p.Command), "")
		}
		return nil, wrapError(stderr.String(), classifyNotebookErrorClass(stderr.String()))
	}

	raw, err := os.ReadFile(executedPath.Name())
	if err != nil {
		return nil, fmt.Errorf("processor: read executed notebook: %w", err)
	}

	if err := p.cache.PutExecutedNotebook(ctx, types.ExecutedNotebookEntry{
		InputPath:   payload.InputFile,
		ContentHash: job.ContentHash,
		Language:    payload.Language,
		ProgLang:    payload.ProgLang,
		NotebookRaw: raw,
	}); err != nil {
		processorLog.Warn().Err(err).Str("input_path", payload.InputFile).Msg("failed to cache executed notebook")
	}

	return raw, nil
}

func (p *NotebookProcessor) render(ctx context.Context, raw []byte, payload notebookPayload) error {
	tmp, err := os.CreateTemp("", "clm-render-*.ipynb")
	if err != nil {
		return fmt.Errorf("processor: create temp render source: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("processor: write temp render source: %w", err)
	}
	tmp.Close()

	cmd := exec.CommandContext(ctx, p.Command, "nbconvert", "--to", payload.Format,
		"--output", payload.OutputFile, tmp.Name())
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return wrapError(stderr.String(), classifyNotebookErrorClass(stderr.String()))
	}
	return nil
}

func classifyNotebookErrorClass(stderr string) string {
	if strings.Contains(stderr, "ModuleNotFoundError") || strings.Contains(stderr, "No module named") {
		return "ModuleNotFoundError"
	}
	return ""
}
