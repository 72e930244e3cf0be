package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/cuemby/clm/pkg/types"
)

// drawIOPayload mirrors the stable job-payload contract for
// types.JobKindDrawIO.
type drawIOPayload struct {
	types.CommonFields
	Data         string `json:"data"`
	OutputFormat string `json:"output_format"`
}

// DrawIOProcessor shells out to the DrawIO desktop binary named by
// Executable in headless export mode.
type DrawIOProcessor struct {
	Executable string // DRAWIO_EXECUTABLE
}

// NewDrawIOProcessor wraps the configured binary path.
func NewDrawIOProcessor(executable string) *DrawIOProcessor {
	return &DrawIOProcessor{Executable: executable}
}

func (p *DrawIOProcessor) Process(ctx context.Context, job *types.Job) (string, error) {
	var payload drawIOPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return "", wrapError(fmt.Sprintf("malformed drawio payload: %v", err), "")
	}

	if p.Executable == "" {
		return "", wrapError("DRAWIO_EXECUTABLE not set: command not found", "")
	}
	if _, err := exec.LookPath(p.Executable); err != nil {
		return "", wrapError(fmt.Sprintf("drawio executable %s: command not found", p.Executable), "")
	}

	tmp, err := os.CreateTemp("", "clm-drawio-*.drawio")
	if err != nil {
		return "", fmt.Errorf("processor: create temp drawio source: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.WriteString(payload.Data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("processor: write temp drawio source: %w", err)
	}
	tmp.Close()

	if err := os.MkdirAll(filepath.Dir(payload.OutputFile), 0o755); err != nil {
		return "", fmt.Errorf("processor: create output dir: %w", err)
	}

	format := payload.OutputFormat
	if format == "" {
		format = "png"
	}

	cmd := exec.CommandContext(ctx, p.Executable, "-x", "-f", format, "-o", payload.OutputFile, tmp.Name())
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		message := stderr.String()
		if message == "" {
			message = err.Error()
		}
		return "", wrapError(fmt.Sprintf("drawio render failed: %s", message), "")
	}

	result, _ := json.Marshal(map[string]string{"output_file": payload.OutputFile, "format": format})
	return string(result), nil
}
