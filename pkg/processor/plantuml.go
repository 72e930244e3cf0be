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

// plantUMLPayload mirrors the stable job-payload contract for
// types.JobKindPlantUML.
type plantUMLPayload struct {
	types.CommonFields
	Data         string `json:"data"`
	OutputFormat string `json:"output_format"`
}

// PlantUMLProcessor pipes diagram source into the plantuml.jar named by
// JarPath, writing the rendered bytes to the payload's output file.
type PlantUMLProcessor struct {
	JarPath    string // PLANTUML_JAR
	JavaBinary string // defaults to "java"
}

// NewPlantUMLProcessor wraps jarPath, defaulting JavaBinary to "java".
func NewPlantUMLProcessor(jarPath string) *PlantUMLProcessor {
	return &PlantUMLProcessor{JarPath: jarPath, JavaBinary: "java"}
}

func (p *PlantUMLProcessor) Process(ctx context.Context, job *types.Job) (string, error) {
	var payload plantUMLPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return "", wrapError(fmt.Sprintf("malformed plantuml payload: %v", err), "")
	}

	if p.JarPath == "" {
		return "", wrapError("PLANTUML_JAR not set: jar not found", "")
	}
	if _, err := os.Stat(p.JarPath); err != nil {
		return "", wrapError(fmt.Sprintf("plantuml jar not found at %s", p.JarPath), "")
	}

	javaBinary := p.JavaBinary
	if javaBinary == "" {
		javaBinary = "java"
	}

	flag := "-tpng"
	if payload.OutputFormat == "svg" {
		flag = "-tsvg"
	}

	cmd := exec.CommandContext(ctx, javaBinary, "-jar", p.JarPath, "-pipe", flag)
	cmd.Stdin = bytes.NewBufferString(payload.Data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", wrapError(fmt.Sprintf("plantuml render failed: %v: %s", err, stderr.String()), "")
	}

	if err := os.MkdirAll(filepath.Dir(payload.OutputFile), 0o755); err != nil {
		return "", fmt.Errorf("processor: create output dir: %w", err)
	}
	if err := os.WriteFile(payload.OutputFile, stdout.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("processor: write plantuml output: %w", err)
	}

	result, _ := json.Marshal(map[string]string{"output_file": payload.OutputFile, "format": payload.OutputFormat})
	return string(result), nil
}
