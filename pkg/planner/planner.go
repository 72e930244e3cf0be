package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/cuemby/clm/pkg/coursemodel"
	"github.com/cuemby/clm/pkg/log"
	"github.com/cuemby/clm/pkg/metrics"
	"github.com/cuemby/clm/pkg/types"
)

var plannerLog = log.WithComponent("planner")

// PlannedJob is one job the planner wants enqueued, annotated with the
// stage it belongs to.
type PlannedJob struct {
	Stage         int
	Spec          coursemodel.JobSpec
	SourcePath    string
	ContentHash   string
	CorrelationID string
}

// Stage is every job safe to run concurrently at a given execution_stage.
type Stage struct {
	Index int
	Jobs  []PlannedJob
}

// AssetCopy is a plain file the planner wants copied verbatim in the
// final phase, outside the job queue entirely.
type AssetCopy struct {
	SourcePath string
	DestPath   string
}

// Plan is the complete output of planning one course against one set of
// output targets.
type Plan struct {
	Stages []Stage
	Assets []AssetCopy
}

// ErrImageCollision is returned when two distinct source files would
// write the same image filename with different content.
type ErrImageCollision struct {
	Filename string
	First    string
	Second   string
}

func (e *ErrImageCollision) Error() string {
	return fmt.Sprintf("planner: image collision on %q between %s and %s", e.Filename, e.First, e.Second)
}

// imageRegistry tracks emitted image filenames to their content digest
// for the duration of one Plan call, so two unrelated files that happen
// to share a name are only allowed through when byte-identical.
type imageRegistry struct {
	byName map[string]registeredImage
}

type registeredImage struct {
	digest string
	source string
}

func newImageRegistry() *imageRegistry {
	return &imageRegistry{byName: make(map[string]registeredImage)}
}

func (r *imageRegistry) register(destPath, sourcePath string, content []byte) error {
	name := filepath.Base(destPath)
	sum := sha256.Sum256(content)
	digest := hex.EncodeToString(sum[:])

	existing, ok := r.byName[name]
	if !ok {
		r.byName[name] = registeredImage{digest: digest, source: sourcePath}
		return nil
	}
	if existing.digest != digest {
		return &ErrImageCollision{Filename: name, First: existing.source, Second: sourcePath}
	}
	return nil
}

// Plan resolves course against targets into a staged set of jobs, all
// tagged with correlationID so the caller's CorrelationRegistry can tie
// the whole chain of jobs back to the build or watch-triggered rebuild
// that requested them.
//
// readFile loads raw source bytes for diagram payloads and for computing
// content hashes; it is injected so tests can plan without touching the
// filesystem.
func Plan(course *coursemodel.Course, targets []types.OutputTarget, readFile func(path string) ([]byte, error), correlationID string) (*Plan, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.PlanningDuration)

	explicit, implicit := getAllRequiredExecutions(targets)
	images := newImageRegistry()

	byStage := make(map[int][]PlannedJob)
	var assets []AssetCopy

	for _, file := range course.Files() {
		if file.Kind == coursemodel.FileKindAsset {
			for _, target := range targets {
				assets = append(assets, AssetCopy{
					SourcePath: file.SourcePath,
					DestPath:   filepath.Join(target.OutputRoot, filepath.Base(file.SourcePath)),
				})
			}
			continue
		}

		content, err := readFile(file.SourcePath)
		if err != nil {
			return nil, fmt.Errorf("planner: read %s: %w", file.SourcePath, err)
		}
		hash := contentHash(content)

		for out := range explicit {
			if err := planOne(file, out, hash, content, false, images, byStage, correlationID); err != nil {
				return nil, err
			}
		}
		for out := range implicit {
			if explicit[out] {
				continue
			}
			if err := planOne(file, out, hash, content, true, images, byStage, correlationID); err != nil {
				return nil, err
			}
		}
	}

	var stages []Stage
	for idx := range byStage {
		stages = append(stages, Stage{Index: idx, Jobs: byStage[idx]})
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].Index < stages[j].Index })

	return &Plan{Stages: stages, Assets: assets}, nil
}

func planOne(file coursemodel.File, out requestedOutput, hash string, content []byte, implicitOnly bool, images *imageRegistry, byStage map[int][]PlannedJob, correlationID string) error {
	outputPath := ""
	if !implicitOnly {
		outputPath = fmt.Sprintf("%s.%s.%s.%s", file.SourcePath, out.Language, out.Format, out.Kind)
		if file.Kind == coursemodel.FileKindDiagram && out.Format != types.OutputFormatCode {
			if err := images.register(outputPath, file.SourcePath, content); err != nil {
				return err
			}
		}
	}

	specs, err := file.Jobs(out.Language, out.Format, out.Kind, outputPath, content, correlationID)
	if err != nil {
		return fmt.Errorf("planner: build job spec for %s: %w", file.SourcePath, err)
	}

	for _, spec := range specs {
		spec.PopulatesOnly = implicitOnly
		byStage[file.ExecutionStage] = append(byStage[file.ExecutionStage], PlannedJob{
			Stage:         file.ExecutionStage,
			Spec:          spec,
			SourcePath:    file.SourcePath,
			ContentHash:   hash,
			CorrelationID: correlationID,
		})
	}
	return nil
}

func contentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// ReadFile is the default readFile implementation Plan callers use
// outside tests.
func ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
