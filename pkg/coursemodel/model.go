package coursemodel

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/clm/pkg/types"
)

// FileKind is the tagged-variant discriminator for File. Every distinct
// kind carries its own job-generation rule in Jobs.
type FileKind string

const (
	FileKindNotebook FileKind = "notebook"
	FileKindDiagram  FileKind = "diagram"
	FileKindAsset    FileKind = "asset"
)

// DiagramFormat distinguishes the two diagram converters the spec treats
// as separate job kinds despite sharing FileKindDiagram.
type DiagramFormat string

const (
	DiagramFormatPlantUML DiagramFormat = "plantuml"
	DiagramFormatDrawIO   DiagramFormat = "drawio"
)

// JobSpec is what File.Jobs returns: everything the planner needs to
// enqueue one job for one output combination, short of a content hash
// (the planner hashes the source bytes and carries the hash on each
// PlannedJob).
type JobSpec struct {
	Kind          types.JobKind
	OutputPath    string
	Payload       []byte
	Priority      int
	Format        types.OutputFormat
	OutputKind    types.OutputKind
	Language      string
	PopulatesOnly bool // true for an implicit execution never requested on disk
}

// File is one schedulable input: a notebook source, a diagram source, or
// a plain asset to be copied verbatim.
type File struct {
	SourcePath     string
	ContentHash    string
	Kind           FileKind
	DiagramFormat  DiagramFormat // only meaningful when Kind == FileKindDiagram
	ProgLang       string        // only meaningful when Kind == FileKindNotebook
	ExecutionStage int
}

// Topic is a named grouping of files within a Section.
type Topic struct {
	Name  string
	Files []File
}

// Section groups topics within a Course.
type Section struct {
	Name   string
	Topics []Topic
}

// Course is the root of a CourseModel: the section/topic/file tree the
// planner walks to build its stage list. Children are held by value in
// nested slices; there are no parent back-references.
type Course struct {
	Name          string
	Sections      []Section
	OutputTargets []types.OutputTarget
}

// Files returns every File in the course, depth-first.
func (c *Course) Files() []File {
	var out []File
	for _, s := range c.Sections {
		for _, t := range s.Topics {
			out = append(out, t.Files...)
		}
	}
	return out
}

// notebookPayload mirrors the stable job-payload contract for JobKindNotebook.
type notebookPayload struct {
	types.CommonFields
	Language        string `json:"language"`
	Format          string `json:"format"`
	Kind            string `json:"kind"`
	ProgLang        string `json:"prog_lang"`
	FallbackExecute bool   `json:"fallback_execute"`
}

// diagramPayload mirrors the stable job-payload contract for
// JobKindPlantUML and JobKindDrawIO.
type diagramPayload struct {
	types.CommonFields
	Data         string `json:"data"`
	OutputFormat string `json:"output_format"`
}

// Jobs returns the JobSpecs f wants for the (language, format, kind)
// combination, or nil if f does not produce output for that combination.
// Asset files never produce jobs; they are copied in the planner's final
// phase instead. correlationID ties every job this call produces back to
// the build or watch-triggered rebuild that requested them.
func (f File) Jobs(lang string, format types.OutputFormat, kind types.OutputKind, outputPath string, rawSource []byte, correlationID string) ([]JobSpec, error) {
	common := types.CommonFields{
		CorrelationID: correlationID,
		InputFile:     f.SourcePath,
		InputFileName: filepath.Base(f.SourcePath),
		OutputFile:    outputPath,
	}

	switch f.Kind {
	case FileKindNotebook:
		payload, err := json.Marshal(notebookPayload{
			CommonFields: common,
			Language:     lang,
			Format:       string(format),
			Kind:         string(kind),
			ProgLang:     f.ProgLang,
		})
		if err != nil {
			return nil, fmt.Errorf("coursemodel: marshal notebook payload: %w", err)
		}
		return []JobSpec{{
			Kind:       types.JobKindNotebook,
			OutputPath: outputPath,
			Payload:    payload,
			Format:     format,
			OutputKind: kind,
			Language:   lang,
		}}, nil

	case FileKindDiagram:
		jobKind := types.JobKindPlantUML
		if f.DiagramFormat == DiagramFormatDrawIO {
			jobKind = types.JobKindDrawIO
		}
		outputFormat := "png"
		if format == types.OutputFormatHTML {
			outputFormat = "svg"
		}
		payload, err := json.Marshal(diagramPayload{
			CommonFields: common,
			Data:         string(rawSource),
			OutputFormat: outputFormat,
		})
		if err != nil {
			return nil, fmt.Errorf("coursemodel: marshal diagram payload: %w", err)
		}
		return []JobSpec{{
			Kind:       jobKind,
			OutputPath: outputPath,
			Payload:    payload,
			Format:     format,
			OutputKind: kind,
			Language:   lang,
		}}, nil

	case FileKindAsset:
		return nil, nil
	}

	return nil, fmt.Errorf("coursemodel: unknown file kind %q", f.Kind)
}
