package coursemodel

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cuemby/clm/pkg/types"
)

// specFile is the on-disk shape clm build reads. It is deliberately a
// thin, direct mapping onto Course rather than an authoring DSL: the
// DSL-to-notebook template expander that produces richer course sources
// is the external collaborator spec.md names out of scope, so this
// loader only has to understand the flat shape the expander would emit.
type specFile struct {
	Name          string             `yaml:"name"`
	OutputTargets []targetSpec       `yaml:"output_targets"`
	Sections      []sectionSpec      `yaml:"sections"`
}

type targetSpec struct {
	Name       string   `yaml:"name"`
	OutputRoot string   `yaml:"output_root"`
	Languages  []string `yaml:"languages"`
	Formats    []string `yaml:"formats"`
	Kinds      []string `yaml:"kinds"`
	Explicit   bool     `yaml:"explicit"`
}

type sectionSpec struct {
	Name   string      `yaml:"name"`
	Topics []topicSpec `yaml:"topics"`
}

type topicSpec struct {
	Name  string     `yaml:"name"`
	Files []fileSpec `yaml:"files"`
}

type fileSpec struct {
	Path           string `yaml:"path"`
	Kind           string `yaml:"kind"` // notebook, diagram, asset
	DiagramFormat  string `yaml:"diagram_format,omitempty"`
	ProgLang       string `yaml:"prog_lang,omitempty"`
	ExecutionStage int    `yaml:"execution_stage"`
}

// Load parses a course specification file at path into a Course and its
// output targets.
func Load(path string) (*Course, []types.OutputTarget, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("coursemodel: read %s: %w", path, err)
	}

	var spec specFile
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, nil, fmt.Errorf("coursemodel: parse %s: %w", path, err)
	}

	course := &Course{Name: spec.Name}
	for _, s := range spec.Sections {
		section := Section{Name: s.Name}
		for _, t := range s.Topics {
			topic := Topic{Name: t.Name}
			for _, f := range t.Files {
				file, err := buildFile(f)
				if err != nil {
					return nil, nil, fmt.Errorf("coursemodel: %s: %w", f.Path, err)
				}
				topic.Files = append(topic.Files, file)
			}
			section.Topics = append(section.Topics, topic)
		}
		course.Sections = append(course.Sections, section)
	}

	targets, err := buildTargets(spec.OutputTargets)
	if err != nil {
		return nil, nil, err
	}
	course.OutputTargets = targets

	return course, targets, nil
}

func buildFile(f fileSpec) (File, error) {
	file := File{SourcePath: f.Path, ExecutionStage: f.ExecutionStage}
	switch FileKind(f.Kind) {
	case FileKindNotebook:
		file.Kind = FileKindNotebook
		file.ProgLang = f.ProgLang
	case FileKindDiagram:
		file.Kind = FileKindDiagram
		switch DiagramFormat(f.DiagramFormat) {
		case DiagramFormatPlantUML, DiagramFormatDrawIO:
			file.DiagramFormat = DiagramFormat(f.DiagramFormat)
		default:
			return File{}, fmt.Errorf("unknown diagram_format %q", f.DiagramFormat)
		}
	case FileKindAsset:
		file.Kind = FileKindAsset
	default:
		return File{}, fmt.Errorf("unknown file kind %q", f.Kind)
	}
	return file, nil
}

func buildTargets(specs []targetSpec) ([]types.OutputTarget, error) {
	out := make([]types.OutputTarget, 0, len(specs))
	for _, t := range specs {
		target := types.OutputTarget{
			Name:       t.Name,
			OutputRoot: t.OutputRoot,
			Languages:  t.Languages,
			IsExplicit: t.Explicit,
		}
		for _, f := range t.Formats {
			switch types.OutputFormat(f) {
			case types.OutputFormatHTML, types.OutputFormatNotebook, types.OutputFormatCode:
				target.Formats = append(target.Formats, types.OutputFormat(f))
			default:
				return nil, fmt.Errorf("coursemodel: unknown output format %q in target %q", f, t.Name)
			}
		}
		for _, k := range t.Kinds {
			switch types.OutputKind(k) {
			case types.OutputKindCodeAlong, types.OutputKindCompleted, types.OutputKindSpeaker:
				target.Kinds = append(target.Kinds, types.OutputKind(k))
			default:
				return nil, fmt.Errorf("coursemodel: unknown output kind %q in target %q", k, t.Name)
			}
		}
		out = append(out, target)
	}
	return out, nil
}
