package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/clm/pkg/coursemodel"
	"github.com/cuemby/clm/pkg/types"
)

func fakeReader(data []byte) func(string) ([]byte, error) {
	return func(string) ([]byte, error) { return data, nil }
}

func TestPlanCompletedOnlyImpliesSpeakerExecution(t *testing.T) {
	course := &coursemodel.Course{
		Name: "demo",
		Sections: []coursemodel.Section{{
			Name: "s1",
			Topics: []coursemodel.Topic{{
				Name: "t1",
				Files: []coursemodel.File{{
					SourcePath:     "topic/lecture_01.py",
					Kind:           coursemodel.FileKindNotebook,
					ProgLang:       "python",
					ExecutionStage: 0,
				}},
			}},
		}},
	}

	targets := []types.OutputTarget{{
		Name:       "public",
		OutputRoot: "/out",
		Kinds:      []types.OutputKind{types.OutputKindCompleted},
		Formats:    []types.OutputFormat{types.OutputFormatHTML},
		Languages:  []string{"en"},
	}}

	plan, err := Plan(course, targets, fakeReader([]byte("print(1)")), "cid-1")
	require.NoError(t, err)
	require.Len(t, plan.Stages, 1)

	var hasCompleted, hasSpeaker bool
	for _, job := range plan.Stages[0].Jobs {
		assert.Equal(t, "cid-1", job.CorrelationID)
		if job.Spec.OutputKind == types.OutputKindCompleted {
			hasCompleted = true
			assert.False(t, job.Spec.PopulatesOnly)
		}
		if job.Spec.OutputKind == types.OutputKindSpeaker {
			hasSpeaker = true
			assert.True(t, job.Spec.PopulatesOnly)
		}
	}

	assert.True(t, hasCompleted, "completed html job must be planned")
	assert.True(t, hasSpeaker, "speaker html job must be implicitly planned to populate the cache")
}

func TestPlanEmptyCourseProducesNoJobs(t *testing.T) {
	course := &coursemodel.Course{Name: "empty"}
	targets := []types.OutputTarget{{
		Name:      "public",
		Kinds:     []types.OutputKind{types.OutputKindCompleted},
		Formats:   []types.OutputFormat{types.OutputFormatHTML},
		Languages: []string{"en"},
	}}

	plan, err := Plan(course, targets, fakeReader(nil), "cid-2")
	require.NoError(t, err)
	assert.Empty(t, plan.Stages)
	assert.Empty(t, plan.Assets)
}

func TestPlanImageCollisionOnDifferentContent(t *testing.T) {
	course := &coursemodel.Course{
		Sections: []coursemodel.Section{{
			Topics: []coursemodel.Topic{{
				Files: []coursemodel.File{
					{SourcePath: "img/diagram.puml", Kind: coursemodel.FileKindDiagram, DiagramFormat: coursemodel.DiagramFormatPlantUML},
					{SourcePath: "other/diagram.puml", Kind: coursemodel.FileKindDiagram, DiagramFormat: coursemodel.DiagramFormatPlantUML},
				},
			}},
		}},
	}

	targets := []types.OutputTarget{{
		Kinds:     []types.OutputKind{types.OutputKindCodeAlong},
		Formats:   []types.OutputFormat{types.OutputFormatHTML},
		Languages: []string{"en"},
	}}

	// Both sources write diagram.puml.en.html.code-along, with different bytes.
	sources := map[string][]byte{
		"img/diagram.puml":   []byte("@startuml\nA->B\n@enduml"),
		"other/diagram.puml": []byte("@startuml\nB->C\n@enduml"),
	}
	readFile := func(path string) ([]byte, error) { return sources[path], nil }

	_, err := Plan(course, targets, readFile, "cid-3")
	var collision *ErrImageCollision
	require.ErrorAs(t, err, &collision)
}
