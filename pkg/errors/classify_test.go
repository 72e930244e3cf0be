package errors

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cuemby/clm/pkg/types"
)

func TestClassifyDrawIO(t *testing.T) {
	tests := []struct {
		name         string
		message      string
		wantType     types.BuildErrorType
		wantCategory string
	}{
		{
			name:         "missing executable env var",
			message:      "DRAWIO_EXECUTABLE environment variable not set",
			wantType:     types.ErrorTypeConfiguration,
			wantCategory: CategoryMissingDrawIO,
		},
		{
			name:         "executable not on path",
			message:      "drawio: command not found",
			wantType:     types.ErrorTypeConfiguration,
			wantCategory: CategoryMissingDrawIO,
		},
		{
			name:         "malformed xml",
			message:      "Error converting DrawIO file: invalid XML",
			wantType:     types.ErrorTypeUser,
			wantCategory: CategoryDrawIOProcessing,
		},
		{
			name:         "v8 renderer crash",
			message:      "Error converting DrawIO file:\nFatal error in , line 0\nInvoke in DisallowJavascriptExecutionScope",
			wantType:     types.ErrorTypeInfrastructure,
			wantCategory: CategoryDrawIOCrash,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify(types.JobKindDrawIO, "test.drawio", tt.message)
			assert.Equal(t, tt.wantType, err.ErrorType)
			assert.Equal(t, tt.wantCategory, err.Category)
		})
	}
}

func TestClassifyDrawIOCrashGuidanceMentionsTransient(t *testing.T) {
	err := Classify(types.JobKindDrawIO, "test.drawio", "Fatal error in , line 0\nInvoke in DisallowJavascriptExecutionScope")
	lower := strings.ToLower(err.ActionableGuidance)
	assert.True(t, strings.Contains(lower, "crash") || strings.Contains(lower, "transient"))
}

func TestClassifyInputNotFoundNeverMissingTool(t *testing.T) {
	err := Classify(types.JobKindDrawIO, "test.drawio", `Input file not found: C:\Users\tc\file.drawio`)

	assert.NotEqual(t, CategoryMissingDrawIO, err.Category)
	assert.NotContains(t, err.ActionableGuidance, "DRAWIO_EXECUTABLE")

	err = Classify(types.JobKindPlantUML, "test.puml", "Input file not found: /path/to/test.puml")
	assert.NotEqual(t, CategoryMissingPlantUML, err.Category)
}

func TestClassifyInputNotFoundFromStructuredError(t *testing.T) {
	raw := `{"error_message": "Input file not found: /source/file.drawio", "error_class": "FileNotFoundError"}`
	err := Classify(types.JobKindDrawIO, "test.drawio", raw)
	assert.NotEqual(t, CategoryMissingDrawIO, err.Category)
	assert.Equal(t, CategoryInputNotFound, err.Category)
}

func TestClassifyNotebook(t *testing.T) {
	tests := []struct {
		name         string
		message      string
		wantCategory string
	}{
		{"syntax error", "SyntaxError: invalid syntax", CategoryNotebookCompile},
		{"missing module", "ModuleNotFoundError: No module named 'nonexistent'", CategoryMissingModule},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Classify(types.JobKindNotebook, "test.ipynb", tt.message)
			assert.Equal(t, types.ErrorTypeUser, err.ErrorType)
			assert.Equal(t, tt.wantCategory, err.Category)
		})
	}
}

func TestClassifyPlantUMLMissingJar(t *testing.T) {
	err := Classify(types.JobKindPlantUML, "test.puml", "PLANTUML_JAR environment variable not set")
	assert.Equal(t, types.ErrorTypeConfiguration, err.ErrorType)
	assert.Equal(t, CategoryMissingPlantUML, err.Category)
}
