package errors

import (
	"encoding/json"
	"strings"

	"github.com/cuemby/clm/pkg/types"
)

// Category values surfaced in types.BuildError.Category.
const (
	CategoryMissingDrawIO      = "missing_drawio"
	CategoryDrawIOProcessing   = "drawio_processing"
	CategoryDrawIOCrash        = "drawio_crash"
	CategoryMissingPlantUML    = "missing_plantuml"
	CategoryPlantUMLProcessing = "plantuml_processing"
	CategoryNotebookCompile    = "notebook_compilation"
	CategoryMissingModule      = "missing_module"
	CategoryInputNotFound      = "input_not_found"
	CategoryWorkerHung         = "worker_hung"
	CategoryUnknown            = "unknown"
)

// workerErrorEnvelope is the structured shape a worker may report instead
// of a bare string; error_class lets Classify key off the Python exception
// type name directly rather than re-deriving it from text.
type workerErrorEnvelope struct {
	ErrorMessage string `json:"error_message"`
	ErrorClass   string `json:"error_class"`
}

// Classify maps a job kind and raw error message to a types.BuildError.
// inputFile is used only for Details, never for classification decisions.
func Classify(kind types.JobKind, inputFile, rawMessage string) types.BuildError {
	message, errorClass := unwrapEnvelope(rawMessage)
	lower := strings.ToLower(message)

	details := map[string]string{"input_file": inputFile}
	if errorClass != "" {
		details["error_class"] = errorClass
	}

	// Input-not-found is checked before any kind-specific "not found"
	// pattern so it can never be shadowed by a broader missing-tool match.
	if isInputNotFound(lower, errorClass) {
		return types.BuildError{
			ErrorType:          types.ErrorTypeUser,
			Category:           CategoryInputNotFound,
			Severity:           types.SeverityError,
			FilePath:           inputFile,
			Message:            message,
			ActionableGuidance: "Check that the input file exists at the path shown and that the build has permission to read it.",
			Details:            details,
		}
	}

	switch kind {
	case types.JobKindDrawIO:
		return classifyDrawIO(message, lower, inputFile, details)
	case types.JobKindPlantUML:
		return classifyPlantUML(message, lower, inputFile, details)
	case types.JobKindNotebook:
		return classifyNotebook(message, lower, inputFile, details)
	}

	return types.BuildError{
		ErrorType:          types.ErrorTypeInfrastructure,
		Category:           CategoryUnknown,
		Severity:           types.SeverityError,
		FilePath:           inputFile,
		Message:            message,
		ActionableGuidance: "Re-run with verbose logging; this error did not match any known category.",
		Details:            details,
	}
}

func isInputNotFound(lower, errorClass string) bool {
	if errorClass == "FileNotFoundError" {
		return true
	}
	return strings.Contains(lower, "input file not found")
}

func classifyDrawIO(message, lower, inputFile string, details map[string]string) types.BuildError {
	if strings.Contains(lower, "drawio_executable") || strings.Contains(lower, "command not found") {
		return types.BuildError{
			ErrorType:          types.ErrorTypeConfiguration,
			Category:           CategoryMissingDrawIO,
			Severity:           types.SeverityFatal,
			FilePath:           inputFile,
			Message:            message,
			ActionableGuidance: "Install DrawIO desktop and set the DRAWIO_EXECUTABLE environment variable to its binary path.",
			Details:            details,
		}
	}

	if strings.Contains(lower, "disallowjavascriptexecutionscope") || strings.Contains(lower, "fatal error in") {
		return types.BuildError{
			ErrorType:          types.ErrorTypeInfrastructure,
			Category:           CategoryDrawIOCrash,
			Severity:           types.SeverityWarning,
			FilePath:           inputFile,
			Message:            message,
			ActionableGuidance: "DrawIO's renderer crashed; this is usually a transient crash unrelated to the diagram. Retry the build.",
			Details:            details,
		}
	}

	return types.BuildError{
		ErrorType:          types.ErrorTypeUser,
		Category:           CategoryDrawIOProcessing,
		Severity:           types.SeverityError,
		FilePath:           inputFile,
		Message:            message,
		ActionableGuidance: "Open the diagram in DrawIO and check for malformed XML or unsupported elements.",
		Details:            details,
	}
}

func classifyPlantUML(message, lower, inputFile string, details map[string]string) types.BuildError {
	if strings.Contains(lower, "plantuml_jar") || strings.Contains(lower, "jar not found") {
		return types.BuildError{
			ErrorType:          types.ErrorTypeConfiguration,
			Category:           CategoryMissingPlantUML,
			Severity:           types.SeverityFatal,
			FilePath:           inputFile,
			Message:            message,
			ActionableGuidance: "Download plantuml.jar and set the PLANTUML_JAR environment variable to its path.",
			Details:            details,
		}
	}

	return types.BuildError{
		ErrorType:          types.ErrorTypeUser,
		Category:           CategoryPlantUMLProcessing,
		Severity:           types.SeverityError,
		FilePath:           inputFile,
		Message:            message,
		ActionableGuidance: "Check your PlantUML source for syntax errors.",
		Details:            details,
	}
}

func classifyNotebook(message, lower, inputFile string, details map[string]string) types.BuildError {
	if strings.Contains(lower, "modulenotfounderror") || strings.Contains(lower, "no module named") {
		return types.BuildError{
			ErrorType:          types.ErrorTypeUser,
			Category:           CategoryMissingModule,
			Severity:           types.SeverityError,
			FilePath:           inputFile,
			Message:            message,
			ActionableGuidance: "Install the missing module in the execution environment or remove the import from the notebook.",
			Details:            details,
		}
	}

	return types.BuildError{
		ErrorType:          types.ErrorTypeUser,
		Category:           CategoryNotebookCompile,
		Severity:           types.SeverityError,
		FilePath:           inputFile,
		Message:            message,
		ActionableGuidance: "Fix the error in the notebook source; it failed to execute cleanly.",
		Details:            details,
	}
}

// unwrapEnvelope parses a structured {"error_message":..., "error_class":...}
// payload if present, falling back to treating raw as a plain message.
func unwrapEnvelope(raw string) (message, errorClass string) {
	var env workerErrorEnvelope
	if err := json.Unmarshal([]byte(raw), &env); err == nil && env.ErrorMessage != "" {
		return env.ErrorMessage, env.ErrorClass
	}
	return raw, ""
}
