package types

import "time"

// JobKind is the fixed taxonomy of job types the queue understands.
type JobKind string

const (
	JobKindNotebook JobKind = "notebook"
	JobKindPlantUML JobKind = "plantuml"
	JobKindDrawIO   JobKind = "drawio"
)

// IsValid reports whether k is one of the recognised job kinds.
func (k JobKind) IsValid() bool {
	switch k {
	case JobKindNotebook, JobKindPlantUML, JobKindDrawIO:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a Job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// IsTerminal reports whether s is a state a job never leaves.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job is a unit of work in the durable queue.
//
// Invariants (enforced by pkg/queue, not by this struct):
//   - a Job in JobStatusProcessing has exactly one non-nil WorkerID
//   - Attempts never exceeds MaxAttempts
//   - StartedAt, if set, is <= CompletedAt once CompletedAt is set
//   - a cancelled job has CancelledAt set and is never re-claimed
type Job struct {
	ID            int64
	Kind          JobKind
	Status        JobStatus
	Priority      int
	InputPath     string
	OutputPath    string
	ContentHash   string
	Payload       []byte // opaque, kind-specific JSON
	CorrelationID string // empty if none
	Attempts      int
	MaxAttempts   int
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	CancelledAt   *time.Time
	WorkerID      *int64
	ErrorJSON     string
	ResultJSON    string
	CancelledBy   string
}

// DefaultMaxAttempts is used by Enqueue when the caller does not override it.
const DefaultMaxAttempts = 3

// ResultCacheEntry records that "output X for content-hash H has been built".
type ResultCacheEntry struct {
	ID             int64
	OutputPath     string
	ContentHash    string
	ResultMetadata []byte // opaque JSON
	CreatedAt      time.Time
	LastAccessed   time.Time
	AccessCount    int64
}

// ExecutedNotebookEntry is a cached execution of one notebook under one
// (input, content hash, language, programming language) key.
type ExecutedNotebookEntry struct {
	InputPath   string
	ContentHash string
	Language    string
	ProgLang    string
	NotebookRaw []byte // serialized post-execution notebook state
	CreatedAt   time.Time
}

// WorkerStatus is the lifecycle state of a registered Worker.
type WorkerStatus string

const (
	WorkerStatusCreated WorkerStatus = "created"
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusHung    WorkerStatus = "hung"
	WorkerStatusDead    WorkerStatus = "dead"
)

// ExecutionMode distinguishes the two WorkerExecutor backends.
type ExecutionMode string

const (
	ExecutionModeDirect ExecutionMode = "direct"
	ExecutionModeDocker ExecutionMode = "docker"
)

// Worker is a registered worker process, direct subprocess or container.
type Worker struct {
	ID                int64
	ContainerID       string // "direct-<pid>" or a container id
	Kind              JobKind
	Status            WorkerStatus
	ExecutionMode     ExecutionMode
	ParentPID         int
	JobsProcessed     int64
	JobsFailed        int64
	AvgProcessingTime time.Duration
	StartedAt         time.Time
	LastHeartbeat     time.Time
	SessionID         string
	ManagedBy         string
}

// WorkerEventType enumerates the append-only audit-trail event types.
type WorkerEventType string

const (
	EventWorkerStarting   WorkerEventType = "worker_starting"
	EventWorkerRegistered WorkerEventType = "worker_registered"
	EventWorkerReady      WorkerEventType = "worker_ready"
	EventWorkerStopping   WorkerEventType = "worker_stopping"
	EventWorkerStopped    WorkerEventType = "worker_stopped"
	EventWorkerFailed     WorkerEventType = "worker_failed"
	EventPoolStarting     WorkerEventType = "pool_starting"
	EventPoolStarted      WorkerEventType = "pool_started"
	EventPoolStopping     WorkerEventType = "pool_stopping"
	EventPoolStopped      WorkerEventType = "pool_stopped"
)

// WorkerEvent is one row of the append-only worker_events audit trail.
type WorkerEvent struct {
	ID            int64
	EventType     WorkerEventType
	WorkerID      *int64
	Kind          JobKind
	ExecutionMode ExecutionMode
	Message       string
	MetadataJSON  string
	SessionID     string
	CreatedAt     time.Time
}

// OutputFormat is the rendering format of a generated output.
type OutputFormat string

const (
	OutputFormatHTML     OutputFormat = "html"
	OutputFormatNotebook OutputFormat = "notebook"
	OutputFormatCode     OutputFormat = "code"
)

// OutputKind is the audience/variant of a generated output.
type OutputKind string

const (
	OutputKindCodeAlong OutputKind = "code-along"
	OutputKindCompleted OutputKind = "completed"
	OutputKindSpeaker   OutputKind = "speaker"
)

// OutputTarget is one deployment target: a combination of languages,
// formats and kinds rooted at an output directory.
type OutputTarget struct {
	Name       string
	OutputRoot string
	Kinds      []OutputKind
	Formats    []OutputFormat
	Languages  []string
	IsExplicit bool // false if defaulted rather than spec-declared
}

// ShouldGenerate reports whether this target wants the given combination.
func (t OutputTarget) ShouldGenerate(lang string, format OutputFormat, kind OutputKind) bool {
	return containsStr(t.Languages, lang) && containsFormat(t.Formats, format) && containsKind(t.Kinds, kind)
}

func containsStr(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func containsFormat(xs []OutputFormat, x OutputFormat) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func containsKind(xs []OutputKind, x OutputKind) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

// CorrelationData is the ephemeral per-request state tracked by
// pkg/correlation for the lifetime of one build or watch cycle.
type CorrelationData struct {
	CorrelationID string
	StartTime     time.Time
	Dependencies  []string
}

// CommonFields is embedded in every per-kind job payload so a worker can
// report progress and identify its input/output without first knowing
// which kind it is processing.
type CommonFields struct {
	CorrelationID string `json:"correlation_id"`
	InputFile     string `json:"input_file"`
	InputFileName string `json:"input_file_name"`
	OutputFile    string `json:"output_file"`
}

// BuildErrorType is the top-level error taxonomy from spec.md §7.
type BuildErrorType string

const (
	ErrorTypeUser           BuildErrorType = "user"
	ErrorTypeConfiguration  BuildErrorType = "configuration"
	ErrorTypeInfrastructure BuildErrorType = "infrastructure"
)

// BuildErrorSeverity ranks how a BuildError should affect the build.
type BuildErrorSeverity string

const (
	SeverityWarning BuildErrorSeverity = "warning"
	SeverityError   BuildErrorSeverity = "error"
	SeverityFatal   BuildErrorSeverity = "fatal"
)

// BuildError is the single user-facing error shape produced by
// pkg/errors.Classify and surfaced by the BuildDriver's formatter.
type BuildError struct {
	ErrorType          BuildErrorType
	Category           string
	Severity           BuildErrorSeverity
	FilePath           string
	Message            string
	ActionableGuidance string
	Details            map[string]string
}
