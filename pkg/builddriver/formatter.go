package builddriver

import (
	"fmt"
	"io"

	"github.com/cuemby/clm/pkg/progress"
)

// OutputFormatter renders progress.Event values for a human. Driver.Run
// publishes events only to its broker; Relay feeds a broker subscription
// into a formatter.
type OutputFormatter interface {
	Format(event *progress.Event)
}

// DefaultFormatter prints one line per stage boundary, failure,
// long-running job warning, progress tick and build completion, staying
// quiet for individual job enqueues, completions and cancellations.
type DefaultFormatter struct {
	w                 io.Writer
	showWorkerDetails bool
}

// NewDefaultFormatter writes to w. Worker ids are included in output
// when CLX_E2E_SHOW_WORKER_DETAILS is true/1/yes.
func NewDefaultFormatter(w io.Writer) *DefaultFormatter {
	return &DefaultFormatter{w: w, showWorkerDetails: envBool("CLX_E2E_SHOW_WORKER_DETAILS")}
}

func (f *DefaultFormatter) Format(event *progress.Event) {
	switch event.Type {
	case progress.EventStageStarted, progress.EventStageCompleted, progress.EventJobFailed,
		progress.EventBuildCompleted, progress.EventJobLongRunning, progress.EventProgressTick:
		if f.showWorkerDetails && event.WorkerID != 0 {
			fmt.Fprintf(f.w, "%s: %s (worker=%d)\n", event.Type, event.Message, event.WorkerID)
			return
		}
		fmt.Fprintf(f.w, "%s: %s\n", event.Type, event.Message)
	}
}

// VerboseFormatter prints every event with its job and worker ids.
type VerboseFormatter struct {
	w io.Writer
}

// NewVerboseFormatter writes to w.
func NewVerboseFormatter(w io.Writer) *VerboseFormatter { return &VerboseFormatter{w: w} }

func (f *VerboseFormatter) Format(event *progress.Event) {
	fmt.Fprintf(f.w, "[%s] job=%d worker=%d cid=%s %s\n",
		event.Type, event.JobID, event.WorkerID, event.CorrelationID, event.Message)
}

// QuietFormatter prints nothing but a final summary line, written by
// the caller once Run returns; Format is a no-op so it can still be
// plugged into the same subscriber loop as the other formatters.
type QuietFormatter struct{}

// NewQuietFormatter returns a formatter that discards every event.
func NewQuietFormatter() *QuietFormatter { return &QuietFormatter{} }

func (f *QuietFormatter) Format(event *progress.Event) {}

// Relay hands every event received on sub to formatter until done is
// closed or sub itself is closed. Run it in its own goroutine alongside
// Driver.Run.
func Relay(sub progress.Subscriber, formatter OutputFormatter, done <-chan struct{}) {
	for {
		select {
		case event, ok := <-sub:
			if !ok {
				return
			}
			formatter.Format(event)
		case <-done:
			return
		}
	}
}
