package processor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuemby/clm/pkg/cache"
	"github.com/cuemby/clm/pkg/log"
	"github.com/cuemby/clm/pkg/types"
)

var processorLog = log.WithComponent("processor")

// Processor executes a single job's payload against the external tool
// it wraps and returns the job's result_json on success.
type Processor interface {
	Process(ctx context.Context, job *types.Job) (resultJSON string, err error)
}

// Dispatcher routes a job to the Processor registered for its kind,
// short-circuiting through the finished-artifact cache when a prior run
// already produced output for the same (output path, content hash).
type Dispatcher struct {
	cache  *cache.ResultCache
	byKind map[types.JobKind]Processor
}

// NewDispatcher builds a Dispatcher. byKind should have one entry per
// types.JobKind the caller wants this worker capable of; a job of an
// unregistered kind fails immediately.
func NewDispatcher(resultCache *cache.ResultCache, byKind map[types.JobKind]Processor) *Dispatcher {
	return &Dispatcher{cache: resultCache, byKind: byKind}
}

// Process checks the result cache, falls through to the registered
// Processor on a miss, and records a hit on success so the next job for
// the same output skips the external tool entirely.
func (d *Dispatcher) Process(ctx context.Context, job *types.Job) (string, error) {
	if job.OutputPath != "" && job.ContentHash != "" {
		if entry, err := d.cache.Lookup(ctx, job.OutputPath, job.ContentHash); err == nil && d.cache.VerifyOnDisk(ctx, entry) {
			processorLog.Debug().Int64("job_id", job.ID).Str("output_path", job.OutputPath).Msg("result cache hit")
			return string(entry.ResultMetadata), nil
		}
	}

	p, ok := d.byKind[job.Kind]
	if !ok {
		return "", fmt.Errorf("processor: no processor registered for kind %q", job.Kind)
	}

	result, err := p.Process(ctx, job)
	if err != nil {
		return "", err
	}

	if job.OutputPath != "" && job.ContentHash != "" {
		if err := d.cache.Put(ctx, job.OutputPath, job.ContentHash, []byte(result)); err != nil {
			processorLog.Warn().Err(err).Int64("job_id", job.ID).Msg("failed to record result cache entry")
		}
	}
	return result, nil
}

// errorEnvelope mirrors pkg/errors.Classify's expected worker-reported
// shape, letting a processor attach the exception-class name Classify
// uses for disambiguation alongside the human message.
type errorEnvelope struct {
	ErrorMessage string `json:"error_message"`
	ErrorClass   string `json:"error_class"`
}

func wrapError(message, errorClass string) error {
	body, _ := json.Marshal(errorEnvelope{ErrorMessage: message, ErrorClass: errorClass})
	return fmt.Errorf("%s", body)
}
