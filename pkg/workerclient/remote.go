package workerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/clm/pkg/types"
)

// RemoteClient satisfies Client over the WorkerApi's HTTP surface, the
// only path available to a worker running inside a container with no
// access to the database file.
type RemoteClient struct {
	baseURL string
	http    *http.Client
}

// NewRemoteClient targets baseURL (e.g. "http://127.0.0.1:8420").
func NewRemoteClient(baseURL string) *RemoteClient {
	return &RemoteClient{baseURL: baseURL, http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *RemoteClient) post(ctx context.Context, path string, body, out any) (int, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return resp.StatusCode, fmt.Errorf("workerclient: %s: %s", path, errBody.Error)
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("workerclient: decode %s response: %w", path, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *RemoteClient) Register(ctx context.Context, kind types.JobKind, mode types.ExecutionMode, containerID string, preAssignedID int64, parentPID int) (int64, error) {
	if preAssignedID > 0 {
		_, err := c.post(ctx, "/api/worker/activate", map[string]any{
			"worker_id":    preAssignedID,
			"container_id": containerID,
			"parent_pid":   parentPID,
		}, nil)
		return preAssignedID, err
	}

	var out struct {
		WorkerID int64 `json:"worker_id"`
	}
	_, err := c.post(ctx, "/api/worker/register", map[string]any{
		"kind":           kind,
		"execution_mode": mode,
		"container_id":   containerID,
	}, &out)
	return out.WorkerID, err
}

func (c *RemoteClient) Claim(ctx context.Context, kind types.JobKind, workerID int64) (*types.Job, error) {
	var job types.Job
	status, err := c.post(ctx, "/api/worker/jobs/claim", map[string]any{
		"kind":      kind,
		"worker_id": workerID,
	}, &job)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent {
		return nil, nil
	}
	return &job, nil
}

func (c *RemoteClient) UpdateStatus(ctx context.Context, jobID int64, status types.JobStatus, errorJSON, resultJSON string) error {
	_, err := c.post(ctx, fmt.Sprintf("/api/worker/jobs/%d/status", jobID), map[string]any{
		"status":      status,
		"error_json":  errorJSON,
		"result_json": resultJSON,
	}, nil)
	return err
}

func (c *RemoteClient) IsCancelled(ctx context.Context, jobID int64) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/worker/jobs/%d/cancelled", c.baseURL, jobID), nil)
	if err != nil {
		return false, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	var out struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, err
	}
	return out.Cancelled, nil
}

func (c *RemoteClient) Heartbeat(ctx context.Context, workerID int64) error {
	_, err := c.post(ctx, "/api/worker/heartbeat", map[string]any{"worker_id": workerID}, nil)
	return err
}

func (c *RemoteClient) Unregister(ctx context.Context, workerID int64, reason string) error {
	_, err := c.post(ctx, "/api/worker/unregister", map[string]any{
		"worker_id": workerID,
		"reason":    reason,
	}, nil)
	return err
}
