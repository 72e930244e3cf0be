package workerapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/cuemby/clm/pkg/cache"
	"github.com/cuemby/clm/pkg/lifecycle"
	"github.com/cuemby/clm/pkg/log"
	"github.com/cuemby/clm/pkg/metrics"
	"github.com/cuemby/clm/pkg/queue"
	"github.com/cuemby/clm/pkg/types"
)

var apiLog = log.WithComponent("workerapi")

// Server is the in-process REST bridge container-backed workers use
// instead of touching the queue database directly.
type Server struct {
	queue   *queue.Queue
	workers *lifecycle.WorkerStore
	cache   *cache.ResultCache

	httpServer *http.Server
	listener   net.Listener
}

// New wires a Server over the given queue, worker store and result
// cache. Construct one per build session; Start binds the listener.
func New(q *queue.Queue, workers *lifecycle.WorkerStore, resultCache *cache.ResultCache) *Server {
	s := &Server{queue: q, workers: workers, cache: resultCache}

	r := mux.NewRouter()
	r.HandleFunc("/api/worker/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/api/worker/activate", s.handleActivate).Methods(http.MethodPost)
	r.HandleFunc("/api/worker/jobs/claim", s.handleClaim).Methods(http.MethodPost)
	r.HandleFunc("/api/worker/jobs/{id}/status", s.handleUpdateStatus).Methods(http.MethodPost)
	r.HandleFunc("/api/worker/jobs/{id}/cancelled", s.handleIsCancelled).Methods(http.MethodGet)
	r.HandleFunc("/api/worker/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	r.HandleFunc("/api/worker/unregister", s.handleUnregister).Methods(http.MethodPost)
	r.HandleFunc("/api/worker/cache/add", s.handleCacheAdd).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/ready", metrics.ReadyHandler()).Methods(http.MethodGet)
	r.Handle("/live", metrics.LivenessHandler()).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler())

	metrics.RegisterComponent("queue", true, "")

	r.Use(s.instrument)

	s.httpServer = &http.Server{
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start binds addr and serves in the background, returning only after
// the listener is bound so callers know the port is live before
// proceeding, mirroring the teacher's blocking health server start but
// split so Shutdown has something to call.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = ln

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			apiLog.Error().Err(err).Msg("worker api server stopped unexpectedly")
		}
	}()

	apiLog.Info().Str("addr", ln.Addr().String()).Msg("worker api listening")
	return nil
}

// Addr returns the bound address, valid only after Start succeeds.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown gracefully stops the server, honoring ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		route := r.URL.Path
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		timer.ObserveDurationVec(metrics.WorkerAPIRequestDuration, route)
		metrics.WorkerAPIRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}

// statusRecorder remembers the status code a handler wrote so instrument
// can label its request counter with it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func pathInt64(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}

type registerRequest struct {
	Kind          types.JobKind       `json:"kind"`
	ExecutionMode types.ExecutionMode `json:"execution_mode"`
	ContainerID   string              `json:"container_id"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id, err := s.workers.Register(r.Context(), req.Kind, req.ContainerID, req.ExecutionMode)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = s.workers.RecordEvent(r.Context(), types.EventWorkerRegistered, &id, req.Kind, req.ExecutionMode, "registered via worker api", nil)
	writeJSON(w, http.StatusOK, map[string]int64{"worker_id": id})
}

type activateRequest struct {
	WorkerID    int64  `json:"worker_id"`
	ContainerID string `json:"container_id"`
	ParentPID   int    `json:"parent_pid"`
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req activateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.workers.Activate(r.Context(), req.WorkerID, req.ContainerID, req.ParentPID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type claimRequest struct {
	Kind     types.JobKind `json:"kind"`
	WorkerID int64         `json:"worker_id"`
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	job, err := s.queue.Claim(r.Context(), req.Kind, req.WorkerID)
	if errors.Is(err, queue.ErrNoJobAvailable) {
		writeJSON(w, http.StatusNoContent, nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type updateStatusRequest struct {
	Status     types.JobStatus `json:"status"`
	ErrorJSON  string          `json:"error_json"`
	ResultJSON string          `json:"result_json"`
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.queue.UpdateStatus(r.Context(), jobID, req.Status, req.ErrorJSON, req.ResultJSON); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleIsCancelled(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathInt64(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	cancelled, err := s.queue.IsCancelled(r.Context(), jobID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

type heartbeatRequest struct {
	WorkerID int64 `json:"worker_id"`
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.workers.Heartbeat(r.Context(), req.WorkerID); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type unregisterRequest struct {
	WorkerID int64  `json:"worker_id"`
	Reason   string `json:"reason"`
}

func (s *Server) handleUnregister(w http.ResponseWriter, r *http.Request) {
	var req unregisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.workers.SetStatus(r.Context(), req.WorkerID, types.WorkerStatusDead); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	_ = s.workers.RecordEvent(r.Context(), types.EventWorkerStopped, &req.WorkerID, "", "", req.Reason, nil)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type cacheAddRequest struct {
	OutputPath  string          `json:"output_path"`
	ContentHash string          `json:"content_hash"`
	Metadata    json.RawMessage `json:"metadata"`
}

func (s *Server) handleCacheAdd(w http.ResponseWriter, r *http.Request) {
	var req cacheAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.cache.Put(r.Context(), req.OutputPath, req.ContentHash, req.Metadata); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	metrics.HealthHandler()(w, r)
}
