package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"async-task-api/internal/config"
	"async-task-api/internal/models"
	"async-task-api/internal/queue"
	"async-task-api/internal/ratelimit"
	"async-task-api/internal/store"
	"async-task-api/internal/telemetry"
)

// Server wires the HTTP handlers over the task engine.
type Server struct {
	cfg     config.Config
	store   *store.Store
	queue   *queue.MemoryQueue
	limiter *ratelimit.SlidingWindow
	logger  *slog.Logger
}

// New constructs the API server.
func New(cfg config.Config, st *store.Store, q *queue.MemoryQueue, limiter *ratelimit.SlidingWindow, logger *slog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		store:   st,
		queue:   q,
		limiter: limiter,
		logger:  logger,
	}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Route("/api/v1/tasks", func(r chi.Router) {
		r.Post("/", s.handleSubmit)
		r.Get("/", s.handleList)
		r.Get("/{id}", s.handleGet)
		r.Delete("/{id}", s.handleCancel)
	})
	return r
}

type submitRequest struct {
	TaskType   string          `json:"task_type"`
	Parameters json.RawMessage `json:"parameters"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	client := clientKey(r)
	allowed := s.limiter.Allow(client)
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(s.limiter.Remaining(client)))
	if !allowed {
		telemetry.RateLimitRejects.Inc()
		s.logger.Warn("submission rate limited", "client", client)
		writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many requests")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "invalid json body")
		return
	}
	if err := models.ValidateParameters(req.TaskType, req.Parameters); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return
	}

	task := s.store.Create(req.TaskType, req.Parameters)
	if err := s.queue.Enqueue(task.ID); err != nil {
		// The record must not outlive a failed admission.
		s.store.Discard(task.ID)
		s.logger.Warn("enqueue rejected", "client", client, "error", err)
		writeError(w, http.StatusServiceUnavailable, "queue_full", "Task queue is full. Try again later.")
		return
	}

	telemetry.TasksSubmitted.Inc()
	telemetry.QueueDepthGauge.Set(float64(s.queue.Depth()))
	s.logger.Info("task submitted", "task_id", task.ID, "task_type", task.Type, "client", client)
	writeJSON(w, http.StatusAccepted, task)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		// A malformed id is indistinguishable from an unknown one.
		writeError(w, http.StatusNotFound, "not_found", "Task not found")
		return
	}

	wait, timeout := waitParams(r, s.cfg.MaxWaitTimeout)

	var task models.Task
	if wait {
		task, err = s.store.WaitForChange(r.Context(), id, timeout)
	} else {
		task, err = s.store.Get(id)
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Task not found")
	case err != nil:
		// Client went away mid-wait; nothing useful to write.
		return
	default:
		writeJSON(w, http.StatusOK, task)
	}
}

// handleList streams tasks as JSON Lines in creation order.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	statusFilter := r.URL.Query().Get("status")
	if statusFilter != "" && !models.IsStatus(statusFilter) {
		writeError(w, http.StatusBadRequest, "invalid_input", "unknown status filter")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_input", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	w.Header().Set("Content-Type", "application/jsonl")
	w.WriteHeader(http.StatusOK)

	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	for _, task := range s.store.List(statusFilter, limit) {
		if err := enc.Encode(task); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "Task not found")
		return
	}

	task, err := s.store.RequestCancel(id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "Task not found")
		return
	case errors.Is(err, store.ErrAlreadyTerminal):
		// Idempotent no-op: report the record as it stands.
		writeJSON(w, http.StatusOK, task)
		return
	}

	if task.Status == models.StatusCancelled {
		// Cancelled directly from queued, no worker involved.
		telemetry.TasksCancelled.Inc()
	}
	s.logger.Info("cancel requested", "task_id", id, "status", task.Status)

	if wait, timeout := waitParams(r, s.cfg.MaxWaitTimeout); wait && task.Status == models.StatusProcessing {
		// The worker acknowledges at its next checkpoint; wait for that
		// transition up to the timeout.
		if fresh, err := s.store.WaitForChange(r.Context(), id, timeout); err == nil {
			task = fresh
		}
	}
	writeJSON(w, http.StatusOK, task)
}

// waitParams reads the wait flag and timeout (seconds) from the query string.
// The store caps the timeout again; the default here is the cap itself.
func waitParams(r *http.Request, def time.Duration) (bool, time.Duration) {
	q := r.URL.Query()
	wait, _ := strconv.ParseBool(q.Get("wait"))
	timeout := def
	if raw := q.Get("timeout"); raw != "" {
		if secs, err := strconv.ParseFloat(raw, 64); err == nil && secs > 0 {
			timeout = time.Duration(secs * float64(time.Second))
		}
	}
	return wait, timeout
}

// clientKey identifies the submitting client: the first X-Forwarded-For hop
// when present, otherwise the connection's remote address. The core treats it
// as an opaque string.
func clientKey(r *http.Request) string {
	if v := r.Header.Get("X-Forwarded-For"); v != "" {
		if first, _, ok := strings.Cut(v, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(v)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Code: code, Message: message})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
