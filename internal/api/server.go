// Package api exposes the HTTP interface of the harvester: health probes,
// Prometheus metrics and read-only status views over plans, tasks and
// content storage.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pncp-tools/harvester/internal/harvest"
	"github.com/pncp-tools/harvester/internal/metrics"
	"github.com/pncp-tools/harvester/internal/status"
)

// Server wires HTTP handlers to the stores and the status aggregator.
type Server struct {
	router   chi.Router
	tasks    harvest.TaskStore
	plans    harvest.PlanStore
	contents harvest.ContentStore
	status   *status.Aggregator
	ready    func(ctx context.Context) error
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes. The ready
// function is probed by /readyz; pass nil when there is no downstream to
// check.
func NewServer(
	tasks harvest.TaskStore,
	plans harvest.PlanStore,
	contents harvest.ContentStore,
	aggregator *status.Aggregator,
	ready func(ctx context.Context) error,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		tasks:    tasks,
		plans:    plans,
		contents: contents,
		status:   aggregator,
		ready:    ready,
		logger:   logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/plans", func(r chi.Router) {
			r.Get("/latest", s.latestPlan)
			r.Get("/{fingerprint}/summary", s.planSummary)
		})
		r.Route("/tasks/{task_id}", func(r chi.Router) {
			r.Get("/status", s.taskStatus)
		})
		r.Get("/content/stats", s.contentStats)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, "dependency not ready")
			return
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) latestPlan(w http.ResponseWriter, r *http.Request) {
	meta, err := s.plans.LatestPlan(r.Context())
	if errors.Is(err, harvest.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "no plan recorded")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load plan")
		return
	}
	s.writeJSON(w, http.StatusOK, meta)
}

func (s *Server) planSummary(w http.ResponseWriter, r *http.Request) {
	fingerprint := chi.URLParam(r, "fingerprint")
	summary, err := s.status.PlanSummary(r.Context(), fingerprint)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to aggregate plan")
		return
	}
	if summary.Total == 0 {
		s.writeError(w, http.StatusNotFound, "plan not found")
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) taskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "task_id")
	task, err := s.tasks.GetTask(r.Context(), taskID)
	if errors.Is(err, harvest.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "task not found")
		return
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load task")
		return
	}
	st, err := s.status.TaskStatus(r.Context(), taskID)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to derive task status")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"task":   task,
		"status": st,
	})
}

func (s *Server) contentStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.contents.Stats(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to load content stats")
		return
	}
	metrics.SetBytesSaved(stats.BytesSaved())
	s.writeJSON(w, http.StatusOK, map[string]any{
		"distinct_payloads": stats.DistinctPayloads,
		"physical_bytes":    stats.PhysicalBytes,
		"logical_bytes":     stats.LogicalBytes,
		"bytes_saved":       stats.BytesSaved(),
	})
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}
