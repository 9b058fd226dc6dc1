package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"followup-escalator/internal/escalation"
	"followup-escalator/internal/models"
	"followup-escalator/internal/queue"
	"followup-escalator/internal/store"
	"followup-escalator/internal/telemetry"
	"followup-escalator/internal/worker"
)

const (
	defaultDLQLimit = 100
	maxDLQLimit     = 1000
)

// JobLedger is the read side of the job ledger.
type JobLedger interface {
	GetJob(ctx context.Context, id string) (models.Job, error)
	AuditTrail(ctx context.Context, jobID string) ([]models.AuditLog, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]models.Job, error)
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// QueueStats reports queue depths.
type QueueStats interface {
	Stats(ctx context.Context) (queue.Stats, error)
}

// DeadLetters revives or discards dead-lettered jobs.
type DeadLetters interface {
	RetryDeadLetter(ctx context.Context, id string) (models.Job, error)
	DiscardDeadLetter(ctx context.Context, id string) error
}

// ScanTrigger runs one overdue scan on demand.
type ScanTrigger interface {
	ScanAndEnqueue(ctx context.Context) escalation.ScanSummary
}

// Pinger is a dependency checked by /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps wires the operator API.
type Deps struct {
	Ledger         JobLedger
	Queue          QueueStats
	DeadLetters    DeadLetters
	Scanner        ScanTrigger
	Checks         map[string]Pinger
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server exposes operator endpoints for the escalation pipeline.
type Server struct {
	deps   Deps
	logger *slog.Logger
}

// New constructs the API server.
func New(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{deps: deps, logger: logger.With("component", "api")}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	if len(s.deps.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.deps.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/healthz", s.handleHealth)
	r.Mount("/metrics", telemetry.Handler())

	r.Get("/stats", s.handleStats)
	r.Get("/jobs/{id}", s.handleGetJob)
	r.Get("/dlq", s.handleDLQ)
	r.Post("/dlq/{id}/retry", s.handleRetry)
	r.Delete("/dlq/{id}", s.handleDiscard)
	r.Post("/scan", s.handleScan)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]string{}
	code := http.StatusOK
	for name, p := range s.deps.Checks {
		if err := p.Ping(r.Context()); err != nil {
			status[name] = err.Error()
			code = http.StatusServiceUnavailable
			continue
		}
		status[name] = "ok"
	}
	overall := "ok"
	if code != http.StatusOK {
		overall = "degraded"
	}
	writeJSON(w, code, map[string]any{"status": overall, "checks": status})
}

type statsResponse struct {
	Queue  queue.Stats      `json:"queue"`
	Ledger map[string]int64 `json:"ledger"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	qs, err := s.deps.Queue.Stats(r.Context())
	if err != nil {
		s.fail(w, r, "read queue stats", err)
		return
	}
	counts, err := s.deps.Ledger.CountByStatus(r.Context())
	if err != nil {
		s.fail(w, r, "count jobs", err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Queue: qs, Ledger: counts})
}

type jobResponse struct {
	Job   models.Job        `json:"job"`
	Audit []models.AuditLog `json:"audit"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.deps.Ledger.GetJob(r.Context(), id)
	if errors.Is(err, store.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.fail(w, r, "get job", err)
		return
	}
	audit, err := s.deps.Ledger.AuditTrail(r.Context(), id)
	if err != nil {
		s.fail(w, r, "read audit trail", err)
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{Job: job, Audit: audit})
}

// handleDLQ lists dead-lettered jobs with their last error.
func (s *Server) handleDLQ(w http.ResponseWriter, r *http.Request) {
	limit := defaultDLQLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxDLQLimit)
	}
	jobs, err := s.deps.Ledger.ListByStatus(r.Context(), models.StatusDeadLetter, limit)
	if err != nil {
		s.fail(w, r, "list dead letters", err)
		return
	}
	if jobs == nil {
		jobs = []models.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": jobs, "count": len(jobs)})
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.deps.DeadLetters.RetryDeadLetter(r.Context(), id)
	switch {
	case errors.Is(err, worker.ErrNotDeadLettered):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, store.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
		return
	case err != nil:
		s.fail(w, r, "retry dead letter", err)
		return
	}
	s.logger.InfoContext(r.Context(), "dead letter retried via api", "job_id", id)
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleDiscard(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.deps.DeadLetters.DiscardDeadLetter(r.Context(), id)
	switch {
	case errors.Is(err, worker.ErrNotDeadLettered):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, store.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
		return
	case err != nil:
		s.fail(w, r, "discard dead letter", err)
		return
	}
	s.logger.InfoContext(r.Context(), "dead letter discarded via api", "job_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	summary := s.deps.Scanner.ScanAndEnqueue(r.Context())
	if summary.Err != nil {
		s.logger.ErrorContext(r.Context(), "manual scan failed", "error", summary.Err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"summary": summary, "error": summary.Err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summary": summary})
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	s.logger.ErrorContext(r.Context(), op+" failed", "error", err)
	writeError(w, http.StatusInternalServerError, op+" failed")
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
