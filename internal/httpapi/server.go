// Package httpapi exposes the ingestion webhook that seeds delivery jobs,
// plus the health and job-progress read endpoints the dashboard polls.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/oakmont/leadpipe/internal/domain"
)

const webhookSecretHeader = "X-Webhook-Secret"

type Store interface {
	Ping(ctx context.Context) error
	GetJob(ctx context.Context, id string) (*domain.Job, error)
	CountJobsByStatus(ctx context.Context) (map[string]int, error)
}

type Producer interface {
	Produce(ctx context.Context, runID string, ingestedAt time.Time) (int, error)
}

type Broker interface {
	Ping(ctx context.Context) error
}

type Server struct {
	store    Store
	producer Producer
	broker   Broker // nil in fallback mode
	secret   string
	log      *zap.Logger
}

func NewServer(store Store, producer Producer, broker Broker, secret string, log *zap.Logger) *Server {
	return &Server{store: store, producer: producer, broker: broker, secret: secret, log: log.Named("api")}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Post("/webhooks/ingestion", s.handleIngestion)
	r.Get("/healthz", s.handleHealth)
	r.Get("/v1/jobs/{id}", s.handleGetJob)
	return r
}

type ingestionRequest struct {
	RunID      string    `json:"runId"`
	IngestedAt time.Time `json:"ingestedAt"`
}

func (s *Server) handleIngestion(w http.ResponseWriter, r *http.Request) {
	got := r.Header.Get(webhookSecretHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(s.secret)) != 1 {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid webhook secret"})
		return
	}

	var req ingestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RunID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "runId is required"})
		return
	}
	if req.IngestedAt.IsZero() {
		req.IngestedAt = time.Now().UTC()
	}

	jobs, err := s.producer.Produce(r.Context(), req.RunID, req.IngestedAt)
	if err != nil {
		s.log.Error("produce failed", zap.String("runId", req.RunID), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "enqueue failed"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"runId": req.RunID, "jobs": jobs})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	out := map[string]any{"status": "ok"}
	status := http.StatusOK

	if err := s.store.Ping(ctx); err != nil {
		out["status"] = "degraded"
		out["postgres"] = err.Error()
		status = http.StatusServiceUnavailable
	}
	if s.broker != nil {
		if err := s.broker.Ping(ctx); err != nil {
			out["status"] = "degraded"
			out["redis"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	if counts, err := s.store.CountJobsByStatus(ctx); err == nil {
		out["jobs"] = counts
	}
	writeJSON(w, status, out)
}

type jobResponse struct {
	ID        string           `json:"id"`
	Type      string           `json:"type"`
	Status    domain.JobStatus `json:"status"`
	Attempts  int              `json:"attempts"`
	LastError *string          `json:"lastError,omitempty"`
	Progress  *domain.Progress `json:"progress,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := s.store.GetJob(r.Context(), id)
	if errors.Is(err, pgx.ErrNoRows) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return
	}
	if err != nil {
		s.log.Error("job load failed", zap.String("jobId", id), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "job lookup failed"})
		return
	}
	writeJSON(w, http.StatusOK, jobResponse{
		ID:        job.ID,
		Type:      job.Type,
		Status:    job.Status,
		Attempts:  job.Attempts,
		LastError: job.LastError,
		Progress:  job.Progress,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
