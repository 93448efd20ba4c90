package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/oakmont/leadpipe/internal/domain"
)

type fakeStore struct {
	job    *domain.Job
	jobErr error
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func (f *fakeStore) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	if f.jobErr != nil {
		return nil, f.jobErr
	}
	if f.job != nil && f.job.ID == id {
		return f.job, nil
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeStore) CountJobsByStatus(ctx context.Context) (map[string]int, error) {
	return map[string]int{"pending": 2, "completed": 5}, nil
}

type fakeProducer struct {
	runID string
	jobs  int
}

func (f *fakeProducer) Produce(ctx context.Context, runID string, ingestedAt time.Time) (int, error) {
	f.runID = runID
	return f.jobs, nil
}

func newTestServer(t *testing.T) (*Server, *fakeProducer, *fakeStore) {
	t.Helper()
	st := &fakeStore{}
	pr := &fakeProducer{jobs: 4}
	return NewServer(st, pr, nil, "hush", zap.NewNop()), pr, st
}

func TestWebhookRejectsBadSecret(t *testing.T) {
	srv, pr, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/ingestion", strings.NewReader(`{"runId":"r1"}`))
	req.Header.Set(webhookSecretHeader, "wrong")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, pr.runID)
}

func TestWebhookSeedsJobs(t *testing.T) {
	srv, pr, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/ingestion",
		strings.NewReader(`{"runId":"r1","ingestedAt":"2026-08-23T02:00:00Z"}`))
	req.Header.Set(webhookSecretHeader, "hush")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "r1", pr.runID)
	assert.Contains(t, rec.Body.String(), `"jobs":4`)
}

func TestWebhookRequiresRunID(t *testing.T) {
	srv, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/ingestion", strings.NewReader(`{}`))
	req.Header.Set(webhookSecretHeader, "hush")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthIncludesJobCounts(t *testing.T) {
	srv, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"pending":2`)
}

func TestGetJobProgress(t *testing.T) {
	srv, _, st := newTestServer(t)
	st.job = &domain.Job{
		ID:       "j1",
		Type:     domain.JobTypeDeliverLeads,
		Status:   domain.JobInProgress,
		Attempts: 1,
		Progress: &domain.Progress{Processed: 3, Total: 10, Status: "in_progress"},
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/j1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"processed":3`)

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/missing", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetJobStoreFailureIsNot404(t *testing.T) {
	srv, _, st := newTestServer(t)
	st.jobErr = assert.AnError

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/j1", nil))

	// A database outage must not read as "job not found" to the dashboard.
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
