package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"followup-escalator/internal/escalation"
	"followup-escalator/internal/models"
	"followup-escalator/internal/queue"
	"followup-escalator/internal/store"
	"followup-escalator/internal/worker"
)

type fakeLedger struct {
	jobs  map[string]models.Job
	audit map[string][]models.AuditLog
	err   error
}

func (f *fakeLedger) GetJob(_ context.Context, id string) (models.Job, error) {
	if f.err != nil {
		return models.Job{}, f.err
	}
	job, ok := f.jobs[id]
	if !ok {
		return models.Job{}, store.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeLedger) AuditTrail(_ context.Context, id string) ([]models.AuditLog, error) {
	return f.audit[id], nil
}

func (f *fakeLedger) ListByStatus(_ context.Context, status string, limit int) ([]models.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Job
	for _, j := range f.jobs {
		if j.Status == status && len(out) < limit {
			out = append(out, j)
		}
	}
	return out, nil
}

func (f *fakeLedger) CountByStatus(context.Context) (map[string]int64, error) {
	out := map[string]int64{}
	for _, j := range f.jobs {
		out[j.Status]++
	}
	return out, nil
}

type fakeQueue struct{ stats queue.Stats }

func (f fakeQueue) Stats(context.Context) (queue.Stats, error) { return f.stats, nil }

type fakeDeadLetters struct {
	ledger *fakeLedger
	called []string
}

func (f *fakeDeadLetters) RetryDeadLetter(_ context.Context, id string) (models.Job, error) {
	f.called = append(f.called, id)
	job, ok := f.ledger.jobs[id]
	if !ok {
		return models.Job{}, store.ErrJobNotFound
	}
	if job.Status != models.StatusDeadLetter {
		return models.Job{}, worker.ErrNotDeadLettered
	}
	job.Status = models.StatusQueued
	job.Attempts = 0
	f.ledger.jobs[id] = job
	return job, nil
}

func (f *fakeDeadLetters) DiscardDeadLetter(_ context.Context, id string) error {
	f.called = append(f.called, id)
	job, ok := f.ledger.jobs[id]
	if !ok {
		return store.ErrJobNotFound
	}
	if job.Status != models.StatusDeadLetter {
		return worker.ErrNotDeadLettered
	}
	delete(f.ledger.jobs, id)
	return nil
}

type fakeScanner struct{ summary escalation.ScanSummary }

func (f fakeScanner) ScanAndEnqueue(context.Context) escalation.ScanSummary { return f.summary }

type pingFunc func(context.Context) error

func (p pingFunc) Ping(ctx context.Context) error { return p(ctx) }

func newTestServer(t *testing.T, deps Deps) (*httptest.Server, *fakeLedger) {
	t.Helper()
	ledger, _ := deps.Ledger.(*fakeLedger)
	if ledger == nil {
		ledger = &fakeLedger{jobs: map[string]models.Job{}}
		deps.Ledger = ledger
	}
	if deps.Queue == nil {
		deps.Queue = fakeQueue{}
	}
	if deps.DeadLetters == nil {
		deps.DeadLetters = &fakeDeadLetters{ledger: ledger}
	}
	if deps.Scanner == nil {
		deps.Scanner = fakeScanner{}
	}
	srv := httptest.NewServer(New(deps).Router())
	t.Cleanup(srv.Close)
	return srv, ledger
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, Deps{Checks: map[string]Pinger{
		"redis":    pingFunc(func(context.Context) error { return nil }),
		"postgres": pingFunc(func(context.Context) error { return errors.New("connection refused") }),
	}})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decode(t, resp, &body)
	assert.Equal(t, "degraded", body.Status)
	assert.Equal(t, "ok", body.Checks["redis"])
	assert.Equal(t, "connection refused", body.Checks["postgres"])
}

func TestGetJob(t *testing.T) {
	ledger := &fakeLedger{
		jobs: map[string]models.Job{"j1": {ID: "j1", Status: models.StatusSucceeded}},
		audit: map[string][]models.AuditLog{"j1": {
			{JobID: "j1", Event: "enqueued", Recorded: time.Now()},
			{JobID: "j1", Event: "succeeded", Recorded: time.Now()},
		}},
	}
	srv, _ := newTestServer(t, Deps{Ledger: ledger})

	resp, err := http.Get(srv.URL + "/jobs/j1")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body jobResponse
	decode(t, resp, &body)
	assert.Equal(t, "j1", body.Job.ID)
	require.Len(t, body.Audit, 2)
	assert.Equal(t, "succeeded", body.Audit[1].Event)

	resp, err = http.Get(srv.URL + "/jobs/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetJob_StoreError(t *testing.T) {
	srv, _ := newTestServer(t, Deps{Ledger: &fakeLedger{err: errors.New("pool closed")}})

	resp, err := http.Get(srv.URL + "/jobs/j1")
	require.NoError(t, err)
	var body map[string]string
	decode(t, resp, &body)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.NotContains(t, body["error"], "pool closed")
}

func TestDLQ_ListAndRetry(t *testing.T) {
	ledger := &fakeLedger{jobs: map[string]models.Job{
		"dead":  {ID: "dead", Status: models.StatusDeadLetter, Attempts: 3},
		"alive": {ID: "alive", Status: models.StatusQueued},
	}}
	srv, _ := newTestServer(t, Deps{Ledger: ledger})

	resp, err := http.Get(srv.URL + "/dlq")
	require.NoError(t, err)
	var list struct {
		Items []models.Job `json:"items"`
		Count int          `json:"count"`
	}
	decode(t, resp, &list)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "dead", list.Items[0].ID)

	resp, err = http.Post(srv.URL+"/dlq/dead/retry", "application/json", nil)
	require.NoError(t, err)
	var job models.Job
	decode(t, resp, &job)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, models.StatusQueued, job.Status)
	assert.Zero(t, job.Attempts)

	resp, err = http.Post(srv.URL+"/dlq/alive/retry", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/dlq/ghost/retry", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDLQ_Discard(t *testing.T) {
	ledger := &fakeLedger{jobs: map[string]models.Job{
		"dead":  {ID: "dead", Status: models.StatusDeadLetter, Attempts: 3},
		"alive": {ID: "alive", Status: models.StatusQueued},
	}}
	srv, _ := newTestServer(t, Deps{Ledger: ledger})

	del := func(id string) int {
		req, err := http.NewRequest(http.MethodDelete, srv.URL+"/dlq/"+id, nil)
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusNoContent, del("dead"))
	assert.NotContains(t, ledger.jobs, "dead")
	assert.Equal(t, http.StatusNotFound, del("dead"))
	assert.Equal(t, http.StatusConflict, del("alive"))
	assert.Contains(t, ledger.jobs, "alive")
}

func TestDLQ_RejectsBadLimit(t *testing.T) {
	srv, _ := newTestServer(t, Deps{})

	resp, err := http.Get(srv.URL + "/dlq?limit=abc")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/dlq?limit=5")
	require.NoError(t, err)
	var list struct {
		Items []models.Job `json:"items"`
	}
	decode(t, resp, &list)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, list.Items)
}

func TestScan(t *testing.T) {
	srv, _ := newTestServer(t, Deps{Scanner: fakeScanner{summary: escalation.ScanSummary{Found: 3, Enqueued: 2, Duplicates: 1}}})

	resp, err := http.Post(srv.URL+"/scan", "application/json", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Summary escalation.ScanSummary `json:"summary"`
	}
	decode(t, resp, &body)
	assert.Equal(t, 3, body.Summary.Found)
	assert.Equal(t, 2, body.Summary.Enqueued)
	assert.Equal(t, 1, body.Summary.Duplicates)
}

func TestScan_StoreFailure(t *testing.T) {
	srv, _ := newTestServer(t, Deps{Scanner: fakeScanner{summary: escalation.ScanSummary{Err: errors.New("db down")}}})

	resp, err := http.Post(srv.URL+"/scan", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestStats(t *testing.T) {
	ledger := &fakeLedger{jobs: map[string]models.Job{
		"a": {ID: "a", Status: models.StatusSucceeded},
		"b": {ID: "b", Status: models.StatusSucceeded},
		"c": {ID: "c", Status: models.StatusDeadLetter},
	}}
	srv, _ := newTestServer(t, Deps{Ledger: ledger, Queue: fakeQueue{stats: queue.Stats{Ready: 4, Dead: 1}}})

	resp, err := http.Get(srv.URL + "/stats")
	require.NoError(t, err)
	var body statsResponse
	decode(t, resp, &body)
	assert.Equal(t, int64(4), body.Queue.Ready)
	assert.Equal(t, int64(2), body.Ledger[models.StatusSucceeded])
	assert.Equal(t, int64(1), body.Ledger[models.StatusDeadLetter])
}

func TestCORS(t *testing.T) {
	srv, _ := newTestServer(t, Deps{AllowedOrigins: []string{"https://ops.example.com"}})

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/dlq", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodDelete)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "https://ops.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), http.MethodDelete)
}
