package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odoobridge/sync-backend/internal/queue"
	"github.com/odoobridge/sync-backend/pkg/db/models"
	"github.com/odoobridge/sync-backend/pkg/logger"
)

type testQueueService struct {
	enqueueFn     func(ctx context.Context, params queue.EnqueueParams) (uuid.UUID, error)
	statsFn       func(ctx context.Context) (queue.Stats, error)
	pendingFn     func(ctx context.Context, module, entityType string) ([]models.SyncJob, error)
	retryFailedFn func(ctx context.Context) (int64, error)
	cancelFn      func(ctx context.Context, id uuid.UUID) (bool, error)
}

func (s *testQueueService) Enqueue(ctx context.Context, params queue.EnqueueParams) (uuid.UUID, error) {
	if s.enqueueFn != nil {
		return s.enqueueFn(ctx, params)
	}
	return uuid.Nil, nil
}

func (s *testQueueService) GetStats(ctx context.Context) (queue.Stats, error) {
	if s.statsFn != nil {
		return s.statsFn(ctx)
	}
	return queue.Stats{}, nil
}

func (s *testQueueService) Pending(ctx context.Context, module, entityType string) ([]models.SyncJob, error) {
	if s.pendingFn != nil {
		return s.pendingFn(ctx, module, entityType)
	}
	return nil, nil
}

func (s *testQueueService) RetryFailed(ctx context.Context) (int64, error) {
	if s.retryFailedFn != nil {
		return s.retryFailedFn(ctx)
	}
	return 0, nil
}

func (s *testQueueService) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	if s.cancelFn != nil {
		return s.cancelFn(ctx, id)
	}
	return false, nil
}

type testEngine struct {
	processed int
	err       error
	called    int
}

func (e *testEngine) ProcessQueue(ctx context.Context) (int, error) {
	e.called++
	return e.processed, e.err
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "test", Output: io.Discard})
}

func addRouteParam(r *http.Request, key, value string) *http.Request {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, routeCtx))
}

func TestSyncEnqueueAccepted(t *testing.T) {
	jobID := uuid.New()
	svc := &testQueueService{
		enqueueFn: func(ctx context.Context, params queue.EnqueueParams) (uuid.UUID, error) {
			if params.Module != "sales" {
				t.Fatalf("unexpected module %q", params.Module)
			}
			if params.EntityType != "order" {
				t.Fatalf("unexpected entity type %q", params.EntityType)
			}
			return jobID, nil
		},
	}

	body := `{"module":"sales","entity_type":"order","local_id":42}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/jobs", strings.NewReader(body))
	resp := httptest.NewRecorder()

	SyncEnqueue(svc, testLogger())(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 got %d", resp.Code)
	}
	var envelope struct {
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data["job_id"] != jobID.String() {
		t.Fatalf("expected job id %s, got %s", jobID, envelope.Data["job_id"])
	}
}

func TestSyncEnqueueRejectsMalformedBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/jobs", strings.NewReader("{not json"))
	resp := httptest.NewRecorder()

	SyncEnqueue(&testQueueService{}, testLogger())(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestSyncRunNowReportsProcessedCount(t *testing.T) {
	engine := &testEngine{processed: 7}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/run", nil)
	resp := httptest.NewRecorder()

	SyncRunNow(engine, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	if engine.called != 1 {
		t.Fatalf("expected engine called once, got %d", engine.called)
	}
	var envelope struct {
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data["processed"] != float64(7) {
		t.Fatalf("expected processed 7, got %v", envelope.Data["processed"])
	}
}

func TestSyncStats(t *testing.T) {
	svc := &testQueueService{
		statsFn: func(ctx context.Context) (queue.Stats, error) {
			return queue.Stats{Pending: 3, Failed: 1, Total: 4}, nil
		},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/stats", nil)
	resp := httptest.NewRecorder()

	SyncStats(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	var envelope struct {
		Data queue.Stats `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data.Pending != 3 || envelope.Data.Total != 4 {
		t.Fatalf("unexpected stats %+v", envelope.Data)
	}
}

func TestSyncPendingPassesFilters(t *testing.T) {
	svc := &testQueueService{
		pendingFn: func(ctx context.Context, module, entityType string) ([]models.SyncJob, error) {
			if module != "sales" || entityType != "order" {
				t.Fatalf("unexpected filters %q %q", module, entityType)
			}
			return []models.SyncJob{{ID: uuid.New()}}, nil
		},
	}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sync/jobs?module=sales&entity_type=order", nil)
	resp := httptest.NewRecorder()

	SyncPending(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	var envelope struct {
		Data struct {
			Count int `json:"count"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data.Count != 1 {
		t.Fatalf("expected count 1, got %d", envelope.Data.Count)
	}
}

func TestSyncRetryFailed(t *testing.T) {
	svc := &testQueueService{
		retryFailedFn: func(ctx context.Context) (int64, error) { return 5, nil },
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/sync/retry-failed", nil)
	resp := httptest.NewRecorder()

	SyncRetryFailed(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
	var envelope struct {
		Data map[string]int64 `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if envelope.Data["reset"] != 5 {
		t.Fatalf("expected reset 5, got %d", envelope.Data["reset"])
	}
}

func TestSyncCancelNotFound(t *testing.T) {
	svc := &testQueueService{
		cancelFn: func(ctx context.Context, id uuid.UUID) (bool, error) { return false, nil },
	}
	id := uuid.NewString()
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/sync/jobs/"+id, nil)
	req = addRouteParam(req, "jobId", id)
	resp := httptest.NewRecorder()

	SyncCancel(svc, testLogger())(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestSyncCancelInvalidID(t *testing.T) {
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/sync/jobs/nope", nil)
	req = addRouteParam(req, "jobId", "nope")
	resp := httptest.NewRecorder()

	SyncCancel(&testQueueService{}, testLogger())(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
}

func TestSyncCancelSuccess(t *testing.T) {
	id := uuid.New()
	svc := &testQueueService{
		cancelFn: func(ctx context.Context, got uuid.UUID) (bool, error) {
			if got != id {
				t.Fatalf("unexpected id %s", got)
			}
			return true, nil
		},
	}
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/sync/jobs/"+id.String(), nil)
	req = addRouteParam(req, "jobId", id.String())
	resp := httptest.NewRecorder()

	SyncCancel(svc, testLogger())(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", resp.Code)
	}
}
