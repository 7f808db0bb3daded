package engine

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/odoobridge/sync-backend/internal/queue"
	"github.com/odoobridge/sync-backend/pkg/db/models"
	"github.com/odoobridge/sync-backend/pkg/enums"
	"github.com/odoobridge/sync-backend/pkg/logger"
)

type statusWrite struct {
	id     uuid.UUID
	status enums.JobStatus
	extra  map[string]any
}

type fakeJobQueue struct {
	due      []models.SyncJob
	fetchErr error
	writes   []statusWrite
}

func (f *fakeJobQueue) FetchDue(ctx context.Context, limit int) ([]models.SyncJob, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if limit < len(f.due) {
		return f.due[:limit], nil
	}
	return f.due, nil
}

func (f *fakeJobQueue) UpdateStatus(ctx context.Context, id uuid.UUID, status enums.JobStatus, extra map[string]any) error {
	f.writes = append(f.writes, statusWrite{id: id, status: status, extra: extra})
	return nil
}

func (f *fakeJobQueue) GetStats(ctx context.Context) (queue.Stats, error) {
	return queue.Stats{}, nil
}

// lastWrite returns the final status write for a job id.
func (f *fakeJobQueue) lastWrite(id uuid.UUID) *statusWrite {
	for i := len(f.writes) - 1; i >= 0; i-- {
		if f.writes[i].id == id {
			return &f.writes[i]
		}
	}
	return nil
}

type fakeQueueLock struct {
	busy     bool
	acquires int
	releases int
}

func (f *fakeQueueLock) Acquire(ctx context.Context) (bool, error) {
	f.acquires++
	return !f.busy, nil
}

func (f *fakeQueueLock) Release(ctx context.Context) error {
	f.releases++
	return nil
}

type fakeFlusher struct{ flushes int }

func (f *fakeFlusher) FlushCache() { f.flushes++ }

type fakeNotifier struct {
	failures []string
	resets   int
}

func (f *fakeNotifier) RecordFailure(ctx context.Context, message string) {
	f.failures = append(f.failures, message)
}

func (f *fakeNotifier) Reset() { f.resets++ }

type scriptedModule struct {
	push func(ctx context.Context, entityType string, action enums.SyncAction, localID, remoteID int64, payload json.RawMessage) (Result, error)
	pull func(ctx context.Context, entityType string, action enums.SyncAction, remoteID, localID int64, payload json.RawMessage) (Result, error)
}

func (m *scriptedModule) PushToOdoo(ctx context.Context, entityType string, action enums.SyncAction, localID, remoteID int64, payload json.RawMessage) (Result, error) {
	if m.push != nil {
		return m.push(ctx, entityType, action, localID, remoteID, payload)
	}
	return Result{Success: true}, nil
}

func (m *scriptedModule) PullFromOdoo(ctx context.Context, entityType string, action enums.SyncAction, remoteID, localID int64, payload json.RawMessage) (Result, error) {
	if m.pull != nil {
		return m.pull(ctx, entityType, action, remoteID, localID, payload)
	}
	return Result{Success: true}, nil
}

func testJob(mutate func(*models.SyncJob)) models.SyncJob {
	job := models.SyncJob{
		ID:          uuid.New(),
		Module:      "sales",
		EntityType:  "order",
		Direction:   enums.DirectionToRemote,
		Action:      enums.ActionUpdate,
		LocalID:     1,
		Status:      enums.JobStatusPending,
		MaxAttempts: 3,
		Priority:    5,
	}
	if mutate != nil {
		mutate(&job)
	}
	return job
}

func newEngine(t *testing.T, q *fakeJobQueue, lock *fakeQueueLock, registry Registry, notifier *fakeNotifier) *Service {
	t.Helper()
	params := ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		Queue:    q,
		Lock:     lock,
		Registry: registry,
	}
	if notifier != nil {
		params.Notifier = notifier
	}
	svc, err := NewService(params)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestProcessQueueCompletesSuccessfulJobs(t *testing.T) {
	jobA := testJob(nil)
	jobB := testJob(func(j *models.SyncJob) { j.LocalID = 2 })
	q := &fakeJobQueue{due: []models.SyncJob{jobA, jobB}}
	lock := &fakeQueueLock{}
	notifier := &fakeNotifier{}
	module := &scriptedModule{
		push: func(ctx context.Context, entityType string, action enums.SyncAction, localID, remoteID int64, payload json.RawMessage) (Result, error) {
			return Result{Success: true, EntityID: 100 + localID}, nil
		},
	}
	svc := newEngine(t, q, lock, Registry{"sales": module}, notifier)

	processed, err := svc.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}
	if processed != 2 {
		t.Fatalf("expected 2 processed, got %d", processed)
	}
	if lock.releases != 1 {
		t.Fatalf("expected one lock release, got %d", lock.releases)
	}

	write := q.lastWrite(jobA.ID)
	if write == nil || write.status != enums.JobStatusCompleted {
		t.Fatalf("expected completed write for job A, got %+v", write)
	}
	if write.extra["remote_id"] != int64(101) {
		t.Fatalf("expected remote id persisted, got %v", write.extra["remote_id"])
	}
	if notifier.resets != 2 {
		t.Fatalf("expected notifier reset per success, got %d", notifier.resets)
	}
}

func TestProcessQueueLockBusyIsNotAnError(t *testing.T) {
	q := &fakeJobQueue{due: []models.SyncJob{testJob(nil)}}
	lock := &fakeQueueLock{busy: true}
	svc := newEngine(t, q, lock, Registry{}, nil)

	processed, err := svc.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}
	if processed != 0 {
		t.Fatalf("expected 0 processed while busy, got %d", processed)
	}
	if len(q.writes) != 0 {
		t.Fatalf("expected no status writes while busy, got %d", len(q.writes))
	}
	if lock.releases != 0 {
		t.Fatalf("lock must not be released when never acquired")
	}
}

func TestProcessQueueFlushesMappingCacheFirst(t *testing.T) {
	flusher := &fakeFlusher{}
	svc := newEngine(t, &fakeJobQueue{}, &fakeQueueLock{}, Registry{}, nil)
	svc.mappings = flusher

	if _, err := svc.ProcessQueue(context.Background()); err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}
	if flusher.flushes != 1 {
		t.Fatalf("expected one cache flush per cycle, got %d", flusher.flushes)
	}
}

func TestFailedJobSchedulesRetryWithBackoff(t *testing.T) {
	job := testJob(nil) // attempts 0, max 3
	q := &fakeJobQueue{due: []models.SyncJob{job}}
	notifier := &fakeNotifier{}
	module := &scriptedModule{
		push: func(ctx context.Context, entityType string, action enums.SyncAction, localID, remoteID int64, payload json.RawMessage) (Result, error) {
			return Result{Success: false, Message: "odoo timeout", ErrorType: enums.SyncErrorTransient}, nil
		},
	}
	svc := newEngine(t, q, &fakeQueueLock{}, Registry{"sales": module}, notifier)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	processed, err := svc.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}
	if processed != 0 {
		t.Fatalf("expected 0 processed, got %d", processed)
	}

	write := q.lastWrite(job.ID)
	if write == nil || write.status != enums.JobStatusPending {
		t.Fatalf("expected retry (pending) write, got %+v", write)
	}
	if write.extra["attempts"] != 1 {
		t.Fatalf("expected attempts 1, got %v", write.extra["attempts"])
	}
	msg, _ := write.extra["error_message"].(string)
	if !strings.HasPrefix(msg, "[transient] ") || !strings.Contains(msg, "odoo timeout") {
		t.Fatalf("unexpected error message %q", msg)
	}

	// First retry: 2^1 minutes base plus [0,60)s jitter.
	scheduledAt, ok := write.extra["scheduled_at"].(time.Time)
	if !ok {
		t.Fatalf("expected scheduled_at, got %v", write.extra["scheduled_at"])
	}
	delay := scheduledAt.Sub(now)
	if delay < 2*time.Minute || delay >= 3*time.Minute {
		t.Fatalf("first retry delay out of range: %s", delay)
	}
	if len(notifier.failures) != 1 {
		t.Fatalf("expected one recorded failure, got %d", len(notifier.failures))
	}
}

func TestSecondRetryDoublesBackoff(t *testing.T) {
	job := testJob(func(j *models.SyncJob) { j.Attempts = 1 })
	q := &fakeJobQueue{due: []models.SyncJob{job}}
	module := &scriptedModule{
		push: func(ctx context.Context, entityType string, action enums.SyncAction, localID, remoteID int64, payload json.RawMessage) (Result, error) {
			return Result{Success: false, Message: "still down", ErrorType: enums.SyncErrorTransient}, nil
		},
	}
	svc := newEngine(t, q, &fakeQueueLock{}, Registry{"sales": module}, nil)
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	if _, err := svc.ProcessQueue(context.Background()); err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}

	write := q.lastWrite(job.ID)
	if write == nil || write.status != enums.JobStatusPending {
		t.Fatalf("expected pending write, got %+v", write)
	}
	scheduledAt := write.extra["scheduled_at"].(time.Time)
	delay := scheduledAt.Sub(now)
	if delay < 4*time.Minute || delay >= 5*time.Minute {
		t.Fatalf("second retry delay out of range: %s", delay)
	}
}

func TestExhaustedAttemptsMarkJobFailed(t *testing.T) {
	job := testJob(func(j *models.SyncJob) { j.Attempts = 2 }) // third attempt is the last
	q := &fakeJobQueue{due: []models.SyncJob{job}}
	module := &scriptedModule{
		push: func(ctx context.Context, entityType string, action enums.SyncAction, localID, remoteID int64, payload json.RawMessage) (Result, error) {
			return Result{Success: false, Message: "bad field", ErrorType: enums.SyncErrorPermanent}, nil
		},
	}
	svc := newEngine(t, q, &fakeQueueLock{}, Registry{"sales": module}, nil)

	if _, err := svc.ProcessQueue(context.Background()); err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}

	write := q.lastWrite(job.ID)
	if write == nil || write.status != enums.JobStatusFailed {
		t.Fatalf("expected failed write, got %+v", write)
	}
	if write.extra["attempts"] != 3 {
		t.Fatalf("expected attempts 3, got %v", write.extra["attempts"])
	}
	if _, ok := write.extra["scheduled_at"]; ok {
		t.Fatal("terminal failure must not schedule a retry")
	}
}

func TestFailureKeepsCreatedRemoteID(t *testing.T) {
	job := testJob(nil)
	q := &fakeJobQueue{due: []models.SyncJob{job}}
	module := &scriptedModule{
		push: func(ctx context.Context, entityType string, action enums.SyncAction, localID, remoteID int64, payload json.RawMessage) (Result, error) {
			// Created the remote record, then broke on a later step.
			return Result{Success: false, Message: "post-create step failed", ErrorType: enums.SyncErrorTransient, EntityID: 999}, nil
		},
	}
	svc := newEngine(t, q, &fakeQueueLock{}, Registry{"sales": module}, nil)

	if _, err := svc.ProcessQueue(context.Background()); err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}

	write := q.lastWrite(job.ID)
	if write.extra["remote_id"] != int64(999) {
		t.Fatalf("expected created remote id preserved, got %v", write.extra["remote_id"])
	}
}

func TestFailureNeverOverwritesExistingRemoteID(t *testing.T) {
	job := testJob(func(j *models.SyncJob) { j.RemoteID = 100 })
	q := &fakeJobQueue{due: []models.SyncJob{job}}
	module := &scriptedModule{
		push: func(ctx context.Context, entityType string, action enums.SyncAction, localID, remoteID int64, payload json.RawMessage) (Result, error) {
			return Result{Success: false, Message: "boom", ErrorType: enums.SyncErrorTransient, EntityID: 999}, nil
		},
	}
	svc := newEngine(t, q, &fakeQueueLock{}, Registry{"sales": module}, nil)

	if _, err := svc.ProcessQueue(context.Background()); err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}

	write := q.lastWrite(job.ID)
	if _, ok := write.extra["remote_id"]; ok {
		t.Fatal("existing remote id must never be overwritten")
	}
}

func TestUnregisteredModuleFailsTransiently(t *testing.T) {
	job := testJob(func(j *models.SyncJob) { j.Module = "ghost" })
	q := &fakeJobQueue{due: []models.SyncJob{job}}
	svc := newEngine(t, q, &fakeQueueLock{}, Registry{}, nil)

	if _, err := svc.ProcessQueue(context.Background()); err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}

	write := q.lastWrite(job.ID)
	if write == nil || write.status != enums.JobStatusPending {
		t.Fatalf("expected retryable failure, got %+v", write)
	}
	msg, _ := write.extra["error_message"].(string)
	if !strings.Contains(msg, `module "ghost" not registered`) {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestModulePanicIsContainedAsTransientFailure(t *testing.T) {
	panicking := testJob(nil)
	healthy := testJob(func(j *models.SyncJob) {
		j.Module = "inventory"
		j.LocalID = 2
	})
	q := &fakeJobQueue{due: []models.SyncJob{panicking, healthy}}
	registry := Registry{
		"sales": &scriptedModule{
			push: func(ctx context.Context, entityType string, action enums.SyncAction, localID, remoteID int64, payload json.RawMessage) (Result, error) {
				panic("nil map write")
			},
		},
		"inventory": &scriptedModule{},
	}
	svc := newEngine(t, q, &fakeQueueLock{}, registry, nil)

	processed, err := svc.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}
	if processed != 1 {
		t.Fatalf("healthy job must survive a sibling panic; processed=%d", processed)
	}

	write := q.lastWrite(panicking.ID)
	msg, _ := write.extra["error_message"].(string)
	if !strings.Contains(msg, "module panic") {
		t.Fatalf("expected panic recorded, got %q", msg)
	}
}

func TestModuleErrorTreatedAsTransient(t *testing.T) {
	job := testJob(nil)
	q := &fakeJobQueue{due: []models.SyncJob{job}}
	module := &scriptedModule{
		push: func(ctx context.Context, entityType string, action enums.SyncAction, localID, remoteID int64, payload json.RawMessage) (Result, error) {
			return Result{}, errors.New("connection refused")
		},
	}
	svc := newEngine(t, q, &fakeQueueLock{}, Registry{"sales": module}, nil)

	if _, err := svc.ProcessQueue(context.Background()); err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}

	write := q.lastWrite(job.ID)
	if write.status != enums.JobStatusPending {
		t.Fatalf("expected retry on module error, got %s", write.status)
	}
	msg, _ := write.extra["error_message"].(string)
	if !strings.Contains(msg, "connection refused") {
		t.Fatalf("unexpected message %q", msg)
	}
}

func TestPullDirectionRoutesToPull(t *testing.T) {
	job := testJob(func(j *models.SyncJob) {
		j.Direction = enums.DirectionFromRemote
		j.RemoteID = 77
	})
	q := &fakeJobQueue{due: []models.SyncJob{job}}
	var pulled bool
	module := &scriptedModule{
		pull: func(ctx context.Context, entityType string, action enums.SyncAction, remoteID, localID int64, payload json.RawMessage) (Result, error) {
			pulled = true
			if remoteID != 77 {
				t.Fatalf("expected remote id 77, got %d", remoteID)
			}
			return Result{Success: true}, nil
		},
	}
	svc := newEngine(t, q, &fakeQueueLock{}, Registry{"sales": module}, nil)

	if _, err := svc.ProcessQueue(context.Background()); err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}
	if !pulled {
		t.Fatal("expected pull path")
	}
}

func TestDryRunCompletesWithoutInvokingModules(t *testing.T) {
	job := testJob(nil)
	q := &fakeJobQueue{due: []models.SyncJob{job}}
	module := &scriptedModule{
		push: func(ctx context.Context, entityType string, action enums.SyncAction, localID, remoteID int64, payload json.RawMessage) (Result, error) {
			t.Fatal("module must not run in dry-run mode")
			return Result{}, nil
		},
	}
	svc := newEngine(t, q, &fakeQueueLock{}, Registry{"sales": module}, nil)
	svc.SetDryRun(true)

	processed, err := svc.ProcessQueue(context.Background())
	if err != nil {
		t.Fatalf("ProcessQueue: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected 1 processed in dry run, got %d", processed)
	}
	write := q.lastWrite(job.ID)
	if write.status != enums.JobStatusCompleted {
		t.Fatalf("expected completed in dry run, got %s", write.status)
	}
}

func TestRetryDelayBounds(t *testing.T) {
	cases := []struct {
		attempts int
		min      time.Duration
		max      time.Duration
	}{
		{0, 2 * time.Minute, 3 * time.Minute},
		{1, 4 * time.Minute, 5 * time.Minute},
		{2, 8 * time.Minute, 9 * time.Minute},
	}
	for _, tc := range cases {
		for i := 0; i < 50; i++ {
			delay := retryDelay(tc.attempts)
			if delay < tc.min || delay >= tc.max {
				t.Fatalf("attempts=%d delay out of range: %s", tc.attempts, delay)
			}
		}
	}
}
