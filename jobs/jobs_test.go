package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/agentsites/agentsites/internal/identity"
	jobmetrics "github.com/agentsites/agentsites/internal/jobs"
	"github.com/agentsites/agentsites/internal/propagation"
	"github.com/agentsites/agentsites/internal/shared"
)

type stubLookup struct {
	principal identity.Principal
}

func (s stubLookup) Lookup(ctx context.Context, userID uuid.UUID, email string) (identity.Principal, error) {
	p := s.principal
	p.UserID = userID
	p.Email = email
	return p, nil
}

type stubPusher struct {
	err   error
	actor identity.Principal
	id    uuid.UUID
}

func (s *stubPusher) Push(ctx context.Context, actor identity.Principal, id uuid.UUID) (propagation.PushResult, error) {
	s.actor = actor
	s.id = id
	if s.err != nil {
		return propagation.PushResult{}, s.err
	}
	return propagation.PushResult{Success: []string{"north"}, Failed: []string{}, Total: 1}, nil
}

func pushTask(t *testing.T, payload PropagationPushPayload) *asynq.Task {
	t.Helper()
	task, err := NewPropagationPushTask(payload)
	require.NoError(t, err)
	require.Equal(t, TaskPropagationPush, task.Type())
	return task
}

func TestPropagationPushJobResolvesActor(t *testing.T) {
	pusher := &stubPusher{}
	job := NewPropagationPushJob(stubLookup{principal: identity.Principal{IsUberAdmin: true}}, pusher, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	payload := PropagationPushPayload{UpdateID: uuid.New(), ActorID: uuid.New(), ActorEmail: "root@example.com"}

	require.NoError(t, job.Handle(context.Background(), pushTask(t, payload)))
	require.Equal(t, payload.UpdateID, pusher.id)
	require.Equal(t, payload.ActorID, pusher.actor.UserID)
	require.True(t, pusher.actor.IsUberAdmin)
}

func TestPropagationPushJobRetryPolicy(t *testing.T) {
	payload := PropagationPushPayload{UpdateID: uuid.New(), ActorID: uuid.New()}
	for _, final := range []error{shared.ErrNotAuthorized, shared.ErrInvalidTransition, shared.ErrNotFound} {
		job := NewPropagationPushJob(stubLookup{}, &stubPusher{err: final}, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
		err := job.Handle(context.Background(), pushTask(t, payload))
		require.ErrorIs(t, err, asynq.SkipRetry)
	}

	job := NewPropagationPushJob(stubLookup{}, &stubPusher{err: shared.ErrLockHeld}, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	err := job.Handle(context.Background(), pushTask(t, payload))
	require.ErrorIs(t, err, shared.ErrLockHeld)
	require.False(t, errors.Is(err, asynq.SkipRetry))

	bad := asynq.NewTask(TaskPropagationPush, []byte(`{`))
	require.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)
}

type stubLister struct {
	records []propagation.Record
}

func (s stubLister) List(ctx context.Context, filter propagation.ListFilter) ([]propagation.Record, error) {
	if filter.Status != propagation.StatusApproved || filter.Offset > 0 {
		return nil, nil
	}
	return s.records, nil
}

func TestStuckScanFindsOldApprovals(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-3 * time.Hour)
	fresh := now.Add(-10 * time.Minute)
	job := NewStuckScanJob(stubLister{records: []propagation.Record{
		{ID: uuid.New(), Status: propagation.StatusApproved, ApprovedAt: &old},
		{ID: uuid.New(), Status: propagation.StatusApproved, ApprovedAt: &fresh},
	}}, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	job.clock = func() time.Time { return now }

	stuck, err := job.scan(context.Background(), time.Hour)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	require.Equal(t, &old, stuck[0].ApprovedAt)

	task, err := NewStuckScanTask(time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(nil, nil).MountRoutes)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Queues []queueHealth `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Queues, 2)
	require.Equal(t, QueuePropagation, body.Queues[0].Queue)
	require.Equal(t, QueueMaintenance, body.Queues[1].Queue)
}

type stubInspector struct {
	infos map[string]*asynq.QueueInfo
	err   error
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	if s.err != nil {
		return nil, s.err
	}
	info, ok := s.infos[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestHealthReportsQueues(t *testing.T) {
	r := chi.NewRouter()
	inspector := stubInspector{infos: map[string]*asynq.QueueInfo{
		QueuePropagation: {Queue: QueuePropagation, Pending: 2, Retry: 1},
	}}
	r.Route("/jobs", NewHandler(inspector, nil).MountRoutes)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Queues []queueHealth `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Queues[0].Pending)
	require.Equal(t, 1, body.Queues[0].Retry)
	require.Zero(t, body.Queues[1].Pending)

	r = chi.NewRouter()
	r.Route("/jobs", NewHandler(stubInspector{err: errors.New("redis down")}, nil).MountRoutes)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestTasksTargetQueues(t *testing.T) {
	push := pushTask(t, PropagationPushPayload{UpdateID: uuid.New()})
	require.Equal(t, TaskPropagationPush, push.Type())

	scan, err := NewStuckScanTask(time.Hour)
	require.NoError(t, err)
	var payload StuckScanPayload
	require.NoError(t, json.Unmarshal(scan.Payload(), &payload))
	require.Equal(t, time.Hour, payload.OlderThan)
}

func TestNewWorkerRejectsIncompleteHandler(t *testing.T) {
	_, err := NewWorker(WorkerConfig{Handlers: []TaskHandler{{Type: TaskPropagationPush}}})
	require.Error(t, err)
}

func TestEnqueuePushReplacesArchivedTask(t *testing.T) {
	srv := miniredis.RunT(t)
	opts := asynq.RedisClientOpt{Addr: srv.Addr()}
	client := NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })
	inspector := asynq.NewInspector(opts)
	t.Cleanup(func() { _ = inspector.Close() })

	ctx := context.Background()
	id := uuid.New()
	actor := identity.Principal{UserID: uuid.New(), Email: "root@example.com", IsUberAdmin: true}

	require.NoError(t, client.EnqueuePush(ctx, id, actor))
	require.NoError(t, client.EnqueuePush(ctx, id, actor))
	info, err := inspector.GetTaskInfo(QueuePropagation, id.String())
	require.NoError(t, err)
	require.Equal(t, asynq.TaskStatePending, info.State)

	// A push that failed for good stays archived under the record id.
	require.NoError(t, inspector.ArchiveTask(QueuePropagation, id.String()))

	require.NoError(t, client.EnqueuePush(ctx, id, actor))
	info, err = inspector.GetTaskInfo(QueuePropagation, id.String())
	require.NoError(t, err)
	require.Equal(t, asynq.TaskStatePending, info.State)

	var payload PropagationPushPayload
	require.NoError(t, json.Unmarshal(info.Payload, &payload))
	require.Equal(t, id, payload.UpdateID)
	require.Equal(t, actor.UserID, payload.ActorID)
}
