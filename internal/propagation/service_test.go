package propagation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agentsites/agentsites/internal/identity"
	"github.com/agentsites/agentsites/internal/shared"
	"github.com/agentsites/agentsites/internal/sites"
)

type memoryApprovals struct {
	logs []shared.ApprovalLog
}

func (m *memoryApprovals) Record(ctx context.Context, log shared.ApprovalLog) error {
	log.ID = int64(len(m.logs) + 1)
	m.logs = append(m.logs, log)
	return nil
}

func (m *memoryApprovals) List(ctx context.Context, module string, ref uuid.UUID) ([]shared.ApprovalLog, error) {
	out := []shared.ApprovalLog{}
	for _, l := range m.logs {
		if l.Module == module && l.RefID == ref {
			out = append(out, l)
		}
	}
	return out, nil
}

type lifecycleFixture struct {
	svc       *Service
	repo      *memoryRecordRepo
	approvals *memoryApprovals
	master    sites.Site
	branch    sites.Site
	uber      identity.Principal
}

func newLifecycleFixture(t *testing.T) lifecycleFixture {
	t.Helper()
	registry := &memorySites{}
	master := registry.add("master", true)
	branch := registry.add("north", false)
	repo := newMemoryRecordRepo()
	approvals := &memoryApprovals{}
	svc := NewService(repo, registry, approvals, nil, nil)
	tick := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	svc.WithClock(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	})
	return lifecycleFixture{
		svc:       svc,
		repo:      repo,
		approvals: approvals,
		master:    master,
		branch:    branch,
		uber:      identity.Principal{UserID: uuid.New(), Email: "root@example.com", IsUberAdmin: true},
	}
}

func (f lifecycleFixture) enqueue(t *testing.T) Record {
	t.Helper()
	rec, err := f.svc.Enqueue(context.Background(), f.uber, EnqueueInput{
		SiteID:     f.master.ID,
		EntityType: ContentItem,
		EntityID:   uuid.New(),
		EntityData: Snapshot{"slug": "genesis-block", "title": "Genesis"},
	})
	require.NoError(t, err)
	return rec
}

func TestEnqueueCreatesPendingRecord(t *testing.T) {
	f := newLifecycleFixture(t)
	rec := f.enqueue(t)

	require.Equal(t, StatusPending, rec.Status)
	require.Equal(t, f.master.ID, rec.SourceSiteID)
	require.Equal(t, f.uber.UserID, rec.CreatedBy)
	require.Nil(t, rec.ApprovedBy)
	require.Len(t, f.approvals.logs, 1)
	require.Equal(t, shared.ApprovalSubmit, f.approvals.logs[0].Action)
}

func TestEnqueueRequiresUberAdminOnMaster(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	input := EnqueueInput{EntityType: ContentItem, EntityID: uuid.New(), EntityData: Snapshot{"slug": "a"}}

	input.SiteID = f.branch.ID
	_, err := f.svc.Enqueue(ctx, f.uber, input)
	require.ErrorIs(t, err, shared.ErrNotAuthorized)

	input.SiteID = f.master.ID
	_, err = f.svc.Enqueue(ctx, identity.Principal{UserID: uuid.New()}, input)
	require.ErrorIs(t, err, shared.ErrNotAuthorized)
	require.Empty(t, f.repo.records)
}

func TestEnqueueValidatesSnapshot(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	_, err := f.svc.Enqueue(ctx, f.uber, EnqueueInput{SiteID: f.master.ID, EntityType: "widget", EntityID: uuid.New(), EntityData: Snapshot{}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Enqueue(ctx, f.uber, EnqueueInput{SiteID: f.master.ID, EntityType: MissionPillar, EntityID: uuid.New(), EntityData: Snapshot{"description": "x"}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.Enqueue(ctx, f.uber, EnqueueInput{SiteID: f.master.ID, EntityType: UtilitiesConfig, EntityID: uuid.New(), EntityData: Snapshot{"settings": map[string]any{"theme": "dark"}}})
	require.NoError(t, err)
}

func TestApproveAndRejectGuards(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	_, err := f.svc.Approve(ctx, f.uber, uuid.New())
	require.ErrorIs(t, err, shared.ErrNotFound)

	rec := f.enqueue(t)
	_, err = f.svc.Approve(ctx, identity.Principal{UserID: uuid.New()}, rec.ID)
	require.ErrorIs(t, err, shared.ErrNotAuthorized)

	approved, err := f.svc.Approve(ctx, f.uber, rec.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, approved.Status)
	require.Equal(t, &f.uber.UserID, approved.ApprovedBy)
	require.NotNil(t, approved.ApprovedAt)

	_, err = f.svc.Approve(ctx, f.uber, rec.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	_, err = f.svc.Reject(ctx, f.uber, rec.ID, "late")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestTerminalStatesAreImmutable(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	rejected := f.enqueue(t)
	_, err := f.svc.Reject(ctx, f.uber, rejected.ID, "duplicate")
	require.NoError(t, err)
	require.Equal(t, shared.ApprovalReject, f.approvals.logs[len(f.approvals.logs)-1].Action)

	pushed := f.enqueue(t)
	_, err = f.svc.Approve(ctx, f.uber, pushed.ID)
	require.NoError(t, err)
	_, err = f.repo.MarkPushed(ctx, pushed.ID, time.Now(), nil, nil)
	require.NoError(t, err)

	for _, id := range []uuid.UUID{rejected.ID, pushed.ID} {
		before, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		_, err = f.svc.Approve(ctx, f.uber, id)
		require.ErrorIs(t, err, shared.ErrInvalidTransition)
		_, err = f.svc.Reject(ctx, f.uber, id, "")
		require.ErrorIs(t, err, shared.ErrInvalidTransition)
		after, err := f.svc.Get(ctx, id)
		require.NoError(t, err)
		require.Equal(t, before, after)
	}
}

func TestHistoryFollowsLifecycle(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()

	rec := f.enqueue(t)
	f.enqueue(t)
	_, err := f.svc.Reject(ctx, f.uber, rec.ID, "stale copy")
	require.NoError(t, err)

	logs, err := f.svc.History(ctx, rec.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, shared.ApprovalSubmit, logs[0].Action)
	require.Equal(t, shared.ApprovalReject, logs[1].Action)
	require.Equal(t, "stale copy", logs[1].Note)

	_, err = f.svc.History(ctx, uuid.New())
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestListFiltersNewestFirst(t *testing.T) {
	f := newLifecycleFixture(t)
	ctx := context.Background()
	first := f.enqueue(t)
	second := f.enqueue(t)
	third := f.enqueue(t)
	_, err := f.svc.Approve(ctx, f.uber, second.ID)
	require.NoError(t, err)

	pending, err := f.svc.List(ctx, ListFilter{Status: StatusPending})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, third.ID, pending[0].ID)
	require.Equal(t, first.ID, pending[1].ID)

	limited, err := f.svc.List(ctx, ListFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)

	_, err = f.svc.List(ctx, ListFilter{Status: "archived"})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusApproved, true},
		{StatusPending, StatusRejected, true},
		{StatusApproved, StatusPushed, true},
		{StatusPending, StatusPushed, false},
		{StatusApproved, StatusRejected, false},
		{StatusRejected, StatusApproved, false},
		{StatusPushed, StatusApproved, false},
		{StatusPushed, StatusPushed, false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.ok, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestPlanStripsIdentifiersAndUnknownKeys(t *testing.T) {
	st, err := StrategyFor(ContentItem)
	require.NoError(t, err)
	plan, err := st.Plan(Snapshot{
		"id":         uuid.NewString(),
		"site_id":    uuid.NewString(),
		"created_at": "2025-01-01T00:00:00Z",
		"slug":       "genesis-block",
		"title":      "Genesis",
		"rogue":      "drop table",
	})
	require.NoError(t, err)
	require.Equal(t, []any{"genesis-block"}, plan.Key)
	require.Equal(t, []string{"title"}, plan.Columns)
	require.Equal(t, []any{"Genesis"}, plan.Values)

	require.Len(t, Strategies(), 5)
	for et, s := range Strategies() {
		require.True(t, et.Valid())
		require.NotEmpty(t, s.Table)
	}
}

func TestPushResultSummary(t *testing.T) {
	r := PushResult{Success: []string{"a", "b", "c", "d"}, Failed: []string{"e"}, Total: 5}
	require.Equal(t, "Propagated to 4 of 5 sites", r.Summary())
}
