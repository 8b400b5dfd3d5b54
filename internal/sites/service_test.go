package sites

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/agentsites/agentsites/internal/identity"
	"github.com/agentsites/agentsites/internal/shared"
	_ "github.com/agentsites/agentsites/testing"
)

type memorySiteRepo struct {
	sites map[uuid.UUID]Site
}

func newMemorySiteRepo() *memorySiteRepo {
	return &memorySiteRepo{sites: map[uuid.UUID]Site{}}
}

func (m *memorySiteRepo) Create(ctx context.Context, site Site) (Site, error) {
	for _, s := range m.sites {
		if s.Slug == site.Slug {
			return Site{}, shared.ErrValidation
		}
	}
	site.ID = uuid.New()
	m.sites[site.ID] = site
	return site, nil
}

func (m *memorySiteRepo) Get(ctx context.Context, id uuid.UUID) (Site, error) {
	s, ok := m.sites[id]
	if !ok {
		return Site{}, shared.ErrNotFound
	}
	return s, nil
}

func (m *memorySiteRepo) List(ctx context.Context) ([]Site, error) {
	out := make([]Site, 0, len(m.sites))
	for _, s := range m.sites {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsMaster != out[j].IsMaster {
			return out[i].IsMaster
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *memorySiteRepo) ListBranches(ctx context.Context) ([]Site, error) {
	all, _ := m.List(ctx)
	var out []Site
	for _, s := range all {
		if !s.IsMaster {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *memorySiteRepo) SetMaster(ctx context.Context, id uuid.UUID) error {
	if _, ok := m.sites[id]; !ok {
		return shared.ErrNotFound
	}
	for k, s := range m.sites {
		s.IsMaster = k == id
		m.sites[k] = s
	}
	return nil
}

func (m *memorySiteRepo) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	s, ok := m.sites[id]
	if !ok {
		return shared.ErrNotFound
	}
	s.Status = status
	m.sites[id] = s
	return nil
}

type memoryAudit struct {
	logs []shared.AuditLog
}

func (m *memoryAudit) Record(ctx context.Context, log shared.AuditLog) error {
	log.ID = int64(len(m.logs) + 1)
	m.logs = append(m.logs, log)
	return nil
}

func (m *memoryAudit) ForEntity(ctx context.Context, entity, entityID string, limit int) ([]shared.AuditLog, error) {
	out := []shared.AuditLog{}
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if m.logs[i].Entity == entity && m.logs[i].EntityID == entityID {
			out = append(out, m.logs[i])
		}
	}
	return out, nil
}

var uber = identity.Principal{UserID: uuid.New(), Email: "root@example.com", IsUberAdmin: true}

func TestCreateRequiresUberAdmin(t *testing.T) {
	svc := NewService(newMemorySiteRepo(), &memoryAudit{}, nil)
	_, err := svc.Create(context.Background(), identity.Principal{UserID: uuid.New()}, CreateInput{Name: "North", Slug: "north"})
	require.ErrorIs(t, err, shared.ErrNotAuthorized)
}

func TestCreateValidatesSlug(t *testing.T) {
	svc := NewService(newMemorySiteRepo(), &memoryAudit{}, nil)
	ctx := context.Background()

	_, err := svc.Create(ctx, uber, CreateInput{Name: "North", Slug: "north side"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Create(ctx, uber, CreateInput{Name: " ", Slug: "north"})
	require.ErrorIs(t, err, shared.ErrValidation)

	site, err := svc.Create(ctx, uber, CreateInput{Name: " North ", Slug: "North-Side"})
	require.NoError(t, err)
	require.Equal(t, "North", site.Name)
	require.Equal(t, "north-side", site.Slug)
	require.Equal(t, StatusActive, site.Status)
	require.False(t, site.IsMaster)
}

func TestSetMasterKeepsSingleMaster(t *testing.T) {
	repo := newMemorySiteRepo()
	audit := &memoryAudit{}
	svc := NewService(repo, audit, nil)
	ctx := context.Background()

	a, err := svc.Create(ctx, uber, CreateInput{Name: "Alpha", Slug: "alpha"})
	require.NoError(t, err)
	b, err := svc.Create(ctx, uber, CreateInput{Name: "Beta", Slug: "beta"})
	require.NoError(t, err)

	require.NoError(t, svc.SetMaster(ctx, uber, a.ID))
	require.NoError(t, svc.SetMaster(ctx, uber, b.ID))

	all, err := svc.List(ctx)
	require.NoError(t, err)
	masters := 0
	for _, s := range all {
		if s.IsMaster {
			masters++
			require.Equal(t, b.ID, s.ID)
		}
	}
	require.Equal(t, 1, masters)

	branches, err := svc.Branches(ctx)
	require.NoError(t, err)
	require.Len(t, branches, 1)
	require.Equal(t, a.ID, branches[0].ID)

	require.ErrorIs(t, svc.SetMaster(ctx, uber, uuid.New()), shared.ErrNotFound)
	require.ErrorIs(t, svc.SetMaster(ctx, identity.Principal{UserID: uuid.New()}, a.ID), shared.ErrNotAuthorized)
	require.Equal(t, "SITE_SET_MASTER", audit.logs[len(audit.logs)-1].Action)
}

func TestSetStatusRejectsUnknown(t *testing.T) {
	svc := NewService(newMemorySiteRepo(), nil, nil)
	ctx := context.Background()
	site, err := svc.Create(ctx, uber, CreateInput{Name: "Alpha", Slug: "alpha"})
	require.NoError(t, err)

	require.ErrorIs(t, svc.SetStatus(ctx, uber, site.ID, Status("archived")), shared.ErrValidation)
	require.NoError(t, svc.SetStatus(ctx, uber, site.ID, StatusInactive))
	got, err := svc.Get(ctx, site.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInactive, got.Status)
}

func TestHistoryNewestFirstForUberOnly(t *testing.T) {
	audit := &memoryAudit{}
	svc := NewService(newMemorySiteRepo(), audit, nil)
	ctx := context.Background()
	site, err := svc.Create(ctx, uber, CreateInput{Name: "Alpha", Slug: "alpha"})
	require.NoError(t, err)
	other, err := svc.Create(ctx, uber, CreateInput{Name: "Beta", Slug: "beta"})
	require.NoError(t, err)
	require.NoError(t, svc.SetStatus(ctx, uber, site.ID, StatusInactive))
	require.NoError(t, svc.SetMaster(ctx, uber, other.ID))

	logs, err := svc.History(ctx, uber, site.ID, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, "SITE_STATUS", logs[0].Action)
	require.Equal(t, "SITE_CREATE", logs[1].Action)

	logs, err = svc.History(ctx, uber, site.ID, 1)
	require.NoError(t, err)
	require.Len(t, logs, 1)

	_, err = svc.History(ctx, identity.Principal{UserID: uuid.New()}, site.ID, 0)
	require.ErrorIs(t, err, shared.ErrNotAuthorized)
	_, err = svc.History(ctx, uber, uuid.New(), 0)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestHandlerCreateAndGet(t *testing.T) {
	svc := NewService(newMemorySiteRepo(), &memoryAudit{}, nil)
	h := NewHandler(nil, svc)
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(identity.WithPrincipal(req.Context(), uber)))
		})
	})
	r.Route("/sites", h.MountRoutes)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sites/", strings.NewReader(`{"name":"Alpha","slug":"alpha"}`)))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/sites/", strings.NewReader(`{"name":"Alpha"}`)))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sites/"+uuid.NewString(), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sites/not-a-uuid", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
