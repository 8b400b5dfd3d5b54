package propagation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentsites/agentsites/internal/shared"
	"github.com/agentsites/agentsites/internal/sites"
)

type memoryRecordRepo struct {
	mu      sync.Mutex
	records map[uuid.UUID]Record
}

func newMemoryRecordRepo() *memoryRecordRepo {
	return &memoryRecordRepo{records: map[uuid.UUID]Record{}}
}

func (m *memoryRecordRepo) Insert(ctx context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = uuid.New()
	m.records[rec.ID] = rec
	return rec, nil
}

func (m *memoryRecordRepo) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, shared.ErrNotFound
	}
	return rec, nil
}

func (m *memoryRecordRepo) List(ctx context.Context, filter ListFilter) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Record
	for _, rec := range m.records {
		if filter.Status == "" || rec.Status == filter.Status {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Offset >= len(out) {
		return nil, nil
	}
	out = out[filter.Offset:]
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *memoryRecordRepo) Review(ctx context.Context, id uuid.UUID, to Status, actor uuid.UUID, at time.Time) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, shared.ErrNotFound
	}
	if rec.Status != StatusPending {
		return Record{}, shared.ErrInvalidTransition
	}
	rec.Status = to
	rec.ApprovedBy = &actor
	rec.ApprovedAt = &at
	m.records[id] = rec
	return rec, nil
}

func (m *memoryRecordRepo) MarkPushed(ctx context.Context, id uuid.UUID, at time.Time, targets, failed []uuid.UUID) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return Record{}, shared.ErrNotFound
	}
	if rec.Status != StatusApproved {
		return Record{}, shared.ErrInvalidTransition
	}
	rec.Status = StatusPushed
	rec.PushedAt = &at
	rec.TargetSites = targets
	rec.FailedSites = failed
	m.records[id] = rec
	return rec, nil
}

type memorySites struct {
	all []sites.Site
}

func (m *memorySites) add(name string, master bool) sites.Site {
	s := sites.Site{ID: uuid.New(), Name: name, Slug: name, IsMaster: master, Status: sites.StatusActive}
	m.all = append(m.all, s)
	return s
}

func (m *memorySites) Get(ctx context.Context, id uuid.UUID) (sites.Site, error) {
	for _, s := range m.all {
		if s.ID == id {
			return s, nil
		}
	}
	return sites.Site{}, shared.ErrNotFound
}

func (m *memorySites) Branches(ctx context.Context) ([]sites.Site, error) {
	var out []sites.Site
	for _, s := range m.all {
		if !s.IsMaster {
			out = append(out, s)
		}
	}
	return out, nil
}

type entityRow struct {
	ID     uuid.UUID
	SiteID uuid.UUID
	Fields map[string]any
}

type memoryEntityStore struct {
	mu    sync.Mutex
	rows  map[string][]*entityRow
	fails map[uuid.UUID]bool
}

func newMemoryEntityStore() *memoryEntityStore {
	return &memoryEntityStore{rows: map[string][]*entityRow{}, fails: map[uuid.UUID]bool{}}
}

func (m *memoryEntityStore) seed(table string, siteID uuid.UUID, fields map[string]any) uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := &entityRow{ID: uuid.New(), SiteID: siteID, Fields: fields}
	m.rows[table] = append(m.rows[table], row)
	return row.ID
}

func (m *memoryEntityStore) siteRows(table string, siteID uuid.UUID) []entityRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []entityRow
	for _, r := range m.rows[table] {
		if r.SiteID == siteID {
			fields := make(map[string]any, len(r.Fields))
			for k, v := range r.Fields {
				fields[k] = v
			}
			out = append(out, entityRow{ID: r.ID, SiteID: r.SiteID, Fields: fields})
		}
	}
	return out
}

func (m *memoryEntityStore) FindID(ctx context.Context, st Strategy, siteID uuid.UUID, plan Plan) (uuid.UUID, bool, error) {
	if m.fails[siteID] {
		return uuid.Nil, false, errors.New("connection reset")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows[st.Table] {
		if r.SiteID != siteID {
			continue
		}
		match := true
		for i, col := range st.Key {
			if r.Fields[col] != plan.Key[i] {
				match = false
			}
		}
		if match {
			return r.ID, true, nil
		}
	}
	return uuid.Nil, false, nil
}

func (m *memoryEntityStore) Update(ctx context.Context, st Strategy, id uuid.UUID, plan Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows[st.Table] {
		if r.ID == id {
			for i, col := range plan.Columns {
				r.Fields[col] = plan.Values[i]
			}
			return nil
		}
	}
	return shared.ErrNotFound
}

func (m *memoryEntityStore) Insert(ctx context.Context, st Strategy, siteID uuid.UUID, plan Plan) (uuid.UUID, error) {
	fields := map[string]any{}
	for i, col := range st.Key {
		fields[col] = plan.Key[i]
	}
	for i, col := range plan.Columns {
		fields[col] = plan.Values[i]
	}
	return m.seed(st.Table, siteID, fields), nil
}
