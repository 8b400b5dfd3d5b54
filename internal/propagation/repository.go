package propagation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentsites/agentsites/internal/shared"
)

const recordColumns = `u.id, u.source_site_id, COALESCE(s.name, ''), COALESCE(s.slug, ''), u.entity_type, u.entity_id,
u.entity_data, u.status, u.created_by, u.approved_by, u.created_at, u.approved_at, u.pushed_at,
u.target_site_ids, u.failed_site_ids, u.notes`

const recordFrom = ` FROM master_site_updates u LEFT JOIN agent_sites s ON s.id = u.source_site_id`

// Repository persists propagation records in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores a new pending record.
func (r *Repository) Insert(ctx context.Context, rec Record) (Record, error) {
	data, err := json.Marshal(rec.EntityData)
	if err != nil {
		return Record{}, fmt.Errorf("propagation: encode snapshot: %w", err)
	}
	var id uuid.UUID
	err = r.pool.QueryRow(ctx, `INSERT INTO master_site_updates
(source_site_id, entity_type, entity_id, entity_data, status, created_by, notes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		rec.SourceSiteID, string(rec.EntityType), rec.EntityID, data, string(rec.Status), rec.CreatedBy, rec.Notes, rec.CreatedAt,
	).Scan(&id)
	if err != nil {
		return Record{}, err
	}
	return r.Get(ctx, id)
}

// Get fetches a record joined with its source site.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, `SELECT `+recordColumns+recordFrom+` WHERE u.id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, shared.ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

// List returns records newest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Record, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + recordColumns + recordFrom)
	args := []any{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		b.WriteString(fmt.Sprintf(" WHERE u.status = $%d", len(args)))
	}
	args = append(args, filter.Limit, filter.Offset)
	b.WriteString(fmt.Sprintf(" ORDER BY u.created_at DESC, u.id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args)))

	rows, err := r.pool.Query(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Review moves a pending record to approved or rejected. The update only
// applies while the record is still pending.
func (r *Repository) Review(ctx context.Context, id uuid.UUID, to Status, actor uuid.UUID, at time.Time) (Record, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE master_site_updates
SET status = $2, approved_by = $3, approved_at = $4
WHERE id = $1 AND status = $5`, id, string(to), actor, at, string(StatusPending))
	if err != nil {
		return Record{}, err
	}
	if tag.RowsAffected() == 0 {
		return Record{}, r.transitionError(ctx, id)
	}
	return r.Get(ctx, id)
}

// MarkPushed moves an approved record to pushed with the attempted and failed targets.
func (r *Repository) MarkPushed(ctx context.Context, id uuid.UUID, at time.Time, targets, failed []uuid.UUID) (Record, error) {
	if targets == nil {
		targets = []uuid.UUID{}
	}
	if failed == nil {
		failed = []uuid.UUID{}
	}
	tag, err := r.pool.Exec(ctx, `UPDATE master_site_updates
SET status = $2, pushed_at = $3, target_site_ids = $4, failed_site_ids = $5
WHERE id = $1 AND status = $6`, id, string(StatusPushed), at, targets, failed, string(StatusApproved))
	if err != nil {
		return Record{}, err
	}
	if tag.RowsAffected() == 0 {
		return Record{}, r.transitionError(ctx, id)
	}
	return r.Get(ctx, id)
}

func (r *Repository) transitionError(ctx context.Context, id uuid.UUID) error {
	if _, err := r.Get(ctx, id); err != nil {
		return err
	}
	return shared.ErrInvalidTransition
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		rec        Record
		entityType string
		status     string
		data       []byte
		notes      *string
	)
	if err := row.Scan(&rec.ID, &rec.SourceSiteID, &rec.SourceSiteName, &rec.SourceSiteSlug, &entityType, &rec.EntityID,
		&data, &status, &rec.CreatedBy, &rec.ApprovedBy, &rec.CreatedAt, &rec.ApprovedAt, &rec.PushedAt,
		&rec.TargetSites, &rec.FailedSites, &notes); err != nil {
		return Record{}, err
	}
	rec.EntityType = EntityType(entityType)
	rec.Status = Status(status)
	if notes != nil {
		rec.Notes = *notes
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &rec.EntityData); err != nil {
			return Record{}, fmt.Errorf("propagation: decode snapshot: %w", err)
		}
	}
	return rec, nil
}
