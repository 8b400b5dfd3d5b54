package sites

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentsites/agentsites/internal/platform/db"
	"github.com/agentsites/agentsites/internal/shared"
)

const siteColumns = `id, name, slug, is_master, status, created_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a non-master site.
func (r *Repository) Create(ctx context.Context, site Site) (Site, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO agent_sites (name, slug, is_master, status)
VALUES ($1, $2, false, $3) RETURNING `+siteColumns, site.Name, site.Slug, string(site.Status))
	created, err := scanSite(row)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return Site{}, fmt.Errorf("%w: slug %q already taken", shared.ErrValidation, site.Slug)
		}
		return Site{}, err
	}
	return created, nil
}

// Get fetches a site by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Site, error) {
	site, err := scanSite(r.pool.QueryRow(ctx, `SELECT `+siteColumns+` FROM agent_sites WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Site{}, shared.ErrNotFound
		}
		return Site{}, err
	}
	return site, nil
}

// List returns every site, master first.
func (r *Repository) List(ctx context.Context) ([]Site, error) {
	return r.query(ctx, `SELECT `+siteColumns+` FROM agent_sites ORDER BY is_master DESC, name`)
}

// ListBranches returns every non-master site.
func (r *Repository) ListBranches(ctx context.Context) ([]Site, error) {
	return r.query(ctx, `SELECT `+siteColumns+` FROM agent_sites WHERE is_master = false ORDER BY name, id`)
}

// SetMaster moves the master flag inside one repeatable-read transaction so
// readers never observe zero or two masters. The partial unique index
// agent_sites_single_master backs the invariant.
func (r *Repository) SetMaster(ctx context.Context, id uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM agent_sites WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return shared.ErrNotFound
		}
		if _, err := tx.Exec(ctx, `UPDATE agent_sites SET is_master = false WHERE is_master AND id <> $1`, id); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE agent_sites SET is_master = true WHERE id = $1`, id)
		return err
	})
}

// SetStatus updates site availability.
func (r *Repository) SetStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := r.pool.Exec(ctx, `UPDATE agent_sites SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func (r *Repository) query(ctx context.Context, sql string, args ...any) ([]Site, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Site
	for rows.Next() {
		site, err := scanSite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, site)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanSite(row pgx.Row) (Site, error) {
	var site Site
	var status string
	if err := row.Scan(&site.ID, &site.Name, &site.Slug, &site.IsMaster, &status, &site.CreatedAt); err != nil {
		return Site{}, err
	}
	site.Status = Status(status)
	return site, nil
}
