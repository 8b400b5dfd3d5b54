package rbac

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/agentsites/agentsites/internal/platform/db"
	"github.com/agentsites/agentsites/internal/roles"
	"github.com/agentsites/agentsites/internal/shared"
)

// Repository provides PostgreSQL backed persistence for role assignments and
// the role audit log.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListUserRoles returns the roles a user holds at a site.
func (r *Repository) ListUserRoles(ctx context.Context, userID, siteID uuid.UUID) ([]roles.Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT role FROM user_roles WHERE user_id = $1 AND site_id = $2`, userID, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []roles.Role
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, roles.Role(name))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListSiteAssignments returns every assignment scoped to a site.
func (r *Repository) ListSiteAssignments(ctx context.Context, siteID uuid.UUID) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, user_id, role, site_id, granted_by, created_at
FROM user_roles WHERE site_id = $1 ORDER BY created_at, id`, siteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		var a Assignment
		var role string
		if err := rows.Scan(&a.ID, &a.UserID, &role, &a.SiteID, &a.GrantedBy, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Role = roles.Role(role)
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Assign inserts the assignment and its audit entry in one transaction. An
// already existing assignment is left untouched and reported with created=false.
func (r *Repository) Assign(ctx context.Context, a Assignment, entry AuditEntry) (Assignment, bool, error) {
	created := false
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `INSERT INTO user_roles (user_id, role, site_id, granted_by)
VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING RETURNING id, created_at`, a.UserID, string(a.Role), a.SiteID, a.GrantedBy)
		if err := row.Scan(&a.ID, &a.CreatedAt); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil
			}
			return err
		}
		created = true
		return insertAudit(ctx, tx, entry)
	})
	if err != nil {
		return Assignment{}, false, err
	}
	return a, created, nil
}

// Revoke deletes the assignment and appends its audit entry in one transaction.
func (r *Repository) Revoke(ctx context.Context, userID uuid.UUID, role roles.Role, siteID *uuid.UUID, entry AuditEntry) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role = $2 AND site_id IS NOT DISTINCT FROM $3`, userID, string(role), siteID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		return insertAudit(ctx, tx, entry)
	})
}

// ListAudit returns audit entries for a target user, newest first.
func (r *Repository) ListAudit(ctx context.Context, targetUserID uuid.UUID, limit int) ([]AuditEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, target_user_id, action, role, site_id, actor_id, created_at
FROM role_audit_log WHERE target_user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, targetUserID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AuditEntry
	for rows.Next() {
		var e AuditEntry
		var action, role string
		if err := rows.Scan(&e.ID, &e.TargetUserID, &action, &role, &e.SiteID, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Action = AuditAction(action)
		e.Role = roles.Role(role)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func insertAudit(ctx context.Context, tx pgx.Tx, e AuditEntry) error {
	at := e.CreatedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := tx.Exec(ctx, `INSERT INTO role_audit_log (target_user_id, action, role, site_id, actor_id, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`, e.TargetUserID, string(e.Action), string(e.Role), e.SiteID, e.ActorID, at)
	return err
}
