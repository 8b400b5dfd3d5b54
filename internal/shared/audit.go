package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLog is one row of audit_logs. Meta is stored as jsonb.
type AuditLog struct {
	ID       int64          `json:"id"`
	ActorID  uuid.UUID      `json:"actor_id"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entity_id"`
	Meta     map[string]any `json:"meta,omitempty"`
	At       time.Time      `json:"at"`
}

func (l AuditLog) validate() error {
	switch {
	case l.ActorID == uuid.Nil:
		return fmt.Errorf("%w: audit actor required", ErrValidation)
	case l.Action == "" || l.Entity == "" || l.EntityID == "":
		return fmt.Errorf("%w: audit entry needs action, entity and entity id", ErrValidation)
	}
	return nil
}

// AuditLogger appends and reads audit_logs rows.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the entry. A zero At is stamped by the database.
func (l *AuditLogger) Record(ctx context.Context, entry AuditLog) error {
	if l == nil || l.pool == nil {
		return errors.New("audit logger not initialised")
	}
	if err := entry.validate(); err != nil {
		return err
	}
	var at *time.Time
	if !entry.At.IsZero() {
		at = &entry.At
	}
	_, err := l.pool.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, entry.ActorID, entry.Action, entry.Entity, entry.EntityID, entry.Meta, at)
	return err
}

// ForEntity lists entries for one entity, newest first.
func (l *AuditLogger) ForEntity(ctx context.Context, entity, entityID string, limit int) ([]AuditLog, error) {
	if l == nil || l.pool == nil {
		return nil, errors.New("audit logger not initialised")
	}
	rows, err := l.pool.Query(ctx, `SELECT id, actor_id, action, entity, entity_id, meta, occurred_at
FROM audit_logs WHERE entity = $1 AND entity_id = $2 ORDER BY occurred_at DESC, id DESC LIMIT $3`, entity, entityID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (AuditLog, error) {
		var entry AuditLog
		err := row.Scan(&entry.ID, &entry.ActorID, &entry.Action, &entry.Entity, &entry.EntityID, &entry.Meta, &entry.At)
		return entry, err
	})
}
