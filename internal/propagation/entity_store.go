package propagation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EntityStore reads and writes propagatable rows on a branch site.
type EntityStore interface {
	FindID(ctx context.Context, st Strategy, siteID uuid.UUID, plan Plan) (uuid.UUID, bool, error)
	Update(ctx context.Context, st Strategy, id uuid.UUID, plan Plan) error
	Insert(ctx context.Context, st Strategy, siteID uuid.UUID, plan Plan) (uuid.UUID, error)
}

// Upsert applies a snapshot to one site by natural key. Existing rows keep
// their identifier; new rows receive a fresh one from the store.
func Upsert(ctx context.Context, store EntityStore, st Strategy, siteID uuid.UUID, snapshot Snapshot) (uuid.UUID, error) {
	plan, err := st.Plan(snapshot)
	if err != nil {
		return uuid.Nil, err
	}
	id, found, err := store.FindID(ctx, st, siteID, plan)
	if err != nil {
		return uuid.Nil, fmt.Errorf("find %s: %w", st.Entity, err)
	}
	if found {
		if err := store.Update(ctx, st, id, plan); err != nil {
			return uuid.Nil, fmt.Errorf("update %s: %w", st.Entity, err)
		}
		return id, nil
	}
	id, err = store.Insert(ctx, st, siteID, plan)
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert %s: %w", st.Entity, err)
	}
	return id, nil
}

// PgEntityStore implements EntityStore on PostgreSQL. Table and column names
// only ever come from the strategy table.
type PgEntityStore struct {
	pool *pgxpool.Pool
}

// NewEntityStore constructs a PgEntityStore.
func NewEntityStore(pool *pgxpool.Pool) *PgEntityStore {
	return &PgEntityStore{pool: pool}
}

// FindID looks up the row matching the natural key on a site.
func (s *PgEntityStore) FindID(ctx context.Context, st Strategy, siteID uuid.UUID, plan Plan) (uuid.UUID, bool, error) {
	sql, args := findSQL(st, siteID, plan)
	var id uuid.UUID
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, false, nil
		}
		return uuid.Nil, false, err
	}
	return id, true, nil
}

// Update rewrites the snapshot columns of an existing row.
func (s *PgEntityStore) Update(ctx context.Context, st Strategy, id uuid.UUID, plan Plan) error {
	sql, args := updateSQL(st, id, plan)
	_, err := s.pool.Exec(ctx, sql, args...)
	return err
}

// Insert creates a new row on the site and returns the generated identifier.
func (s *PgEntityStore) Insert(ctx context.Context, st Strategy, siteID uuid.UUID, plan Plan) (uuid.UUID, error) {
	sql, args := insertSQL(st, siteID, plan)
	var id uuid.UUID
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&id); err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func findSQL(st Strategy, siteID uuid.UUID, plan Plan) (string, []any) {
	var b strings.Builder
	b.WriteString("SELECT id FROM ")
	b.WriteString(pgx.Identifier{st.Table}.Sanitize())
	b.WriteString(" WHERE site_id = $1")
	args := []any{siteID}
	for i, col := range st.Key {
		args = append(args, plan.Key[i])
		fmt.Fprintf(&b, " AND %s = $%d", pgx.Identifier{col}.Sanitize(), len(args))
	}
	b.WriteString(" LIMIT 1")
	return b.String(), args
}

func updateSQL(st Strategy, id uuid.UUID, plan Plan) (string, []any) {
	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(pgx.Identifier{st.Table}.Sanitize())
	b.WriteString(" SET updated_at = NOW()")
	args := []any{id}
	for i, col := range plan.Columns {
		args = append(args, plan.Values[i])
		fmt.Fprintf(&b, ", %s = $%d", pgx.Identifier{col}.Sanitize(), len(args))
	}
	b.WriteString(" WHERE id = $1")
	return b.String(), args
}

func insertSQL(st Strategy, siteID uuid.UUID, plan Plan) (string, []any) {
	cols := []string{pgx.Identifier{"site_id"}.Sanitize()}
	args := []any{siteID}
	for i, col := range st.Key {
		cols = append(cols, pgx.Identifier{col}.Sanitize())
		args = append(args, plan.Key[i])
	}
	for i, col := range plan.Columns {
		cols = append(cols, pgx.Identifier{col}.Sanitize())
		args = append(args, plan.Values[i])
	}
	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id",
		pgx.Identifier{st.Table}.Sanitize(), strings.Join(cols, ", "), strings.Join(placeholders, ", ")), args
}
