package db

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

// MigrationsTable records the applied schema version.
const MigrationsTable = "schema_migrations"

// Migrate applies the pending *.up.sql files in fsys and returns the resulting
// schema version. Calling it on an up-to-date database is a no-op.
func Migrate(pool *pgxpool.Pool, fsys fs.FS, logger *slog.Logger) (uint, error) {
	if logger == nil {
		logger = slog.Default()
	}
	src, err := iofs.New(fsys, ".")
	if err != nil {
		return 0, fmt.Errorf("platform/db: migration source: %w", err)
	}
	sqlDB := stdlib.OpenDBFromPool(pool)
	driver, err := postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: MigrationsTable})
	if err != nil {
		_ = src.Close()
		_ = sqlDB.Close()
		return 0, fmt.Errorf("platform/db: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		_ = src.Close()
		_ = driver.Close()
		return 0, fmt.Errorf("platform/db: migration instance: %w", err)
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			logger.Warn("close migration source", slog.Any("error", srcErr))
		}
		if dbErr != nil {
			logger.Warn("close migration database", slog.Any("error", dbErr))
		}
	}()

	switch err := m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		logger.Info("schema up to date")
	case err != nil:
		return 0, fmt.Errorf("platform/db: apply migrations: %w", err)
	}
	version, dirty, err := m.Version()
	if err != nil {
		return 0, fmt.Errorf("platform/db: read schema version: %w", err)
	}
	if dirty {
		return version, fmt.Errorf("platform/db: schema version %d is dirty", version)
	}
	logger.Info("schema migrated", slog.Uint64("version", uint64(version)))
	return version, nil
}

// Versions lists the migration versions found in fsys in ascending order.
// Files that do not follow the NNNN_name.up.sql layout are ignored.
func Versions(fsys fs.FS) ([]uint, error) {
	src, err := iofs.New(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("platform/db: migration source: %w", err)
	}
	defer src.Close()

	version, err := src.First()
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, errors.New("platform/db: no migrations found")
		}
		return nil, fmt.Errorf("platform/db: first migration: %w", err)
	}
	out := []uint{version}
	for {
		version, err = src.Next(version)
		if errors.Is(err, fs.ErrNotExist) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("platform/db: next migration: %w", err)
		}
		out = append(out, version)
	}
}
