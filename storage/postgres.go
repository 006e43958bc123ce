package storage

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ecocounter_ingest/models"
)

var exportColumns = []string{"run_id", "site", "date", "value", "name", "x", "y"}

// PostgresStore mirrors the export extract into a shared Postgres database.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, wrap("parse postgres config", err)
	}

	config.MaxConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, wrap("create pool", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, wrap("ping postgres", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS cycling_counts_export (
			run_id TEXT NOT NULL,
			site TEXT NOT NULL,
			date DATE NOT NULL,
			value INTEGER NOT NULL,
			name TEXT,
			x DOUBLE PRECISION,
			y DOUBLE PRECISION
		)`)
	return wrap("create postgres schema", err)
}

// PublishExport replaces the mirrored extract with rows in one transaction,
// so readers see either the previous extract or the new one.
func (s *PostgresStore) PublishExport(ctx context.Context, runID string, rows []models.ExportRow) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, wrap("begin publish", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM cycling_counts_export`); err != nil {
		return 0, wrap("clear export mirror", err)
	}

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"cycling_counts_export"},
		exportColumns,
		pgx.CopyFromRows(exportCopyRows(runID, rows)),
	)
	if err != nil {
		return 0, wrap(fmt.Sprintf("copy %d export rows", len(rows)), err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, wrap("commit publish", err)
	}
	return n, nil
}

func exportCopyRows(runID string, rows []models.ExportRow) [][]any {
	out := make([][]any, 0, len(rows))
	for _, r := range rows {
		out = append(out, []any{runID, r.Site, r.Date, int32(r.Value), r.Name, r.X, r.Y})
	}
	return out
}

func (s *PostgresStore) Name() string {
	return "postgres"
}

func (s *PostgresStore) Publish(ctx context.Context, runID, _ string, rows []models.ExportRow) error {
	n, err := s.PublishExport(ctx, runID, rows)
	if err != nil {
		return err
	}
	log.Printf("Mirrored %d export rows to Postgres", n)
	return nil
}
