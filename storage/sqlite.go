package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"ecocounter_ingest/models"
)

const schema = `
	CREATE TABLE IF NOT EXISTS sites (
		oid TEXT,
		name TEXT,
		info TEXT,
		x DOUBLE,
		y DOUBLE
	);

	CREATE TABLE IF NOT EXISTS cycling_counts (
		site TEXT,
		date DATE,
		value INTEGER
	);

	CREATE TABLE IF NOT EXISTS ingest_runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME,
		finished_at DATETIME,
		status TEXT,
		sites_found INTEGER DEFAULT 0,
		sites_skipped INTEGER DEFAULT 0,
		observations_inserted INTEGER DEFAULT 0,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS ingest_logs (
		id INTEGER PRIMARY KEY,
		run_id TEXT,
		timestamp DATETIME,
		level TEXT,
		message TEXT,
		site_id TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_counts_site ON cycling_counts(site, date);
	CREATE INDEX IF NOT EXISTS idx_logs_run ON ingest_logs(run_id, timestamp);
	`

// SQLiteStore holds the single connection used for a whole run.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, wrap("open "+dbPath, err)
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// migrate creates the tables if they are missing; safe to call repeatedly.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	return createSchema(ctx, s.db)
}

func createSchema(ctx context.Context, db execer) error {
	_, err := db.ExecContext(ctx, schema)
	return wrap("create schema", err)
}

func resetTables(ctx context.Context, db execer) error {
	for _, table := range []string{"cycling_counts", "sites"} {
		if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return wrap("drop "+table, err)
		}
	}
	return createSchema(ctx, db)
}

// Reset drops the site and count tables and recreates them empty in its own
// transaction. Run history is kept.
func (s *SQLiteStore) Reset(ctx context.Context) error {
	tx, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := tx.Reset(ctx); err != nil {
		return err
	}
	return tx.Commit()
}

// Tx groups the inserts of one run. Nothing is visible until Commit.
type Tx struct {
	tx   *sql.Tx
	done bool
}

func (s *SQLiteStore) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrap("begin", err)
	}
	return &Tx{tx: tx}, nil
}

// Reset empties the site and count tables as part of the transaction, so a
// rollback restores them.
func (t *Tx) Reset(ctx context.Context) error {
	return resetTables(ctx, t.tx)
}

func (t *Tx) InsertSite(ctx context.Context, site *models.Site) error {
	info, err := site.Info()
	if err != nil {
		return wrap("encode site info", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO sites (oid, name, info, x, y)
		VALUES (?, ?, ?, ?, ?)`,
		site.OID, site.Name, info, site.Coordinates.X, site.Coordinates.Y)
	return wrap("insert site "+site.OID, err)
}

// InsertCounts writes a batch of observations and returns how many were written.
func (t *Tx) InsertCounts(ctx context.Context, obs []models.CountObservation) (int, error) {
	if len(obs) == 0 {
		return 0, nil
	}

	stmt, err := t.tx.PrepareContext(ctx, `INSERT INTO cycling_counts (site, date, value) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, wrap("prepare count insert", err)
	}
	defer stmt.Close()

	for i, o := range obs {
		if _, err := stmt.ExecContext(ctx, o.Site, o.Date.Format(models.DateLayout), o.Value); err != nil {
			return i, wrap(fmt.Sprintf("insert count %s %s", o.Site, o.Date.Format(models.DateLayout)), err)
		}
	}
	return len(obs), nil
}

func (t *Tx) Log(ctx context.Context, entry *models.IngestLog) error {
	return insertLog(ctx, t.tx, entry)
}

func (t *Tx) Commit() error {
	t.done = true
	return wrap("commit", t.tx.Commit())
}

// Rollback is a no-op once the transaction has been committed or rolled back.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return wrap("rollback", t.tx.Rollback())
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *models.IngestRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ingest_runs (id, started_at, status, sites_found, sites_skipped, observations_inserted)
		VALUES (?, ?, ?, 0, 0, 0)`,
		run.ID, run.StartedAt, run.Status)
	return wrap("create run", err)
}

func (s *SQLiteStore) UpdateRun(ctx context.Context, run *models.IngestRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ingest_runs SET finished_at = ?, status = ?, sites_found = ?,
			sites_skipped = ?, observations_inserted = ?, error = ?
		WHERE id = ?`,
		run.FinishedAt, run.Status, run.SitesFound, run.SitesSkipped,
		run.ObservationsInserted, run.Error, run.ID)
	return wrap("update run", err)
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*models.IngestRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, status, sites_found, sites_skipped,
			observations_inserted, COALESCE(error, '')
		FROM ingest_runs WHERE id = ?`, id)

	var run models.IngestRun
	var finished sql.NullTime
	err := row.Scan(&run.ID, &run.StartedAt, &finished, &run.Status, &run.SitesFound,
		&run.SitesSkipped, &run.ObservationsInserted, &run.Error)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, wrap("get run", err)
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return &run, nil
}

// Log writes entry outside any run transaction. A zero Timestamp is stamped
// with the current time.
func (s *SQLiteStore) Log(ctx context.Context, entry *models.IngestLog) error {
	return insertLog(ctx, s.db, entry)
}

func insertLog(ctx context.Context, db execer, entry *models.IngestLog) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO ingest_logs (run_id, timestamp, level, message, site_id)
		VALUES (?, ?, ?, ?, ?)`,
		entry.RunID, entry.Timestamp, entry.Level, entry.Message, entry.SiteID)
	return wrap("write log", err)
}

func (s *SQLiteStore) GetRunLogs(ctx context.Context, runID string) ([]models.IngestLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, timestamp, level, message, COALESCE(site_id, '')
		FROM ingest_logs WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, wrap("get logs", err)
	}
	defer rows.Close()

	var logs []models.IngestLog
	for rows.Next() {
		var l models.IngestLog
		if err := rows.Scan(&l.ID, &l.RunID, &l.Timestamp, &l.Level, &l.Message, &l.SiteID); err != nil {
			return nil, wrap("scan log", err)
		}
		logs = append(logs, l)
	}
	return logs, wrap("get logs", rows.Err())
}

// CountRows returns the number of rows in one of the domain tables.
func (s *SQLiteStore) CountRows(ctx context.Context, table string) (int, error) {
	switch table {
	case "sites", "cycling_counts", "ingest_runs", "ingest_logs":
	default:
		return 0, fmt.Errorf("unknown table %q", table)
	}

	var count int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
	return count, wrap("count "+table, err)
}

func (s *SQLiteStore) GetSites(ctx context.Context) ([]models.Site, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT oid, name, x, y FROM sites ORDER BY rowid`)
	if err != nil {
		return nil, wrap("get sites", err)
	}
	defer rows.Close()

	var sites []models.Site
	for rows.Next() {
		var site models.Site
		if err := rows.Scan(&site.OID, &site.Name, &site.Coordinates.X, &site.Coordinates.Y); err != nil {
			return nil, wrap("scan site", err)
		}
		sites = append(sites, site)
	}
	return sites, wrap("get sites", rows.Err())
}

func (s *SQLiteStore) GetCounts(ctx context.Context, site string) ([]models.CountObservation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT site, date, value FROM cycling_counts WHERE site = ? ORDER BY date, rowid`, site)
	if err != nil {
		return nil, wrap("get counts", err)
	}
	defer rows.Close()

	var obs []models.CountObservation
	for rows.Next() {
		var o models.CountObservation
		if err := rows.Scan(&o.Site, &o.Date, &o.Value); err != nil {
			return nil, wrap("scan count", err)
		}
		obs = append(obs, o)
	}
	return obs, wrap("get counts", rows.Err())
}

// ExportRows joins counts to their sites. Counts whose site is unknown are
// left out. A site stored by several runs joins once, using its latest row.
func (s *SQLiteStore) ExportRows(ctx context.Context) ([]models.ExportRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.site, c.date, c.value, s.name, s.x, s.y
		FROM cycling_counts c
		JOIN (
			SELECT oid, name, x, y FROM sites
			WHERE rowid IN (SELECT MAX(rowid) FROM sites GROUP BY oid)
		) s ON s.oid = c.site
		ORDER BY c.site, c.date`)
	if err != nil {
		return nil, wrap("export query", err)
	}
	defer rows.Close()

	var out []models.ExportRow
	for rows.Next() {
		var r models.ExportRow
		if err := rows.Scan(&r.Site, &r.Date, &r.Value, &r.Name, &r.X, &r.Y); err != nil {
			return nil, wrap("scan export row", err)
		}
		out = append(out, r)
	}
	return out, wrap("export query", rows.Err())
}
