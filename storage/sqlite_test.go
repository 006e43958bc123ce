package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecocounter_ingest/models"
)

func newTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cycling.db")
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, path
}

func date(s string) time.Time {
	d, _ := time.Parse(models.DateLayout, s)
	return d
}

var mainSt = models.Site{
	OID:         "A1",
	Name:        "Main St",
	Coordinates: models.Coordinates{X: 172.6, Y: -43.5},
}

func insertSiteAndCounts(t *testing.T, store *SQLiteStore, site models.Site, obs []models.CountObservation) {
	t.Helper()
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	require.NoError(t, tx.InsertSite(ctx, &site))
	n, err := tx.InsertCounts(ctx, obs)
	require.NoError(t, err)
	require.Equal(t, len(obs), n)
	require.NoError(t, tx.Commit())
}

func TestNewSQLiteStore_SchemaIsIdempotent(t *testing.T) {
	store, path := newTestStore(t)
	insertSiteAndCounts(t, store, mainSt, nil)
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	count, err := reopened.CountRows(context.Background(), "sites")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNewSQLiteStore_BadPath(t *testing.T) {
	_, err := NewSQLiteStore(filepath.Join(t.TempDir(), "missing", "dir", "cycling.db"))
	require.Error(t, err)

	var storageErr *StorageError
	assert.True(t, errors.As(err, &storageErr))
}

func TestTx_InsertAndExport(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	insertSiteAndCounts(t, store, mainSt, []models.CountObservation{
		{Site: "A1", Date: date("2023-01-01"), Value: 5},
		{Site: "A1", Date: date("2023-01-02"), Value: 9},
	})

	counts, err := store.GetCounts(ctx, "A1")
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, date("2023-01-01"), counts[0].Date.UTC())
	assert.Equal(t, 9, counts[1].Value)

	rows, err := store.ExportRows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "A1", rows[0].Site)
	assert.Equal(t, "Main St", rows[0].Name)
	assert.Equal(t, 172.6, rows[0].X)
	assert.Equal(t, -43.5, rows[0].Y)
	assert.Equal(t, 5, rows[0].Value)
	assert.Equal(t, date("2023-01-02"), rows[1].Date.UTC())
}

func TestTx_SiteInfoIsStored(t *testing.T) {
	store, _ := newTestStore(t)
	site := mainSt
	site.Direction = models.DirectionBoth
	insertSiteAndCounts(t, store, site, nil)

	var info string
	require.NoError(t, store.db.QueryRow(`SELECT info FROM sites WHERE oid = 'A1'`).Scan(&info))
	assert.Contains(t, info, `"direction":"both"`)
	assert.Contains(t, info, `"name":"Main St"`)
}

func TestExportRows_DropsCountsForUnknownSites(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	insertSiteAndCounts(t, store, mainSt, []models.CountObservation{
		{Site: "A1", Date: date("2023-01-01"), Value: 5},
		{Site: "ORPHAN", Date: date("2023-01-01"), Value: 7},
	})

	total, err := store.CountRows(ctx, "cycling_counts")
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	rows, err := store.ExportRows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "A1", rows[0].Site)
}

func TestExportRows_DuplicateSiteRowsJoinOnce(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	obs := []models.CountObservation{{Site: "A1", Date: date("2023-01-01"), Value: 5}}
	insertSiteAndCounts(t, store, mainSt, obs)

	renamed := mainSt
	renamed.Name = "Main Street"
	insertSiteAndCounts(t, store, renamed, obs)

	sites, err := store.CountRows(ctx, "sites")
	require.NoError(t, err)
	assert.Equal(t, 2, sites)

	rows, err := store.ExportRows(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.Equal(t, "Main Street", r.Name)
	}
}

func TestTx_RollbackDiscardsInserts(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertSite(ctx, &mainSt))
	require.NoError(t, tx.Rollback())
	require.NoError(t, tx.Rollback(), "second rollback is a no-op")

	count, err := store.CountRows(ctx, "sites")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestTx_RollbackAfterCommitIsNoop(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.InsertSite(ctx, &mainSt))
	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Rollback())

	count, err := store.CountRows(ctx, "sites")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestReset_EmptiesDomainTablesButKeepsRuns(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	insertSiteAndCounts(t, store, mainSt, []models.CountObservation{{Site: "A1", Date: date("2023-01-01"), Value: 5}})
	require.NoError(t, store.CreateRun(ctx, &models.IngestRun{ID: "run-1", StartedAt: time.Now(), Status: models.RunStatusRunning}))

	require.NoError(t, store.Reset(ctx))

	for table, want := range map[string]int{"sites": 0, "cycling_counts": 0, "ingest_runs": 1} {
		got, err := store.CountRows(ctx, table)
		require.NoError(t, err)
		assert.Equal(t, want, got, table)
	}
}

func TestTxReset_RollbackRestoresTables(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	insertSiteAndCounts(t, store, mainSt, []models.CountObservation{{Site: "A1", Date: date("2023-01-01"), Value: 5}})

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Reset(ctx))
	require.NoError(t, tx.Rollback())

	for _, table := range []string{"sites", "cycling_counts"} {
		got, err := store.CountRows(ctx, table)
		require.NoError(t, err)
		assert.Equal(t, 1, got, table)
	}
}

func TestRuns_CreateUpdateGet(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	started := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	run := &models.IngestRun{ID: "run-1", StartedAt: started, Status: models.RunStatusRunning}
	require.NoError(t, store.CreateRun(ctx, run))

	got, err := store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.RunStatusRunning, got.Status)
	assert.Nil(t, got.FinishedAt)
	assert.True(t, started.Equal(got.StartedAt))

	finished := started.Add(time.Minute)
	run.FinishedAt = &finished
	run.Status = models.RunStatusFailed
	run.SitesFound = 3
	run.SitesSkipped = 1
	run.ObservationsInserted = 10
	run.Error = "boom"
	require.NoError(t, store.UpdateRun(ctx, run))

	got, err = store.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, got.Status)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, finished.Equal(*got.FinishedAt))
	assert.Equal(t, 3, got.SitesFound)
	assert.Equal(t, 1, got.SitesSkipped)
	assert.Equal(t, 10, got.ObservationsInserted)
	assert.Equal(t, "boom", got.Error)

	missing, err := store.GetRun(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestLogs_StoreAndTx(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	stamped := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Log(ctx, &models.IngestLog{RunID: "run-1", Level: models.LogLevelInfo, Message: "starting"}))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Log(ctx, &models.IngestLog{
		RunID: "run-1", Timestamp: stamped, Level: models.LogLevelWarn, Message: "short series", SiteID: "A1",
	}))
	require.NoError(t, tx.Commit())

	logs, err := store.GetRunLogs(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "starting", logs[0].Message)
	assert.False(t, logs[0].Timestamp.IsZero())
	assert.Equal(t, models.LogLevelWarn, logs[1].Level)
	assert.Equal(t, "A1", logs[1].SiteID)
	assert.True(t, stamped.Equal(logs[1].Timestamp), "got %v", logs[1].Timestamp)
}

func TestCountRows_UnknownTable(t *testing.T) {
	store, _ := newTestStore(t)
	_, err := store.CountRows(context.Background(), "sites; DROP TABLE sites")
	assert.Error(t, err)
}
