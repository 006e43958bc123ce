package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ecocounter_ingest/models"
)

func TestExportCopyRows(t *testing.T) {
	d := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := exportCopyRows("run-1", []models.ExportRow{
		{Site: "A1", Date: d, Value: 5, Name: "Main St", X: 172.6, Y: -43.5},
	})

	require.Len(t, rows, 1)
	require.Len(t, rows[0], len(exportColumns))
	assert.Equal(t, []any{"run-1", "A1", d, int32(5), "Main St", 172.6, -43.5}, rows[0])
}

// Runs against a real database only when TEST_DATABASE_URL is set.
func TestPostgresStore_PublishExport(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	store, err := NewPostgresStore(ctx, dsn)
	require.NoError(t, err)
	defer store.Close()

	d := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []models.ExportRow{
		{Site: "A1", Date: d, Value: 5, Name: "Main St", X: 172.6, Y: -43.5},
		{Site: "A1", Date: d.AddDate(0, 0, 1), Value: 9, Name: "Main St", X: 172.6, Y: -43.5},
	}

	n, err := store.PublishExport(ctx, "run-1", rows)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	// publishing again replaces rather than appends
	n, err = store.PublishExport(ctx, "run-2", rows[:1])
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	var count int
	require.NoError(t, store.pool.QueryRow(ctx, `SELECT COUNT(*) FROM cycling_counts_export`).Scan(&count))
	assert.Equal(t, 1, count)
}
