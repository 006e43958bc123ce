package scraper

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"ecocounter_ingest/export"
	"ecocounter_ingest/models"
	"ecocounter_ingest/observability"
	"ecocounter_ingest/storage"
)

var ErrRunInProgress = errors.New("an ingest run is already in progress")

// Publisher receives the export after it has been written.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, runID, exportPath string, rows []models.ExportRow) error
}

type RunOptions struct {
	Refresh    bool // download before exporting
	Reset      bool // drop existing sites and counts first
	ExportPath string
}

type runLogger interface {
	Log(ctx context.Context, entry *models.IngestLog) error
}

type Orchestrator struct {
	source     Source
	store      *storage.SQLiteStore
	metrics    *observability.Metrics
	clock      clockwork.Clock
	publishers []Publisher
	mu         sync.Mutex
}

func NewOrchestrator(source Source, store *storage.SQLiteStore, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		source:  source,
		store:   store,
		metrics: metrics,
		clock:   clockwork.NewRealClock(),
	}
}

// SetClock swaps the time source used for run timestamps.
func (o *Orchestrator) SetClock(c clockwork.Clock) {
	o.clock = c
}

func (o *Orchestrator) AddPublisher(p Publisher) {
	o.publishers = append(o.publishers, p)
}

// RunAll is one full pass: optional reset, optional download, export, publish.
// Overlapping calls fail with ErrRunInProgress.
func (o *Orchestrator) RunAll(ctx context.Context, opts RunOptions) (*models.IngestRun, error) {
	if !o.mu.TryLock() {
		return nil, ErrRunInProgress
	}
	defer o.mu.Unlock()

	var run *models.IngestRun
	runID := uuid.NewString()
	if opts.Refresh {
		var err error
		run, err = o.Ingest(ctx, runID, opts.Reset)
		if err != nil {
			return run, err
		}
	} else {
		if opts.Reset {
			log.Println("Resetting sites and cycling_counts")
			if err := o.store.Reset(ctx); err != nil {
				return nil, err
			}
		}
		log.Println("Refresh disabled, exporting existing data")
	}

	rows, err := o.Export(ctx, opts.ExportPath)
	if err != nil {
		return run, err
	}

	for _, p := range o.publishers {
		if err := p.Publish(ctx, runID, opts.ExportPath, rows); err != nil {
			return run, fmt.Errorf("publish to %s: %w", p.Name(), err)
		}
		log.Printf("Published export to %s", p.Name())
	}

	return run, nil
}

// Ingest downloads the catalog and the counts of every non-aggregate site
// and stores them in a single transaction. With reset, the existing sites
// and counts are dropped in that same transaction, so a failed run leaves
// them in place. The run record is kept whether or not the transaction
// commits.
func (o *Orchestrator) Ingest(ctx context.Context, runID string, reset bool) (*models.IngestRun, error) {
	run := &models.IngestRun{
		ID:        runID,
		StartedAt: o.clock.Now(),
		Status:    models.RunStatusRunning,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		return run, err
	}

	tx, err := o.store.Begin(ctx)
	if err != nil {
		return o.finish(ctx, run, err)
	}
	defer tx.Rollback()

	if reset {
		o.log(ctx, tx, run.ID, models.LogLevelInfo, "Resetting sites and cycling_counts", "")
		if err := tx.Reset(ctx); err != nil {
			tx.Rollback()
			return o.finish(ctx, run, err)
		}
	}

	if err := o.ingest(ctx, tx, run); err != nil {
		tx.Rollback()
		return o.finish(ctx, run, err)
	}

	o.log(ctx, tx, run.ID, models.LogLevelInfo,
		fmt.Sprintf("Completed: %d sites, %d aggregate skipped, %d observations",
			run.SitesFound, run.SitesSkipped, run.ObservationsInserted), "")

	if err := tx.Commit(); err != nil {
		return o.finish(ctx, run, err)
	}
	return o.finish(ctx, run, nil)
}

func (o *Orchestrator) ingest(ctx context.Context, tx *storage.Tx, run *models.IngestRun) error {
	o.log(ctx, tx, run.ID, models.LogLevelInfo, "Downloading list of sites", "")

	sites, err := o.source.FetchSites(ctx)
	if err != nil {
		o.countFetchError(err)
		return fmt.Errorf("fetch sites: %w", err)
	}
	run.SitesFound = len(sites)

	for i := range sites {
		site := &sites[i]

		if err := tx.InsertSite(ctx, site); err != nil {
			return err
		}

		if site.Total {
			run.SitesSkipped++
			continue
		}

		o.log(ctx, tx, run.ID, models.LogLevelInfo,
			fmt.Sprintf("%s %s (%.6f, %.6f)", site.OID, site.Name, site.Coordinates.X, site.Coordinates.Y), site.OID)

		series, err := o.source.FetchCounts(ctx, site.OID)
		if err != nil {
			o.countFetchError(err)
			return fmt.Errorf("fetch counts for %s: %w", site.OID, err)
		}

		if series.Mismatched() {
			o.log(ctx, tx, run.ID, models.LogLevelWarn,
				fmt.Sprintf("%d dates but %d values, keeping the first %d",
					len(series.Dates), len(series.Values), min(len(series.Dates), len(series.Values))), site.OID)
		}

		n, err := tx.InsertCounts(ctx, series.Observations(site.OID))
		if err != nil {
			return err
		}
		run.ObservationsInserted += n
	}

	return nil
}

// finish records the outcome of a run. It uses a context detached from
// cancellation so an aborted run is still written down.
func (o *Orchestrator) finish(ctx context.Context, run *models.IngestRun, runErr error) (*models.IngestRun, error) {
	ctx = context.WithoutCancel(ctx)
	now := o.clock.Now()
	run.FinishedAt = &now

	if runErr != nil {
		run.Status = models.RunStatusFailed
		run.Error = runErr.Error()
		o.log(ctx, o.store, run.ID, models.LogLevelError, fmt.Sprintf("Run failed: %v", runErr), "")
	} else {
		run.Status = models.RunStatusCompleted
	}

	if err := o.store.UpdateRun(ctx, run); err != nil {
		log.Printf("Warning: failed to update run %s: %v", run.ID, err)
		if runErr == nil {
			runErr = err
		}
	}

	o.metrics.RunsTotal.WithLabelValues(string(run.Status)).Inc()
	o.metrics.RunDuration.Observe(now.Sub(run.StartedAt).Seconds())
	if run.Status == models.RunStatusCompleted {
		o.metrics.SitesFetched.Add(float64(run.SitesFound - run.SitesSkipped))
		o.metrics.SitesSkipped.Add(float64(run.SitesSkipped))
		o.metrics.ObservationsInserted.Add(float64(run.ObservationsInserted))
		o.metrics.LastSuccess.Set(float64(now.Unix()))
	}

	return run, runErr
}

// Export writes the joined extract to path, replacing any previous file.
func (o *Orchestrator) Export(ctx context.Context, path string) ([]models.ExportRow, error) {
	rows, err := o.store.ExportRows(ctx)
	if err != nil {
		return nil, err
	}

	if err := export.WriteParquet(path, rows); err != nil {
		return nil, &storage.StorageError{Op: "export " + path, Err: err}
	}

	o.metrics.ExportRows.Set(float64(len(rows)))
	log.Printf("Exported %d rows to %s", len(rows), path)
	return rows, nil
}

func (o *Orchestrator) countFetchError(err error) {
	var netErr *NetworkError
	var parseErr *ParseError
	switch {
	case errors.As(err, &netErr):
		o.metrics.FetchErrors.WithLabelValues("network").Inc()
	case errors.As(err, &parseErr):
		o.metrics.FetchErrors.WithLabelValues("parse").Inc()
	}
}

func (o *Orchestrator) log(ctx context.Context, dst runLogger, runID string, level models.LogLevel, message, siteID string) {
	if siteID != "" {
		log.Printf("[%s] %s: %s", level, siteID, message)
	} else {
		log.Printf("[%s] %s", level, message)
	}
	entry := &models.IngestLog{
		RunID:     runID,
		Timestamp: o.clock.Now(),
		Level:     level,
		Message:   message,
		SiteID:    siteID,
	}
	if err := dst.Log(ctx, entry); err != nil {
		log.Printf("Warning: failed to persist log line: %v", err)
	}
}
