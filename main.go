package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ecocounter_ingest/config"
	"ecocounter_ingest/export"
	"ecocounter_ingest/httputil"
	"ecocounter_ingest/logging"
	"ecocounter_ingest/models"
	"ecocounter_ingest/observability"
	"ecocounter_ingest/scheduler"
	"ecocounter_ingest/scraper"
	"ecocounter_ingest/storage"
)

var (
	refresh = flag.Bool("refresh", true, "Download sites and counts before exporting (overrides REFRESH)")
	reset   = flag.Bool("reset", false, "Drop existing sites and counts before downloading (overrides RESET_DB)")
	daemon  = flag.Bool("daemon", false, "Run on SCHEDULE_CRON until interrupted")
	inspect = flag.Bool("inspect", false, "Print the row count and first rows of the export file and exit")
)

const inspectRows = 5

func main() {
	flag.Parse()
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if err := run(); err != nil {
		log.Fatalf("ecocounter_ingest: %v", err)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyFlags(cfg)

	logFile, err := logging.Setup(cfg.LogPath, cfg.LogMaxSize)
	if err != nil {
		log.Printf("Warning: could not set up file logging: %v", err)
	} else {
		defer logFile.Close()
	}

	if *inspect {
		return inspectExport(cfg.ExportPath)
	}

	log.Println("Starting ecocounter_ingest...")
	log.Printf("Source: %s", cfg.Source.BaseURL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Printf("SQLite database: %s", cfg.DBPath)

	client := scraper.NewClient(cfg.Source, httputil.NewAPIClient(&cfg.Source, &cfg.Proxy))
	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	orchestrator := scraper.NewOrchestrator(client, store, metrics)

	if cfg.S3.Enabled() {
		uploader, err := storage.NewS3Uploader(ctx, cfg.S3)
		if err != nil {
			return err
		}
		orchestrator.AddPublisher(uploader)
		log.Printf("Publishing export to %s", uploader.Name())
	}

	if cfg.DatabaseURL != "" {
		pgStore, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer pgStore.Close()
		orchestrator.AddPublisher(pgStore)
		log.Printf("Publishing export to Postgres: %s", maskConnectionString(cfg.DatabaseURL))
	}

	opts := scraper.RunOptions{
		Refresh:    cfg.Refresh,
		Reset:      cfg.ResetDB,
		ExportPath: cfg.ExportPath,
	}

	if !*daemon {
		run, err := orchestrator.RunAll(ctx, opts)
		if err != nil {
			return err
		}
		if run != nil {
			log.Printf("Run %s complete: %d sites (%d aggregate), %d observations",
				run.ID, run.SitesFound, run.SitesSkipped, run.ObservationsInserted)
		}
		return nil
	}

	return runDaemon(ctx, cfg, orchestrator, opts)
}

func runDaemon(ctx context.Context, cfg *config.Config, orchestrator *scraper.Orchestrator, opts scraper.RunOptions) error {
	// Reset only applies to the first scheduled run.
	sched := scheduler.New(cfg.Scheduler.Cron, resetOnce(orchestrator), opts)
	if err := sched.Start(ctx); err != nil {
		return err
	}

	var metricsServer *observability.Server
	if cfg.MetricsAddr != "" {
		metricsServer = observability.NewServer(cfg.MetricsAddr, prometheus.DefaultGatherer)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Printf("Metrics server error: %v", err)
			}
		}()
	}

	log.Println("Daemon running. Press Ctrl+C to stop.")
	<-ctx.Done()

	log.Println("Shutting down...")
	sched.Stop()
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Metrics server shutdown: %v", err)
		}
	}
	log.Println("Goodbye!")
	return nil
}

type resetOnceRunner struct {
	orchestrator *scraper.Orchestrator
	done         atomic.Bool
}

func resetOnce(o *scraper.Orchestrator) *resetOnceRunner {
	return &resetOnceRunner{orchestrator: o}
}

func (r *resetOnceRunner) RunAll(ctx context.Context, opts scraper.RunOptions) (*models.IngestRun, error) {
	if r.done.Load() {
		opts.Reset = false
	}
	run, err := r.orchestrator.RunAll(ctx, opts)
	if err == nil {
		r.done.Store(true)
	}
	return run, err
}

// applyFlags lets explicitly set flags win over env and file config.
func applyFlags(cfg *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "refresh":
			cfg.Refresh = *refresh
		case "reset":
			cfg.ResetDB = *reset
		}
	})
}

func inspectExport(path string) error {
	rows, err := export.ReadParquet(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	fmt.Printf("%s: %d rows\n", path, len(rows))
	for i, r := range rows {
		if i == inspectRows {
			break
		}
		fmt.Printf("%-10s %s %6d  %-30s %.6f %.6f\n",
			r.Site, r.Date.Format("2006-01-02"), r.Value, r.Name, r.X, r.Y)
	}
	return nil
}

// maskConnectionString hides the password in a connection URL for logging
func maskConnectionString(connStr string) string {
	scheme := strings.Index(connStr, "://")
	if scheme < 0 {
		return connStr
	}
	rest := connStr[scheme+3:]
	at := strings.Index(rest, "@")
	if at < 0 {
		return connStr
	}
	colon := strings.Index(rest[:at], ":")
	if colon < 0 {
		return connStr
	}
	return connStr[:scheme+3] + rest[:colon+1] + "****" + rest[at:]
}
