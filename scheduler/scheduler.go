package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/robfig/cron/v3"

	"ecocounter_ingest/models"
	"ecocounter_ingest/scraper"
)

// Runner is the part of the orchestrator the scheduler drives.
type Runner interface {
	RunAll(ctx context.Context, opts scraper.RunOptions) (*models.IngestRun, error)
}

type Scheduler struct {
	schedule string
	runner   Runner
	opts     scraper.RunOptions
	cron     *cron.Cron
}

func New(schedule string, runner Runner, opts scraper.RunOptions) *Scheduler {
	return &Scheduler{
		schedule: schedule,
		runner:   runner,
		opts:     opts,
		cron:     cron.New(),
	}
}

// Start registers the pipeline on the cron schedule and starts the cron loop.
// Runs use ctx, so cancelling it aborts an in-flight run.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.schedule == "" {
		return errors.New("no cron schedule configured (set SCHEDULE_CRON)")
	}

	log.Printf("Starting scheduler with cron: %s", s.schedule)
	_, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.TriggerNow(ctx); err != nil {
			log.Printf("Scheduled run error: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running job to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) TriggerNow(ctx context.Context) error {
	run, err := s.runner.RunAll(ctx, s.opts)
	if errors.Is(err, scraper.ErrRunInProgress) {
		log.Println("Previous run still in progress, skipping")
		return nil
	}
	if err != nil {
		return err
	}
	if run != nil {
		log.Printf("Run %s %s: %d observations", run.ID, run.Status, run.ObservationsInserted)
	}
	return nil
}
