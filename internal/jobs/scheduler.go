package jobs

import (
	"context"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/rezapp/backend/internal/config"
)

// Runner is any periodic job the scheduler can drive.
type Runner interface {
	Run(ctx context.Context) (Result, error)
}

// Scheduler drives the billing jobs on their configured cadences.
type Scheduler struct {
	scheduler *gocron.Scheduler
}

// NewScheduler registers the three billing jobs against their configured
// intervals. Call Start to begin ticking.
func NewScheduler(cfg config.JobsConfig, expiry, downgrade, cleanup Runner) (*Scheduler, error) {
	s := gocron.NewScheduler(time.UTC)

	if _, err := s.Every(cfg.ExpiryIntervalMinutes).Minutes().Do(runJob, ExpiryJobName, expiry); err != nil {
		return nil, err
	}
	if _, err := s.Every(cfg.DowngradeIntervalMinutes).Minutes().Do(runJob, DowngradeJobName, downgrade); err != nil {
		return nil, err
	}
	if _, err := s.Every(cfg.UpgradeCleanupIntervalMinutes).Minutes().Do(runJob, UpgradeCleanupJobName, cleanup); err != nil {
		return nil, err
	}

	return &Scheduler{scheduler: s}, nil
}

// Start begins running jobs asynchronously.
func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

// Stop waits for in-flight runs and stops the scheduler.
func (s *Scheduler) Stop() {
	s.scheduler.Stop()
}

func runJob(name string, job Runner) {
	if _, err := job.Run(context.Background()); err != nil {
		log.Printf("Job %s run failed: %v", name, err)
	}
}
