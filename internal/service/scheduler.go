package service

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Job is one periodic maintenance task. Run receives the scheduler's
// context; jobs that touch storage wrap it with their own tenant.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler drives the periodic jobs: event retention, idle-session
// eviction, auto-approval sweeps, and artifact cleanup. Each job gets its
// own ticker so a slow job never delays the others.
type Scheduler struct {
	jobs   []Job
	logger *logrus.Logger

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func NewScheduler(logger *logrus.Logger) *Scheduler {
	return &Scheduler{
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(name string, interval time.Duration, run func(ctx context.Context) error) {
	if interval <= 0 {
		s.logger.WithField(LogFieldJob, name).Warn("Skipping job with non-positive interval")
		return
	}
	s.jobs = append(s.jobs, Job{Name: name, Interval: interval, Run: run})
}

// Start launches one loop per registered job. Every job runs once
// immediately, then on its interval, until ctx is cancelled or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) {
	for _, job := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, job)
	}
	s.logger.WithField(LogFieldCount, len(s.jobs)).Info("Scheduler started")
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	defer s.wg.Done()

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.runJob(ctx, job)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.runJob(ctx, job)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	started := time.Now()
	err := job.Run(ctx)
	fields := logrus.Fields{
		LogFieldJob:      job.Name,
		LogFieldDuration: time.Since(started).Milliseconds(),
	}
	if err != nil {
		s.logger.WithError(err).WithFields(fields).Error("Scheduled job failed")
		return
	}
	s.logger.WithFields(fields).Debug("Scheduled job completed")
}
