package worker

import (
	"context"
	"sync"
	"time"

	"marketplace-ledger/internal/util"

	"go.uber.org/zap"
)

// Job is a periodic background task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler runs jobs on their own tickers. A job never overlaps with itself.
type Scheduler struct {
	jobs   []Job
	logger *zap.Logger
}

func NewScheduler(jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs, logger: util.ComponentLogger("scheduler")}
}

// Start blocks until ctx is cancelled and every running job has returned.
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, job := range s.jobs {
		if job.Interval <= 0 {
			s.logger.Warn("Job disabled", zap.String("job", job.Name))
			continue
		}
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.loop(ctx, job)
		}(job)
	}
	wg.Wait()
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	s.logger.Info("Job scheduled", zap.String("job", job.Name), zap.Duration("interval", job.Interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := job.Run(ctx); err != nil {
				s.logger.Error("Job failed", zap.String("job", job.Name), zap.Error(err))
				continue
			}
			s.logger.Debug("Job finished", zap.String("job", job.Name), zap.Duration("took", time.Since(start)))
		}
	}
}
