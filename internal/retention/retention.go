// Package retention periodically purges old saved predictions and audit rows.
package retention

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/ivf-outcome-server/internal/domain"
)

// Target deletes entries created before cutoff and reports how many went.
type Target interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// TargetFunc adapts a function to Target.
type TargetFunc func(ctx context.Context, cutoff time.Time) (int64, error)

// PurgeOlderThan calls f.
func (f TargetFunc) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return f(ctx, cutoff)
}

// Scheduler runs purges on a 5-field cron schedule.
type Scheduler struct {
	logger   *logrus.Logger
	schedule cron.Schedule
	spec     string
	maxAge   time.Duration
	targets  map[string]Target
	now      func() time.Time
}

// NewScheduler parses cfg.Schedule, a standard 5-field cron expression such as "0 3 * * *".
func NewScheduler(logger *logrus.Logger, cfg domain.RetentionConfig) (*Scheduler, error) {
	spec := strings.TrimSpace(cfg.Schedule)
	if spec == "" {
		return nil, fmt.Errorf("retention schedule is required")
	}
	if cfg.MaxAge <= 0 {
		return nil, fmt.Errorf("retention max_age must be positive")
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid retention schedule %q: %w", spec, err)
	}

	return &Scheduler{
		logger:   logger,
		schedule: sched,
		spec:     spec,
		maxAge:   cfg.MaxAge,
		targets:  make(map[string]Target),
		now:      time.Now,
	}, nil
}

// Add registers a named purge target. Call before Run.
func (s *Scheduler) Add(name string, t Target) {
	s.targets[name] = t
}

// Next returns the next run time after from.
func (s *Scheduler) Next(from time.Time) time.Time {
	return s.schedule.Next(from)
}

// RunOnce purges every target and returns the rows removed per target. A failing
// target is logged and does not stop the others.
func (s *Scheduler) RunOnce(ctx context.Context) map[string]int64 {
	cutoff := s.now().Add(-s.maxAge).UTC()
	removed := make(map[string]int64, len(s.targets))

	for name, t := range s.targets {
		n, err := t.PurgeOlderThan(ctx, cutoff)
		if err != nil {
			s.logger.WithError(err).WithField("target", name).Error("Retention purge failed")
			continue
		}
		removed[name] = n
		s.logger.WithFields(logrus.Fields{
			"target":  name,
			"removed": n,
			"cutoff":  cutoff,
		}).Info("Retention purge complete")
	}
	return removed
}

// Run blocks, purging on schedule until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.WithFields(logrus.Fields{
		"schedule": s.spec,
		"max_age":  s.maxAge,
	}).Info("Retention scheduler started")

	for {
		now := s.now()
		next := s.schedule.Next(now)
		timer := time.NewTimer(next.Sub(now))
		s.logger.WithField("next_run", next).Debug("Next retention purge scheduled")

		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("Retention scheduler stopped")
			return
		case <-timer.C:
			s.RunOnce(ctx)
		}
	}
}
