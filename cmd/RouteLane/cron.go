package main

import (
	"context"
	"fmt"
	"time"

	"RouteLane/internal/biz"
	"RouteLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/robfig/cron/v3"
)

// Scheduler runs the periodic maintenance jobs: the registry reaper and the
// discovery sync. It implements transport.Server so kratos owns its
// lifecycle.
type Scheduler struct {
	cron   *cron.Cron
	logger *log.Helper
}

// NewScheduler registers the jobs. The discovery job is only added when
// discovery is enabled.
func NewScheduler(c *conf.Registry, registry *biz.ServiceRegistry, discovery *biz.DiscoveryUsecase, logger log.Logger) (*Scheduler, error) {
	helper := log.NewHelper(log.With(logger, "module", "scheduler"))

	cl := cronLogger{helper: helper}
	s := &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		logger: helper,
	}

	reapEvery := 10 * time.Second
	if c != nil && c.ReapInterval > 0 {
		reapEvery = c.ReapInterval
	}
	if _, err := s.cron.AddFunc(every(reapEvery), func() {
		if removed := registry.Reap(); len(removed) > 0 {
			helper.Infow("msg", "reaped stale instances", "count", len(removed))
		}
	}); err != nil {
		return nil, fmt.Errorf("failed to register reaper job: %w", err)
	}

	if discovery.Enabled() {
		interval := discovery.Interval()
		if _, err := s.cron.AddFunc(every(interval), func() {
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			defer cancel()
			if _, err := discovery.Sync(ctx); err != nil {
				helper.Errorw("msg", "discovery sync failed", "error", err)
			}
		}); err != nil {
			return nil, fmt.Errorf("failed to register discovery job: %w", err)
		}
	}

	return s, nil
}

// every builds an @every schedule; cron's resolution is one second.
func every(d time.Duration) string {
	if d < time.Second {
		d = time.Second
	}
	return "@every " + d.String()
}

// Start implements transport.Server.
func (s *Scheduler) Start(context.Context) error {
	s.cron.Start()
	s.logger.Infow("msg", "scheduler started", "jobs", len(s.cron.Entries()))
	return nil
}

// Stop implements transport.Server. It waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	select {
	case <-s.cron.Stop().Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts log.Helper to cron.Logger.
type cronLogger struct {
	helper *log.Helper
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.helper.Debugw(append([]interface{}{"msg", msg}, keysAndValues...)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.helper.Errorw(append([]interface{}{"msg", msg, "error", err}, keysAndValues...)...)
}
