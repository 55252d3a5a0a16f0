package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Invocation is one scheduled unit of work. Run gets a context whose
// deadline is the invocation's wall-clock budget; long-running work (the
// crawler in particular) treats that deadline as its termination signal.
type Invocation struct {
	Name     string
	Schedule string
	Timeout  time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler triggers registered invocations on cron schedules. An
// invocation still running when its next trigger fires is skipped, so one
// slow run never stacks on itself.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// New creates a stopped scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger: logger,
	}
}

// Add registers an invocation. Schedule accepts standard cron specs and
// the "@every" form.
func (s *Scheduler) Add(inv Invocation) error {
	_, err := s.cron.AddFunc(inv.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), inv.Timeout)
		defer cancel()

		start := time.Now()
		s.logger.Info("invocation started", "name", inv.Name)

		if err := inv.Run(ctx); err != nil {
			s.logger.Error("invocation failed",
				"name", inv.Name,
				"duration", time.Since(start),
				"error", err,
			)
			return
		}
		s.logger.Info("invocation finished",
			"name", inv.Name,
			"duration", time.Since(start),
		)
	})
	return err
}

// Start begins triggering invocations.
func (s *Scheduler) Start() {
	s.logger.Info("scheduler started", "entries", len(s.cron.Entries()))
	s.cron.Start()
}

// Stop stops triggering and waits for running invocations, up to the
// context deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.logger.Info("scheduler stopping")
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
