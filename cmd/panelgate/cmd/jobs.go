package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// scheduler runs background maintenance jobs on cron schedules. A job
// still running when its next tick fires is skipped.
type scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

func newScheduler(logger *slog.Logger) *scheduler {
	logger = logger.With("component", "scheduler")
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelDebug))
	return &scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cronLogger),
			cron.SkipIfStillRunning(cronLogger),
		)),
		logger: logger,
	}
}

// add registers fn under name. spec uses the standard five-field syntax or
// descriptors such as "@every 5m".
func (s *scheduler) add(ctx context.Context, name, spec string, fn func(context.Context)) error {
	if _, err := s.cron.AddFunc(spec, func() { fn(ctx) }); err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}
	s.logger.Info("job scheduled", "job", name, "schedule", spec)
	return nil
}

func (s *scheduler) start() {
	s.cron.Start()
}

// stop prevents new runs and waits for running jobs to finish.
func (s *scheduler) stop() {
	<-s.cron.Stop().Done()
}
