// Package scheduler runs every target on a cron schedule, seals abandoned
// runs, and reloads the targets file when it changes.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tappedai/event-crawler/internal/config"
	"github.com/tappedai/event-crawler/internal/domain"
	"github.com/tappedai/event-crawler/internal/pipeline"
	"github.com/tappedai/event-crawler/internal/watcher"
)

// Runner runs a list of targets.
type Runner interface {
	RunAll(ctx context.Context, targets []domain.ScraperConfig, online bool) ([]*pipeline.Report, error)
}

// Sweeper seals runs that stopped heartbeating.
type Sweeper interface {
	SweepStale(ctx context.Context, olderThan time.Duration) ([]string, error)
}

// Options configure a Scheduler.
type Options struct {
	// Spec is the cron spec for crawl cycles, e.g. "@every 24h".
	Spec string
	// SweepSpec is the cron spec for the stale-run sweep.
	SweepSpec  string
	StaleAfter time.Duration
	// TargetsPath is watched for changes when set.
	TargetsPath string
	Online      bool
}

// Scheduler wraps robfig/cron.
type Scheduler struct {
	cron    *cron.Cron
	runner  Runner
	sweeper Sweeper
	opts    Options
	logger  *slog.Logger

	mu      sync.RWMutex
	targets []domain.ScraperConfig

	watcher  *watcher.Watcher
	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once
}

// New creates a scheduler over the initial targets.
func New(runner Runner, sweeper Sweeper, targets []domain.ScraperConfig, opts Options, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	return &Scheduler{
		cron:    cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.SkipIfStillRunning(cronLogger))),
		runner:  runner,
		sweeper: sweeper,
		opts:    opts,
		logger:  logger,
		targets: slices.Clone(targets),
		done:    make(chan struct{}),
	}
}

// Start registers the jobs and starts the cron loop. Jobs run with ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.opts.Spec, func() { s.RunCycle(ctx) }); err != nil {
		return fmt.Errorf("schedule crawl %q: %w", s.opts.Spec, err)
	}
	if s.sweeper != nil && s.opts.SweepSpec != "" && s.opts.StaleAfter > 0 {
		if _, err := s.cron.AddFunc(s.opts.SweepSpec, func() { s.Sweep(ctx) }); err != nil {
			return fmt.Errorf("schedule sweep %q: %w", s.opts.SweepSpec, err)
		}
	}

	if s.opts.TargetsPath != "" {
		if err := s.watchTargets(ctx); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started", "spec", s.opts.Spec, "sweep_spec", s.opts.SweepSpec, "targets", len(s.Targets()))
	return nil
}

// Stop stops the cron loop and waits for running jobs or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	s.stopOnce.Do(func() { close(s.done) })
	if s.watcher != nil {
		_ = s.watcher.Stop()
	}

	select {
	case <-stopped.Done():
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// Targets returns the current target list.
func (s *Scheduler) Targets() []domain.ScraperConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.targets)
}

// SetTargets replaces the target list used by the next cycle.
func (s *Scheduler) SetTargets(targets []domain.ScraperConfig) {
	s.mu.Lock()
	s.targets = slices.Clone(targets)
	s.mu.Unlock()
}

// RunCycle runs every current target once.
func (s *Scheduler) RunCycle(ctx context.Context) {
	targets := s.Targets()
	if len(targets) == 0 {
		s.logger.Info("no targets, nothing to crawl")
		return
	}

	s.logger.Info("crawl cycle started", "targets", len(targets))
	reports, err := s.runner.RunAll(ctx, targets, s.opts.Online)
	if err != nil {
		s.logger.Error("crawl cycle finished with failures", "error", err)
	}

	var events, bookings int
	for _, r := range reports {
		if r == nil {
			continue
		}
		events += r.NewEvents
		bookings += r.BookingsCreated
	}
	s.logger.Info("crawl cycle complete", "runs", len(reports), "new_events", events, "bookings_created", bookings)
}

// Sweep seals stale runs.
func (s *Scheduler) Sweep(ctx context.Context) {
	ids, err := s.sweeper.SweepStale(ctx, s.opts.StaleAfter)
	if err != nil {
		s.logger.Error("stale run sweep failed", "error", err)
		return
	}
	if len(ids) > 0 {
		s.logger.Info("stale runs sealed", "count", len(ids))
	}
}

// Reload re-reads the targets file. On error the current list is kept.
func (s *Scheduler) Reload() error {
	targets, err := config.LoadTargets(s.opts.TargetsPath)
	if err != nil {
		return err
	}
	s.SetTargets(targets)
	s.logger.Info("targets reloaded", "path", s.opts.TargetsPath, "targets", len(targets))
	return nil
}

func (s *Scheduler) watchTargets(ctx context.Context) error {
	w, err := watcher.New(s.logger, watcher.Options{SettleDelay: 250 * time.Millisecond})
	if err != nil {
		return fmt.Errorf("create targets watcher: %w", err)
	}
	if err := w.Watch(s.opts.TargetsPath); err != nil {
		_ = w.Stop()
		return fmt.Errorf("watch targets file: %w", err)
	}
	s.watcher = w

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		_ = w.Start(ctx)
	}()
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.done:
				return
			case event, ok := <-w.Events():
				if !ok {
					return
				}
				if event.Type == watcher.EventRemoved {
					s.logger.Warn("targets file removed, keeping current targets", "path", event.Path)
					continue
				}
				if err := s.Reload(); err != nil {
					s.logger.Error("targets reload failed, keeping current targets", "error", err)
				}
			case err, ok := <-w.Errors():
				if !ok {
					return
				}
				s.logger.Warn("targets watcher error", "error", err)
			}
		}
	}()
	return nil
}
