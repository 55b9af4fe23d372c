// Package main provides the entry point for the event crawler.
//
// Usage:
//
//	crawler -target ember_music_hall            # dry run one target
//	crawler -target ember_music_hall -online    # crawl and write
//	crawler -all -online                        # every target, in order
//	crawler -serve -online                      # scheduler and ops server
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/do/v2"

	"github.com/tappedai/event-crawler/internal/config"
	"github.com/tappedai/event-crawler/internal/di"
	"github.com/tappedai/event-crawler/internal/logger"
	"github.com/tappedai/event-crawler/internal/pipeline"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 2
	}
	if !cfg.Run.Serve && !cfg.Run.All && cfg.Run.Target == "" {
		fmt.Fprintln(os.Stderr, "Nothing to do: pass -target <id|username>, -all or -serve")
		return 2
	}

	injector := di.NewContainer(cfg)
	defer func() {
		if report := injector.Shutdown(); !report.Succeed {
			fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", report)
		}
	}()

	coordinator, targets, err := di.Bootstrap(injector)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap crawler: %v\n", err)
		return 1
	}
	log := do.MustInvoke[*logger.Logger](injector)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch {
	case cfg.Run.Serve:
		if err := di.Serve(injector); err != nil {
			log.Error("Failed to start scheduler", "error", err)
			return 1
		}
		<-ctx.Done()
		log.Info("Shutting down gracefully...")
		return 0

	case cfg.Run.All:
		reports, err := coordinator.RunAll(ctx, targets, cfg.Run.Online)
		for _, r := range reports {
			logReport(log, r)
		}
		if err != nil {
			log.Error("Crawl finished with failures", "error", err)
			return 1
		}
		return 0

	default:
		target, ok := config.FindTarget(targets, cfg.Run.Target)
		if !ok {
			log.Error("Unknown target", "target", cfg.Run.Target, "targets_path", cfg.Targets.Path)
			return 2
		}
		report, err := coordinator.Run(ctx, target, cfg.Run.Online)
		logReport(log, report)
		if err != nil {
			log.Error("Crawl failed", "scraper_id", target.ID, "error", err)
			return 1
		}
		return 0
	}
}

func logReport(log *logger.Logger, r *pipeline.Report) {
	if r == nil {
		return
	}
	log.Info("Crawl report",
		"scraper_id", r.ScraperID,
		"run_id", r.RunID,
		"online", r.Online,
		"duration", r.Duration,
		"candidates", r.Candidates,
		"pages_visited", r.Stats.Visited,
		"new_events", r.NewEvents,
		"non_music_events", r.NonMusicEvents,
		"bookings_created", r.BookingsCreated,
		"bookings_skipped", r.BookingsSkipped,
		"bookings_planned", r.BookingsPlanned,
		"performers_created", r.PerformersCreated,
		"performer_failures", r.PerformerFailures,
	)
}
