package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/tappedai/event-crawler/internal/config"
	"github.com/tappedai/event-crawler/internal/ledger"
	"github.com/tappedai/event-crawler/internal/logger"
	"github.com/tappedai/event-crawler/internal/pipeline"
	"github.com/tappedai/event-crawler/internal/scheduler"
)

// SchedulerHandle wraps the scheduler with shutdown capability.
type SchedulerHandle struct {
	*scheduler.Scheduler
	cancel context.CancelFunc
}

// Shutdown implements do.Shutdownable.
func (h *SchedulerHandle) Shutdown() error {
	h.cancel()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Stop(ctx)
}

// ProvideScheduler starts the periodic crawl, the stale-run sweep and the
// targets file watcher.
func ProvideScheduler(i do.Injector) (*SchedulerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	targets := do.MustInvoke[Targets](i)
	coordinator := do.MustInvoke[*pipeline.Coordinator](i)
	runLedger := do.MustInvoke[*ledger.Ledger](i)

	sched := scheduler.New(coordinator, runLedger, targets, scheduler.Options{
		Spec:        cfg.Schedule.Spec,
		SweepSpec:   cfg.Schedule.SweepSpec,
		StaleAfter:  cfg.Schedule.StaleTimeout,
		TargetsPath: cfg.Targets.Path,
		Online:      cfg.Run.Online,
	}, log.Logger)

	ctx, cancel := context.WithCancel(context.Background())
	if err := sched.Start(ctx); err != nil {
		cancel()
		return nil, err
	}

	return &SchedulerHandle{Scheduler: sched, cancel: cancel}, nil
}
