package providers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/samber/do/v2"

	"github.com/tappedai/event-crawler/internal/assets"
	"github.com/tappedai/event-crawler/internal/config"
	"github.com/tappedai/event-crawler/internal/ledger"
	"github.com/tappedai/event-crawler/internal/logger"
	"github.com/tappedai/event-crawler/internal/metrics"
	"github.com/tappedai/event-crawler/internal/ops"
)

// OpsServerHandle wraps http.Server with Shutdownable.
type OpsServerHandle struct {
	*http.Server
}

// Shutdown implements do.Shutdownable.
func (h *OpsServerHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Server.Shutdown(ctx)
}

// ProvideOpsServer provides the ops HTTP server and starts it in the background.
func ProvideOpsServer(i do.Injector) (*OpsServerHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	docs := do.MustInvoke[*StoreHandle](i)
	runs := do.MustInvoke[*RunStoreHandle](i)
	sched := do.MustInvoke[*SchedulerHandle](i)

	handler := ops.NewServer(ops.Deps{
		Checks: map[string]ops.Pinger{
			"documents": docs.Store,
			"ledger":    runs.Store,
		},
		Runs:    do.MustInvoke[*ledger.Ledger](i),
		Targets: sched.Scheduler,
		Metrics: do.MustInvoke[*metrics.Metrics](i).Handler(),
		Assets:  do.MustInvoke[*assets.FileStorage](i).ServeAsset,
	}, log.Logger)

	srv := &http.Server{
		Addr:              cfg.Ops.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	// Start in background
	go func() {
		log.Info("Ops server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Ops server error", "error", err)
		}
	}()

	return &OpsServerHandle{Server: srv}, nil
}
