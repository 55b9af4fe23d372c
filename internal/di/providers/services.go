package providers

import (
	"context"

	"github.com/samber/do/v2"

	"github.com/tappedai/event-crawler/internal/config"
	"github.com/tappedai/event-crawler/internal/crawler"
	"github.com/tappedai/event-crawler/internal/geocode"
	"github.com/tappedai/event-crawler/internal/ledger"
	"github.com/tappedai/event-crawler/internal/logger"
	"github.com/tappedai/event-crawler/internal/materialize"
	"github.com/tappedai/event-crawler/internal/metrics"
	"github.com/tappedai/event-crawler/internal/notify"
	"github.com/tappedai/event-crawler/internal/pipeline"
	"github.com/tappedai/event-crawler/internal/sitemap"
)

// ProvideMetrics provides the Prometheus collectors.
func ProvideMetrics(_ do.Injector) (*metrics.Metrics, error) {
	return metrics.New(), nil
}

// NotifierHandle wraps the async notifier so pending messages are
// delivered before exit.
type NotifierHandle struct {
	*notify.Async
}

// Shutdown implements do.Shutdownable.
func (h *NotifierHandle) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return h.Flush(ctx)
}

// ProvideNotifier posts run lifecycle messages to Slack, or to the log when
// no webhook is configured.
func ProvideNotifier(i do.Injector) (*NotifierHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	var sender notify.Sender = notify.NewLog(log.Logger)
	if cfg.Notify.SlackWebhookURL != "" {
		sender = notify.NewSlack(cfg.Notify.SlackWebhookURL)
		log.Info("Run notifications go to Slack")
	}

	channel := notify.NewChannel(sender, log.Logger)
	return &NotifierHandle{Async: notify.NewAsync(channel, log.Logger)}, nil
}

// ProvideCoordinator provides the crawl pipeline.
func ProvideCoordinator(i do.Injector) (*pipeline.Coordinator, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	docs := do.MustInvoke[*StoreHandle](i)
	runLedger := do.MustInvoke[*ledger.Ledger](i)
	locker := do.MustInvoke[*LockerHandle](i)
	notifier := do.MustInvoke[*NotifierHandle](i)

	return pipeline.New(pipeline.Deps{
		Venues:       docs.Store,
		Events:       docs.Store,
		Ledger:       runLedger,
		Geocoder:     do.MustInvoke[*geocode.Client](i),
		Sitemaps:     do.MustInvoke[*sitemap.Loader](i),
		Walker:       do.MustInvoke[*crawler.Walker](i),
		Materializer: do.MustInvoke[*materialize.Materializer](i),
		Notifier:     notifier.Async,
		Locker:       locker.Locker,
		Metrics:      do.MustInvoke[*metrics.Metrics](i),
	}, pipeline.Options{
		MaxPathParts: cfg.Crawl.MaxPathParts,
		LookbackGap:  cfg.Crawl.SitemapLookbackGap,
		LeaseTTL:     cfg.Redis.LeaseTTL,
	}, log.Logger), nil
}
