// Package di provides dependency injection configuration for the event crawler.
package di

import (
	"github.com/samber/do/v2"

	"github.com/tappedai/event-crawler/internal/config"
	"github.com/tappedai/event-crawler/internal/di/providers"
	"github.com/tappedai/event-crawler/internal/logger"
	"github.com/tappedai/event-crawler/internal/pipeline"
)

// NewContainer creates and configures the DI container with all providers.
func NewContainer(cfg *config.Config) *do.RootScope {
	injector := do.New()

	// Core infrastructure
	do.ProvideValue(injector, cfg)
	do.Provide(injector, providers.ProvideLogger)
	do.Provide(injector, providers.ProvideTargets)
	do.Provide(injector, providers.ProvideMetrics)

	// Storage layer
	do.Provide(injector, providers.ProvideStore)
	do.Provide(injector, providers.ProvideRunStore)
	do.Provide(injector, providers.ProvideLedger)
	do.Provide(injector, providers.ProvideLocker)

	// Assets
	do.Provide(injector, providers.ProvideAssetKey)
	do.Provide(injector, providers.ProvideTokenService)
	do.Provide(injector, providers.ProvideAssetStorage)
	do.Provide(injector, providers.ProvideFlierDownloader)

	// Crawl layer
	do.Provide(injector, providers.ProvideExtractor)
	do.Provide(injector, providers.ProvideHostLimiter)
	do.Provide(injector, providers.ProvideWalker)
	do.Provide(injector, providers.ProvideSitemapLoader)
	do.Provide(injector, providers.ProvideGeocoder)
	do.Provide(injector, providers.ProvideMaterializer)

	// Pipeline
	do.Provide(injector, providers.ProvideNotifier)
	do.Provide(injector, providers.ProvideCoordinator)

	// Serve mode
	do.Provide(injector, providers.ProvideScheduler)
	do.Provide(injector, providers.ProvideOpsServer)

	return injector
}

// Bootstrap initializes the services a single run needs.
func Bootstrap(injector *do.RootScope) (*pipeline.Coordinator, providers.Targets, error) {
	_ = do.MustInvoke[*logger.Logger](injector)

	targets, err := do.Invoke[providers.Targets](injector)
	if err != nil {
		return nil, nil, err
	}
	coordinator, err := do.Invoke[*pipeline.Coordinator](injector)
	if err != nil {
		return nil, nil, err
	}
	return coordinator, targets, nil
}

// Serve starts the scheduler and the ops server.
func Serve(injector *do.RootScope) error {
	if _, err := do.Invoke[*providers.SchedulerHandle](injector); err != nil {
		return err
	}
	_, err := do.Invoke[*providers.OpsServerHandle](injector)
	return err
}
