// Package providers contains dependency injection providers for the event crawler.
package providers

import (
	"github.com/samber/do/v2"

	"github.com/tappedai/event-crawler/internal/config"
	"github.com/tappedai/event-crawler/internal/domain"
	"github.com/tappedai/event-crawler/internal/logger"
)

// Targets is the target list loaded at startup.
type Targets []domain.ScraperConfig

// ProvideLogger provides the structured logger.
func ProvideLogger(i do.Injector) (*logger.Logger, error) {
	cfg := do.MustInvoke[*config.Config](i)

	log := logger.New(logger.Config{
		Level:       logger.ParseLevel(cfg.Logger.Level),
		AddSource:   cfg.App.Environment == "development",
		Environment: cfg.App.Environment,
	})

	log.Info("Starting event crawler",
		"environment", cfg.App.Environment,
		"log_level", cfg.Logger.Level,
		"data_dir", cfg.Storage.DataDir,
		"targets_path", cfg.Targets.Path,
		"online", cfg.Run.Online,
	)

	return log, nil
}

// ProvideTargets loads and validates the targets file.
func ProvideTargets(i do.Injector) (Targets, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	targets, err := config.LoadTargets(cfg.Targets.Path)
	if err != nil {
		return nil, err
	}

	log.Info("Targets loaded", "path", cfg.Targets.Path, "count", len(targets))
	return Targets(targets), nil
}
