package providers

import (
	"github.com/samber/do/v2"

	"github.com/tappedai/event-crawler/internal/assets"
	"github.com/tappedai/event-crawler/internal/auth"
	"github.com/tappedai/event-crawler/internal/config"
	"github.com/tappedai/event-crawler/internal/logger"
)

// ProvideAssetStorage provides flier storage on the local filesystem.
func ProvideAssetStorage(i do.Injector) (*assets.FileStorage, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	tokens := do.MustInvoke[*auth.TokenService](i)

	storage, err := assets.NewFileStorage(cfg.Storage.AssetsDir, cfg.Storage.AssetBaseURL, tokens)
	if err != nil {
		return nil, err
	}

	log.Info("Asset storage initialized", "path", cfg.Storage.AssetsDir, "base_url", cfg.Storage.AssetBaseURL)
	return storage, nil
}

// ProvideFlierDownloader provides the flier copier.
func ProvideFlierDownloader(i do.Injector) (*assets.Downloader, error) {
	log := do.MustInvoke[*logger.Logger](i)
	storage := do.MustInvoke[*assets.FileStorage](i)

	return assets.NewDownloader(storage, log.Logger), nil
}
