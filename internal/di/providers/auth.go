package providers

import (
	"github.com/samber/do/v2"

	"github.com/tappedai/event-crawler/internal/auth"
	"github.com/tappedai/event-crawler/internal/config"
	"github.com/tappedai/event-crawler/internal/logger"
)

// AssetKey is the hex-encoded key that signs asset URLs.
type AssetKey string

// ProvideAssetKey uses the configured signing key, or loads or generates one
// under the data directory.
func ProvideAssetKey(i do.Injector) (AssetKey, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if cfg.Storage.AssetSigningKey != "" {
		return AssetKey(cfg.Storage.AssetSigningKey), nil
	}

	key, err := auth.LoadOrGenerateKey(cfg.Storage.DataDir)
	if err != nil {
		return "", err
	}

	log.Info("Asset signing key loaded", "asset_url_ttl", cfg.Storage.AssetURLTTL)
	return AssetKey(key), nil
}

// ProvideTokenService provides the PASETO asset token service.
func ProvideTokenService(i do.Injector) (*auth.TokenService, error) {
	cfg := do.MustInvoke[*config.Config](i)
	key := do.MustInvoke[AssetKey](i)

	return auth.NewTokenService(string(key), cfg.Storage.AssetURLTTL)
}
