package providers

import (
	"net/http"

	"github.com/samber/do/v2"

	"github.com/tappedai/event-crawler/internal/assets"
	"github.com/tappedai/event-crawler/internal/config"
	"github.com/tappedai/event-crawler/internal/crawler"
	"github.com/tappedai/event-crawler/internal/extraction"
	"github.com/tappedai/event-crawler/internal/geocode"
	"github.com/tappedai/event-crawler/internal/logger"
	"github.com/tappedai/event-crawler/internal/materialize"
	"github.com/tappedai/event-crawler/internal/ratelimit"
	"github.com/tappedai/event-crawler/internal/sitemap"
	"github.com/tappedai/event-crawler/internal/sites"
)

// ProvideExtractor provides the structured-extraction client.
func ProvideExtractor(i do.Injector) (extraction.Extractor, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	if cfg.Extraction.APIKey == "" {
		log.Warn("OPENAI_API_KEY is not set, extraction requests will be rejected")
	}

	return extraction.NewOpenAI(extraction.OpenAIConfig{
		Endpoint:     cfg.Extraction.Endpoint,
		APIKey:       cfg.Extraction.APIKey,
		Model:        cfg.Extraction.Model,
		Timeout:      cfg.Extraction.Timeout,
		ContentLimit: cfg.Crawl.PageContentLimit,
	}, log.Logger), nil
}

// HostLimiterHandle wraps the per-host politeness limiter.
type HostLimiterHandle struct {
	*ratelimit.HostLimiter
}

// Shutdown implements do.Shutdownable.
func (h *HostLimiterHandle) Shutdown() error {
	h.Stop()
	return nil
}

// ProvideHostLimiter provides the per-host limiter shared by crawl fetches.
func ProvideHostLimiter(i do.Injector) (*HostLimiterHandle, error) {
	cfg := do.MustInvoke[*config.Config](i)
	return &HostLimiterHandle{HostLimiter: ratelimit.New(cfg.Crawl.PerHostRPS, cfg.Crawl.PerHostBurst)}, nil
}

// ProvideWalker provides the site walker with per-host rate limiting.
func ProvideWalker(i do.Injector) (*crawler.Walker, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)
	extractor := do.MustInvoke[extraction.Extractor](i)
	limiter := do.MustInvoke[*HostLimiterHandle](i)

	return crawler.NewWalker(extractor, sites.Default(), limiter.HostLimiter, crawler.Options{
		UserAgent:       cfg.Crawl.UserAgent,
		MaxConcurrency:  cfg.Crawl.MaxConcurrency,
		NavigationDelay: cfg.Crawl.NavigationDelay,
		RequestTimeout:  cfg.Crawl.RequestTimeout,
		MaxRequests:     cfg.Crawl.MaxRequestsPerRun,
		MaxPerformers:   cfg.Crawl.MaxPerformers,
	}, log.Logger), nil
}

// ProvideSitemapLoader provides the sitemap loader.
func ProvideSitemapLoader(i do.Injector) (*sitemap.Loader, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	client := &http.Client{Timeout: cfg.Crawl.RequestTimeout}
	return sitemap.NewLoader(client, cfg.Crawl.UserAgent, log.Logger), nil
}

// ProvideGeocoder provides the place search client.
func ProvideGeocoder(i do.Injector) (*geocode.Client, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	return geocode.NewClient(cfg.Geocode.Endpoint, cfg.Geocode.APIKey, log.Logger), nil
}

// ProvideMaterializer provides the booking materializer.
func ProvideMaterializer(i do.Injector) (*materialize.Materializer, error) {
	log := do.MustInvoke[*logger.Logger](i)
	docs := do.MustInvoke[*StoreHandle](i)
	fliers := do.MustInvoke[*assets.Downloader](i)

	return materialize.New(docs.Store, docs.Store, fliers, log.Logger), nil
}
