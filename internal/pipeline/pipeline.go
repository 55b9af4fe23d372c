// Package pipeline drives one crawl run per target: it brackets the walk
// with the run ledger, saves accepted events and materializes bookings.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tappedai/event-crawler/internal/crawler"
	"github.com/tappedai/event-crawler/internal/domain"
	apperr "github.com/tappedai/event-crawler/internal/errors"
	"github.com/tappedai/event-crawler/internal/geocode"
	"github.com/tappedai/event-crawler/internal/id"
	"github.com/tappedai/event-crawler/internal/ledger"
	"github.com/tappedai/event-crawler/internal/materialize"
	"github.com/tappedai/event-crawler/internal/metrics"
	"github.com/tappedai/event-crawler/internal/notify"
	"github.com/tappedai/event-crawler/internal/store"
	"github.com/tappedai/event-crawler/internal/urlfilter"
)

// Venues looks venue accounts up.
type Venues interface {
	GetAccount(ctx context.Context, id string) (*domain.Account, error)
	GetAccountByUsername(ctx context.Context, username string) (*domain.Account, error)
}

// Events persists scraped events.
type Events interface {
	SaveEvent(ctx context.Context, e *domain.ScrapedEvent) error
}

// RunLedger brackets runs.
type RunLedger interface {
	StartRun(ctx context.Context, meta *domain.ScraperMetadata) (*domain.RunRecord, error)
	RecordCandidates(ctx context.Context, runID string, count int) error
	EndRun(ctx context.Context, meta *domain.ScraperMetadata, runID string, runErr error, newEvents int) error
	LatestRun(ctx context.Context, scraperID string) (*domain.RunRecord, error)
	ProcessedLinks(ctx context.Context, scraperID string) (map[string]struct{}, error)
	KeepAlive(ctx context.Context, runID string, interval time.Duration) (stop func())
}

// Sitemaps loads candidate URLs.
type Sitemaps interface {
	Load(ctx context.Context, sitemapURL string, since *time.Time) ([]string, error)
}

// Walker crawls a site.
type Walker interface {
	Walk(ctx context.Context, rc *domain.RunContext, filter *urlfilter.Filter, seeds []string) (<-chan crawler.PageResult, *crawler.Stats)
}

// Materializer turns events into bookings.
type Materializer interface {
	Materialize(ctx context.Context, rc *domain.RunContext, event *domain.ScrapedEvent) (materialize.Outcome, error)
}

// Deps are the collaborators of a Coordinator.
type Deps struct {
	Venues       Venues
	Events       Events
	Ledger       RunLedger
	Geocoder     geocode.Resolver
	Sitemaps     Sitemaps
	Walker       Walker
	Materializer Materializer
	Notifier     notify.Notifier
	Locker       ledger.Locker
	Metrics      *metrics.Metrics
}

// Options tune a Coordinator.
type Options struct {
	MaxPathParts int
	// LookbackGap widens the sitemap "changed since" window.
	LookbackGap       time.Duration
	LeaseTTL          time.Duration
	HeartbeatInterval time.Duration
}

// Report summarizes one run.
type Report struct {
	StartedAt         time.Time
	Duration          time.Duration
	Stats             crawler.Snapshot
	RunID             string
	ScraperID         string
	Candidates        int
	NewEvents         int
	NonMusicEvents    int
	BookingsCreated   int
	BookingsSkipped   int
	BookingsPlanned   int
	PerformersCreated int
	PerformerFailures int
	Online            bool
}

// Coordinator runs targets.
type Coordinator struct {
	deps   Deps
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New creates a coordinator.
func New(deps Deps, opts Options, logger *slog.Logger) *Coordinator {
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 5 * time.Minute
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = time.Minute
	}
	if deps.Locker == nil {
		deps.Locker = ledger.NewMemoryLocker()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Coordinator{
		deps:   deps,
		opts:   opts,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run crawls one target. When online is false nothing is written and the
// run id is domain.DryRunID. The returned error is run-fatal; page and
// materialization errors are only logged and counted in the report.
func (c *Coordinator) Run(ctx context.Context, cfg domain.ScraperConfig, online bool) (*Report, error) {
	report := &Report{ScraperID: cfg.ID, StartedAt: c.now(), Online: online}
	log := c.logger.With("scraper_id", cfg.ID, "online", online)

	lease, err := c.deps.Locker.Acquire(ctx, ledger.LeaseKey(cfg.ID), c.opts.LeaseTTL)
	if err != nil {
		if errors.Is(err, apperr.ErrLeaseHeld) {
			log.Warn("another run holds the lease, skipping")
		}
		return report, err
	}
	ctx, cancel := context.WithCancelCause(ctx)
	stopRenew := c.renewLease(ctx, lease, cancel, log)
	defer func() {
		stopRenew()
		cancel(nil)
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			log.Warn("release lease failed", "error", err)
		}
	}()

	rc, err := c.prepare(ctx, cfg, online)
	if err != nil {
		log.Error("run setup failed", "error", err)
		c.notifyFailure(ctx, online, err)
		return report, err
	}
	report.RunID = rc.RunID
	log = log.With("run_id", rc.RunID)

	runErr := c.crawl(ctx, rc, report, log)
	report.Duration = c.now().Sub(report.StartedAt)

	if !online {
		c.deps.Metrics.RunFinished(cfg.ID, "dry_run", report.Duration)
		log.Info("dry run finished", "new_events", report.NewEvents, "would_create_bookings", report.BookingsPlanned)
		return report, runErr
	}

	if err := c.deps.Ledger.EndRun(context.WithoutCancel(ctx), &rc.Metadata, rc.RunID, runErr, report.NewEvents); err != nil {
		log.Error("end run failed", "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	if runErr != nil {
		c.deps.Metrics.RunFinished(cfg.ID, string(domain.RunFailed), report.Duration)
		c.notifyFailure(ctx, online, runErr)
		return report, runErr
	}

	c.deps.Metrics.RunFinished(cfg.ID, string(domain.RunSucceeded), report.Duration)
	c.deps.Notifier.OnRunSuccess(ctx, rc.RunID, report.NewEvents)
	log.Info("run succeeded",
		"new_events", report.NewEvents,
		"bookings_created", report.BookingsCreated,
		"performers_created", report.PerformersCreated,
		"duration", report.Duration,
	)
	return report, nil
}

// prepare resolves the venue and location, and opens the run.
func (c *Coordinator) prepare(ctx context.Context, cfg domain.ScraperConfig, online bool) (*domain.RunContext, error) {
	venue, err := c.lookupVenue(ctx, cfg)
	if err != nil {
		return nil, err
	}

	loc, err := c.deps.Geocoder.Resolve(ctx, cfg.City)
	if err != nil {
		return nil, err
	}

	meta := domain.NewScraperMetadata(cfg, *venue, loc)

	latest, err := c.deps.Ledger.LatestRun(ctx, cfg.ID)
	if err != nil {
		return nil, err
	}

	rc := &domain.RunContext{
		StartedAt: c.now(),
		Metadata:  meta,
		RunID:     domain.DryRunID,
		Online:    online,
	}
	if latest != nil {
		since := latest.StartTime.Add(-c.opts.LookbackGap)
		rc.Since = &since
	}

	if online {
		run, err := c.deps.Ledger.StartRun(ctx, &rc.Metadata)
		if err != nil {
			return nil, err
		}
		rc.RunID = run.ID
		rc.StartedAt = run.StartTime
	}
	return rc, nil
}

func (c *Coordinator) lookupVenue(ctx context.Context, cfg domain.ScraperConfig) (*domain.Account, error) {
	venue, err := c.deps.Venues.GetAccount(ctx, cfg.ID)
	if errors.Is(err, store.ErrNotFound) && cfg.Username != "" {
		venue, err = c.deps.Venues.GetAccountByUsername(ctx, cfg.Username)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.RunFatalf("venue not found: %s", cfg.ID)
	}
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeRunFatal, "load venue")
	}
	return venue, nil
}

// crawl runs the walk for an opened run. Only run-fatal errors are returned.
func (c *Coordinator) crawl(ctx context.Context, rc *domain.RunContext, report *Report, log *slog.Logger) error {
	if rc.Online {
		stop := c.deps.Ledger.KeepAlive(ctx, rc.RunID, c.opts.HeartbeatInterval)
		defer stop()
	}

	candidates := c.loadSitemap(ctx, rc, log)

	processed, err := c.deps.Ledger.ProcessedLinks(ctx, rc.ScraperID())
	if err != nil {
		return err
	}
	filter := urlfilter.New(processed, c.opts.MaxPathParts)

	seeds := make([]string, 0, len(candidates)+1)
	for _, u := range append([]string{rc.Metadata.URL}, candidates...) {
		if d := filter.Admit(u); d.Accept {
			seeds = append(seeds, u)
		}
	}
	report.Candidates = len(seeds)
	log.Info("frontier seeded", "sitemap_urls", len(candidates), "seeds", len(seeds), "processed_links", len(processed))

	if rc.Online {
		if err := c.deps.Ledger.RecordCandidates(ctx, rc.RunID, len(seeds)); err != nil {
			log.Warn("record candidate count failed", "error", err)
		}
		c.deps.Notifier.OnRunStart(ctx, rc.RunID, len(seeds))
	}

	results, stats := c.deps.Walker.Walk(ctx, rc, filter, seeds)
	for res := range results {
		c.handle(ctx, rc, res, report, log)
	}

	snap := stats.Snapshot()
	report.Stats = snap
	c.recordPages(rc.ScraperID(), snap)

	if err := ctx.Err(); err != nil {
		if cause := context.Cause(ctx); errors.Is(cause, apperr.ErrLeaseLost) {
			return cause
		}
		return apperr.Wrap(err, apperr.CodeRunFatal, "run cancelled")
	}
	return nil
}

// renewLease extends the lease until stop is called. When the lease cannot
// be kept the run is cancelled with apperr.ErrLeaseLost.
func (c *Coordinator) renewLease(ctx context.Context, lease ledger.Lease, cancel context.CancelCauseFunc, log *slog.Logger) (stop func()) {
	interval := max(min(c.opts.HeartbeatInterval, c.opts.LeaseTTL/3), time.Millisecond)
	ctx, stopCtx := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := lease.Extend(ctx, c.opts.LeaseTTL)
				switch {
				case err == nil:
				case errors.Is(err, apperr.ErrLeaseLost):
					log.Error("run lease lost, cancelling run")
					cancel(apperr.ErrLeaseLost)
					return
				case ctx.Err() != nil:
					return
				default:
					log.Warn("extend lease failed", "error", err)
				}
			}
		}
	}()

	return func() {
		stopCtx()
		<-done
	}
}

// loadSitemap returns the sitemap URLs changed since the last clean run.
// A failed load yields no candidates.
func (c *Coordinator) loadSitemap(ctx context.Context, rc *domain.RunContext, log *slog.Logger) []string {
	if rc.Metadata.Sitemap == "" {
		return nil
	}
	urls, err := c.deps.Sitemaps.Load(ctx, rc.Metadata.Sitemap, rc.Since)
	if err != nil {
		log.Warn("sitemap load failed, continuing without it", "sitemap", rc.Metadata.Sitemap, "error", err)
		return nil
	}
	return urls
}

// handle stores one walker result and materializes it when accepted.
func (c *Coordinator) handle(ctx context.Context, rc *domain.RunContext, res crawler.PageResult, report *Report, log *slog.Logger) {
	scraperID := rc.ScraperID()
	if res.Rejected {
		c.deps.Metrics.Extraction(scraperID, string(res.Reason))
	} else {
		c.deps.Metrics.Extraction(scraperID, "ok")
	}

	// Non-music pages are recorded so they are not extracted again.
	if res.Record == nil || (res.Rejected && res.Reason != crawler.RejectNotMusicEvent) {
		return
	}

	event, err := c.newEvent(rc, res)
	if err != nil {
		log.Error("build event failed", "url", res.URL, "error", err)
		return
	}

	if !rc.Online {
		log.Info("would save event", "url", res.URL, "title", deref(event.Title), "performers", event.Performers)
	} else if err := c.deps.Events.SaveEvent(ctx, event); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			log.Debug("event already saved", "url", res.URL)
		} else {
			log.Error("save event failed", "url", res.URL, "error", err)
		}
		return
	}

	if res.Rejected {
		report.NonMusicEvents++
		return
	}
	report.NewEvents++

	out, err := c.deps.Materializer.Materialize(ctx, rc, event)
	if err != nil {
		log.Error("materialize failed", "url", res.URL, "error", err)
		return
	}
	report.BookingsCreated += out.Created
	report.BookingsSkipped += out.Skipped
	report.BookingsPlanned += out.Planned
	report.PerformersCreated += out.NewPerformers
	report.PerformerFailures += len(out.Failed)

	c.deps.Metrics.BookingsCreated(scraperID, out.Created)
	c.deps.Metrics.PerformersCreated(out.NewPerformers)
}

func (c *Coordinator) newEvent(rc *domain.RunContext, res crawler.PageResult) (*domain.ScrapedEvent, error) {
	eventID, err := id.Generate(id.PrefixEvent)
	if err != nil {
		return nil, fmt.Errorf("generate event id: %w", err)
	}
	rec := res.Record
	ticket, door := rec.TicketPrice, rec.DoorPrice
	return &domain.ScrapedEvent{
		ID:           eventID,
		RunID:        rc.RunID,
		ScraperID:    rc.ScraperID(),
		SourceURL:    res.URL,
		EncodedLink:  res.EncodedLink,
		Title:        rec.Title,
		Description:  rec.Description,
		Performers:   rec.Performers,
		TicketPrice:  &ticket,
		DoorPrice:    &door,
		StartTime:    rec.StartTime,
		EndTime:      rec.EndTime,
		FlierURL:     rec.FlierURL,
		EventURL:     rec.EventURL,
		IsMusicEvent: rec.IsMusicEvent,
	}, nil
}

func (c *Coordinator) recordPages(scraperID string, s crawler.Snapshot) {
	m := c.deps.Metrics
	m.Pages(scraperID, metrics.PageVisited, s.Visited)
	m.Pages(scraperID, metrics.PageSkipped, s.Skipped)
	m.Pages(scraperID, metrics.PageRejected, s.Rejected)
	m.Pages(scraperID, metrics.PageAccepted, s.Accepted)
	m.Pages(scraperID, metrics.PageError, s.Errors)
}

func (c *Coordinator) notifyFailure(ctx context.Context, online bool, err error) {
	if !online {
		return
	}
	c.deps.Notifier.OnRunFailure(ctx, err)
}

// RunAll runs every target in order. A failing target does not stop the
// others; the failures are joined into the returned error.
func (c *Coordinator) RunAll(ctx context.Context, targets []domain.ScraperConfig, online bool) ([]*Report, error) {
	var (
		reports []*Report
		errs    []error
	)
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		report, err := c.Run(ctx, t, online)
		reports = append(reports, report)
		if err != nil {
			errs = append(errs, fmt.Errorf("target %s: %w", t.ID, err))
		}
	}
	return reports, errors.Join(errs...)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
