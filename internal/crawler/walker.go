// Package crawler walks a venue site and emits one extraction attempt per
// event page it visits.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/tappedai/event-crawler/internal/domain"
	"github.com/tappedai/event-crawler/internal/extraction"
	"github.com/tappedai/event-crawler/internal/page"
	"github.com/tappedai/event-crawler/internal/ratelimit"
	"github.com/tappedai/event-crawler/internal/sites"
	"github.com/tappedai/event-crawler/internal/urlfilter"
)

const maxPageSize = 10 << 20

// RejectReason explains why a visited page produced no event.
type RejectReason string

const (
	RejectTooManyPerformers RejectReason = "too_many_performers"
	RejectNotMusicEvent     RejectReason = "not_music_event"
	RejectExtractionFailed  RejectReason = "extraction_failed"
)

// PageResult is the outcome of one extraction attempt. Record is set for
// accepted pages and for pages rejected as not music events.
type PageResult struct {
	Record      *extraction.EventRecord
	Err         error
	URL         string
	EncodedLink string
	Reason      RejectReason
	Rejected    bool
}

// Options bounds a walk.
type Options struct {
	// Location interprets site markup times without an offset.
	Location        *time.Location
	UserAgent       string
	MaxConcurrency  int
	NavigationDelay time.Duration
	RequestTimeout  time.Duration
	// MaxRequests caps fetches per walk; zero means unbounded.
	MaxRequests   int
	MaxPerformers int
}

// Walker fetches pages, follows same-host links and hands event pages to
// the extractor.
type Walker struct {
	http      *http.Client
	extractor extraction.Extractor
	parsers   *sites.Registry
	limiter   *ratelimit.HostLimiter
	logger    *slog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
	opts      Options
}

// NewWalker creates a walker. A nil limiter disables per-host limiting and
// a nil registry uses sites.Default.
func NewWalker(extractor extraction.Extractor, parsers *sites.Registry, limiter *ratelimit.HostLimiter, opts Options, logger *slog.Logger) *Walker {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 20
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.MaxPerformers <= 0 {
		opts.MaxPerformers = 15
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if parsers == nil {
		parsers = sites.Default()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Walker{
		http:      &http.Client{Timeout: opts.RequestTimeout},
		extractor: extractor,
		parsers:   parsers,
		limiter:   limiter,
		logger:    logger,
		sleep:     sleepCtx,
		opts:      opts,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// walk is the state of one Walk call.
type walk struct {
	*Walker
	rc      *domain.RunContext
	filter  *urlfilter.Filter
	out     chan<- PageResult
	stats   *Stats
	sem     *semaphore.Weighted
	group   *errgroup.Group
	mu      sync.Mutex
	visited map[string]struct{}
	budget  bool
}

// Walk visits seeds and every same-host page reachable from them that the
// filter admits, each at most once. Results stream on the returned channel,
// which closes when the frontier is exhausted, the request budget is spent
// or ctx is done. Stats are final once the channel is closed.
func (w *Walker) Walk(ctx context.Context, rc *domain.RunContext, filter *urlfilter.Filter, seeds []string) (<-chan PageResult, *Stats) {
	out := make(chan PageResult, 100)
	stats := &Stats{}

	g, gctx := errgroup.WithContext(ctx)
	wk := &walk{
		Walker:  w,
		rc:      rc,
		filter:  filter,
		out:     out,
		stats:   stats,
		sem:     semaphore.NewWeighted(int64(w.opts.MaxConcurrency)),
		group:   g,
		visited: make(map[string]struct{}),
	}

	for _, seed := range seeds {
		wk.enqueue(gctx, seed)
	}

	go func() {
		defer close(out)
		_ = g.Wait()
		w.logger.Info("walk finished",
			"run_id", rc.RunID,
			"scraper_id", rc.ScraperID(),
			"visited", stats.Visited.Load(),
			"accepted", stats.Accepted.Load(),
			"rejected", stats.Rejected.Load(),
			"skipped", stats.Skipped.Load(),
			"errors", stats.Errors.Load(),
		)
	}()

	return out, stats
}

// enqueue schedules rawURL unless it was seen before, the filter refuses it
// or the request budget is spent.
func (wk *walk) enqueue(ctx context.Context, rawURL string) {
	if d := wk.filter.Admit(rawURL); !d.Accept {
		wk.logger.Debug("skipping before fetch", "url", rawURL, "reason", d.Reason)
		wk.stats.Skipped.Add(1)
		return
	}

	wk.mu.Lock()
	if _, seen := wk.visited[rawURL]; seen {
		wk.mu.Unlock()
		return
	}
	if wk.opts.MaxRequests > 0 && len(wk.visited) >= wk.opts.MaxRequests {
		if !wk.budget {
			wk.budget = true
			wk.logger.Info("request budget reached", "run_id", wk.rc.RunID, "max_requests", wk.opts.MaxRequests)
		}
		wk.mu.Unlock()
		return
	}
	wk.visited[rawURL] = struct{}{}
	wk.mu.Unlock()

	wk.group.Go(func() error {
		if err := wk.sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		defer wk.sem.Release(1)

		links := wk.visit(ctx, rawURL)
		for _, link := range links {
			wk.enqueue(ctx, link)
		}
		return nil
	})
}

// visit fetches one page and returns the links to follow. Errors are
// logged and counted; they never stop the walk.
func (wk *walk) visit(ctx context.Context, rawURL string) []string {
	if err := wk.sleep(ctx, wk.opts.NavigationDelay); err != nil {
		return nil
	}
	if wk.limiter != nil {
		if err := wk.limiter.Wait(ctx, rawURL); err != nil {
			return nil
		}
	}

	wk.stats.Visited.Add(1)
	body, err := wk.fetch(ctx, rawURL)
	if err != nil {
		if errors.Is(err, errNotHTML) {
			wk.stats.Skipped.Add(1)
			wk.logger.Debug("skipping non-html page", "url", rawURL)
			return nil
		}
		wk.stats.Errors.Add(1)
		wk.logger.Warn("fetch failed", "url", rawURL, "error", err)
		return nil
	}

	doc, err := page.Parse(rawURL, body)
	if err != nil {
		wk.stats.Errors.Add(1)
		wk.logger.Warn("parse failed", "url", rawURL, "error", err)
		return nil
	}

	links := wk.follow(rawURL, doc.Links)

	if d := wk.filter.Check(rawURL); !d.Accept {
		wk.logger.Debug("skipping page", "url", rawURL, "reason", d.Reason)
		wk.stats.Skipped.Add(1)
		return links
	}

	wk.logger.Info("extracting", "url", rawURL, "title", doc.Title)
	wk.emit(ctx, wk.extract(ctx, rawURL, doc))
	return links
}

var errNotHTML = errors.New("not an html page")

func (wk *walk) fetch(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if wk.opts.UserAgent != "" {
		req.Header.Set("User-Agent", wk.opts.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := wk.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !htmlMediaType(ct) {
		return nil, errNotHTML
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.Header.Get("Content-Type") == "" && !mimetype.Detect(body).Is("text/html") {
		return nil, errNotHTML
	}
	return body, nil
}

func htmlMediaType(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}

func (wk *walk) follow(rawURL string, hrefs []string) []string {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	var links []string
	for _, href := range hrefs {
		if abs, ok := wk.filter.FollowLink(base, href); ok {
			links = append(links, abs)
		}
	}
	return links
}

func (wk *walk) extract(ctx context.Context, rawURL string, doc *page.Document) PageResult {
	res := PageResult{URL: rawURL, EncodedLink: domain.EncodeLink(rawURL)}

	result := wk.extractor.Extract(ctx, extraction.Request{
		URL:       rawURL,
		Text:      doc.Text,
		ImageURLs: doc.Images,
	})
	if !result.OK() {
		wk.logger.Warn("extraction failed", "url", rawURL, "error", result.Err)
		res.Rejected, res.Reason, res.Err = true, RejectExtractionFailed, result.Err
		return res
	}
	rec := result.Record

	if p, err := sites.NewPage(doc, wk.opts.Location); err == nil {
		parser := wk.parsers.Lookup(rawURL)
		sites.Apply(parser, p, rec)
	}
	res.Record = rec

	switch {
	case len(rec.Performers) >= wk.opts.MaxPerformers:
		wk.logger.Debug("too many performers", "url", rawURL, "performers", len(rec.Performers))
		res.Record, res.Rejected, res.Reason = nil, true, RejectTooManyPerformers
	case !rec.IsMusicEvent:
		wk.logger.Debug("not a music event", "url", rawURL)
		res.Rejected, res.Reason = true, RejectNotMusicEvent
	}
	return res
}

func (wk *walk) emit(ctx context.Context, res PageResult) {
	if res.Rejected {
		wk.stats.Rejected.Add(1)
	} else {
		wk.stats.Accepted.Add(1)
	}
	select {
	case wk.out <- res:
	case <-ctx.Done():
	}
}
