// Package sitemap loads candidate page URLs from a venue's sitemap.
package sitemap

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	apperr "github.com/tappedai/event-crawler/internal/errors"
)

const (
	// maxDepth bounds sitemapindex recursion.
	maxDepth = 3

	// maxBodySize caps a single sitemap document (uncompressed).
	maxBodySize = 50 << 20
)

var gzipMagic = []byte{0x1f, 0x8b}

// Entry is one <url> or <sitemap> element.
type Entry struct {
	LastMod *time.Time
	Loc     string
	// DateOnly is set when lastmod carried no time of day.
	DateOnly bool
}

// Loader fetches and parses sitemaps.
type Loader struct {
	http      *http.Client
	userAgent string
	logger    *slog.Logger
}

// NewLoader creates a sitemap loader.
func NewLoader(client *http.Client, userAgent string, logger *slog.Logger) *Loader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Loader{http: client, userAgent: userAgent, logger: logger}
}

// Load returns the page URLs listed by sitemapURL, following sitemap
// indexes. When since is set, entries modified before it are dropped;
// entries without a lastmod are always kept. URLs are deduplicated and
// returned in document order.
func (l *Loader) Load(ctx context.Context, sitemapURL string, since *time.Time) ([]string, error) {
	seen := make(map[string]struct{})
	visited := make(map[string]struct{})
	var urls []string

	if err := l.load(ctx, sitemapURL, since, 0, seen, visited, &urls); err != nil {
		return nil, err
	}

	l.logger.Debug("sitemap loaded", "url", sitemapURL, "count", len(urls))
	return urls, nil
}

func (l *Loader) load(ctx context.Context, sitemapURL string, since *time.Time, depth int, seen, visited map[string]struct{}, out *[]string) error {
	if _, ok := visited[sitemapURL]; ok {
		return nil
	}
	visited[sitemapURL] = struct{}{}

	body, err := l.fetch(ctx, sitemapURL)
	if err != nil {
		return err
	}

	doc, err := Parse(body)
	if err != nil {
		return apperr.Wrapf(err, apperr.CodeFetch, "parse sitemap %s", sitemapURL)
	}

	for _, e := range doc.URLs {
		if !keep(e, since) {
			continue
		}
		if _, dup := seen[e.Loc]; dup {
			continue
		}
		seen[e.Loc] = struct{}{}
		*out = append(*out, e.Loc)
	}

	if len(doc.Sitemaps) > 0 && depth+1 >= maxDepth {
		l.logger.Warn("sitemap index too deep, not following children", "url", sitemapURL, "depth", depth)
		return nil
	}
	for _, child := range doc.Sitemaps {
		if !keep(child, since) {
			continue
		}
		if err := l.load(ctx, child.Loc, since, depth+1, seen, visited, out); err != nil {
			// A broken child sitemap should not hide its siblings.
			l.logger.Warn("child sitemap failed", "url", child.Loc, "error", err)
		}
	}
	return nil
}

func keep(e Entry, since *time.Time) bool {
	if e.Loc == "" {
		return false
	}
	if since == nil || e.LastMod == nil {
		return true
	}
	cutoff := since.UTC()
	if e.DateOnly {
		cutoff = time.Date(cutoff.Year(), cutoff.Month(), cutoff.Day(), 0, 0, 0, 0, time.UTC)
	}
	return !e.LastMod.Before(cutoff)
}

func (l *Loader) fetch(ctx context.Context, sitemapURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sitemapURL, nil)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeFetch, "create sitemap request %s", sitemapURL)
	}
	req.Header.Set("Accept", "application/xml, text/xml, */*")
	if l.userAgent != "" {
		req.Header.Set("User-Agent", l.userAgent)
	}

	resp, err := l.http.Do(req)
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeFetch, "fetch sitemap %s", sitemapURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, apperr.Wrapf(fmt.Errorf("unexpected status %d", resp.StatusCode), apperr.CodeFetch, "fetch sitemap %s", sitemapURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, apperr.Wrapf(err, apperr.CodeFetch, "read sitemap %s", sitemapURL)
	}

	if bytes.HasPrefix(body, gzipMagic) {
		body, err = gunzip(body)
		if err != nil {
			return nil, apperr.Wrapf(err, apperr.CodeFetch, "decompress sitemap %s", sitemapURL)
		}
	}
	return body, nil
}

func gunzip(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(io.LimitReader(zr, maxBodySize))
}

// Document is a parsed sitemap: page entries, child sitemaps, or both.
type Document struct {
	URLs     []Entry
	Sitemaps []Entry
}

type xmlEntry struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod"`
}

type xmlDocument struct {
	XMLName  xml.Name
	URLs     []xmlEntry `xml:"url"`
	Sitemaps []xmlEntry `xml:"sitemap"`
}

// Parse decodes a urlset or sitemapindex document.
func Parse(data []byte) (*Document, error) {
	var raw xmlDocument
	if err := xml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode sitemap xml: %w", err)
	}
	switch raw.XMLName.Local {
	case "urlset", "sitemapindex":
	default:
		return nil, fmt.Errorf("unexpected root element <%s>", raw.XMLName.Local)
	}

	doc := &Document{
		URLs:     make([]Entry, 0, len(raw.URLs)),
		Sitemaps: make([]Entry, 0, len(raw.Sitemaps)),
	}
	for _, u := range raw.URLs {
		doc.URLs = append(doc.URLs, toEntry(u))
	}
	for _, s := range raw.Sitemaps {
		doc.Sitemaps = append(doc.Sitemaps, toEntry(s))
	}
	return doc, nil
}

func toEntry(x xmlEntry) Entry {
	e := Entry{Loc: strings.TrimSpace(x.Loc)}
	if t, dateOnly, ok := parseLastMod(x.LastMod); ok {
		e.LastMod, e.DateOnly = &t, dateOnly
	}
	return e
}

// W3C datetime profiles seen in the wild.
var lastModLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// parseLastMod reports dateOnly for day-precision values, which compare
// against whole days.
func parseLastMod(s string) (t time.Time, dateOnly, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, false
	}
	for _, layout := range lastModLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), layout == time.DateOnly, true
		}
	}
	return time.Time{}, false, false
}
