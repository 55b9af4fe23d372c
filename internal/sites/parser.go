// Package sites holds per-venue markup parsers that recover event fields
// from known site templates before or instead of the extraction service.
package sites

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/tappedai/event-crawler/internal/domain"
	"github.com/tappedai/event-crawler/internal/extraction"
	"github.com/tappedai/event-crawler/internal/page"
)

// Page is a parsed document prepared for selector queries.
type Page struct {
	URL      *url.URL
	DOM      *goquery.Document
	Location *time.Location
	JSONLD   []string
}

// NewPage wraps a parsed document. Times without an offset are read in loc;
// a nil loc means UTC.
func NewPage(doc *page.Document, loc *time.Location) (*Page, error) {
	u, err := url.Parse(doc.URL)
	if err != nil {
		return nil, err
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Page{
		URL:      u,
		DOM:      goquery.NewDocumentFromNode(doc.Root),
		Location: loc,
		JSONLD:   doc.JSONLD,
	}, nil
}

// Parser extracts event fields from one family of site templates.
// Methods return zero values when the page does not carry the field.
type Parser interface {
	Name() string
	MatchesURL(u *url.URL) bool
	ExtractTitle(p *Page) string
	ExtractDescription(p *Page) string
	ExtractTimes(p *Page) (start, end time.Time, ok bool)
	ExtractArtists(p *Page) []string
	ExtractFlier(p *Page) string
}

// Registry resolves a parser for a URL. Parsers are tried in registration
// order and the fallback is used when none match.
type Registry struct {
	mu       sync.RWMutex
	parsers  []Parser
	fallback Parser
}

// NewRegistry creates an empty registry with the given fallback.
func NewRegistry(fallback Parser) *Registry {
	return &Registry{fallback: fallback}
}

// Default returns a registry with every known venue parser and the generic
// fallback.
func Default() *Registry {
	r := NewRegistry(Generic{})
	r.Register(Squarespace{})
	r.Register(RHP{})
	r.Register(WPEM{})
	r.Register(TicketWeb{})
	return r
}

// Register adds a parser.
func (r *Registry) Register(p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers = append(r.parsers, p)
}

// Lookup returns the first parser matching rawURL, or the fallback.
func (r *Registry) Lookup(rawURL string) Parser {
	u, err := url.Parse(rawURL)
	if err != nil {
		return r.fallback
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.parsers {
		if p.MatchesURL(u) {
			return p
		}
	}
	return r.fallback
}

// Apply overlays what parser finds on rec. Structured times replace the
// extracted ones; other fields only fill gaps.
func Apply(parser Parser, p *Page, rec *extraction.EventRecord) {
	if parser == nil || p == nil || rec == nil {
		return
	}

	if rec.Title == nil {
		if v := parser.ExtractTitle(p); v != "" {
			rec.Title = &v
		}
	}
	if rec.Description == nil {
		if v := parser.ExtractDescription(p); v != "" {
			rec.Description = &v
		}
	}
	if rec.FlierURL == nil {
		if v := parser.ExtractFlier(p); strings.HasPrefix(v, "https://") {
			rec.FlierURL = &v
		}
	}
	if start, end, ok := parser.ExtractTimes(p); ok {
		if end.IsZero() || end.Before(start) {
			end = start.Add(time.Hour)
		}
		rec.StartTime, rec.EndTime = start, end
	}
	if len(rec.Performers) == 0 {
		for _, name := range parser.ExtractArtists(p) {
			if name = domain.CleanDisplayName(name); domain.NormalizeUsername(name) != "" {
				rec.Performers = append(rec.Performers, name)
			}
		}
	}
}

// hostSet matches URLs by hostname, ignoring a leading "www.".
type hostSet []string

func (h hostSet) matches(u *url.URL) bool {
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, want := range h {
		if host == want {
			return true
		}
	}
	return false
}
