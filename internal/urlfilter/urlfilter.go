// Package urlfilter decides which URLs the crawler visits.
package urlfilter

import (
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/tappedai/event-crawler/internal/domain"
)

// Reason explains why a URL was rejected.
type Reason string

const (
	ReasonInvalidURL        Reason = "invalid_url"
	ReasonBlacklistedDomain Reason = "blacklisted_domain"
	ReasonExcludedFragment  Reason = "excluded_fragment"
	ReasonFileExtension     Reason = "file_extension"
	ReasonCalendarFeed      Reason = "calendar_feed"
	ReasonNotEventPath      Reason = "not_event_path"
	ReasonListPage          Reason = "list_page"
	ReasonPathTooLong       Reason = "path_too_long"
	ReasonAlreadyProcessed  Reason = "already_processed"
)

// Decision is the outcome of Check.
type Decision struct {
	Reason Reason
	Accept bool
}

// DefaultMaxPathParts is the largest number of "/"-separated path segments
// (counting the empty leading one) an event page may have.
const DefaultMaxPathParts = 10

// DefaultBlacklist lists hosts the crawler never visits.
var DefaultBlacklist = []string{
	".edu",
	"facebook.com",
	"instagram.com",
	"www.instagram.com",
	"www.facebook.com",
	"yelp.com",
	"www.yelp.com",
	"linktr.ee",
	"toast.site",
	"www.toast.site",
	"google.com",
	"www.google.com",
}

// DefaultExcludedFragments are substrings that disqualify a URL outright.
var DefaultExcludedFragments = []string{
	"/photobooth",
	"www.arrobanat.com",
	"/gallery/",
	"/photo/",
}

// eventPath matches path segments venues use for event detail pages.
var eventPath = regexp.MustCompile(`/events/|/event/|/e/|/calendar/|/calendar-events/|/shows/|/upcoming/|/event-details/|/tm-event/|/happenings/|/events-1/|/find-a-show/|/EventDetail|/upcomingevents/|/schedule/|/productions/|/listing/|/event-details-registration/|/concert/|/detalles-y-registro/|/music/|/list-of-events/|/tickets/|/eventsatmainline/|/ticketweb-more-info/`)

const listMarker = "/list/"

var feedMarkers = []string{
	"ical=1",
	"format=ical",
	"format=json",
	"format=xml",
	"format=rss",
}

var skippedExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".svg": {}, ".webp": {}, ".ico": {},
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {}, ".pptx": {},
	".mp3": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".wmv": {}, ".flv": {}, ".m4v": {}, ".webm": {}, ".ogg": {},
	".css": {}, ".js": {}, ".json": {}, ".xml": {}, ".rss": {},
	".zip": {}, ".rar": {}, ".7z": {}, ".tar": {}, ".gz": {}, ".bz2": {}, ".xz": {},
}

// Filter classifies candidate URLs. It is read-only after construction and
// safe for concurrent use.
type Filter struct {
	// Processed holds encoded links (domain.EncodeLink) already materialized.
	Processed map[string]struct{}

	Blacklist         []string
	ExcludedFragments []string
	MaxPathParts      int
}

// New creates a filter with the default rules.
func New(processed map[string]struct{}, maxPathParts int) *Filter {
	if maxPathParts <= 0 {
		maxPathParts = DefaultMaxPathParts
	}
	return &Filter{
		Processed:         processed,
		Blacklist:         DefaultBlacklist,
		ExcludedFragments: DefaultExcludedFragments,
		MaxPathParts:      maxPathParts,
	}
}

func reject(r Reason) Decision { return Decision{Reason: r} }

// Check decides whether rawURL is an event page worth visiting.
func (f *Filter) Check(rawURL string) Decision {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return reject(ReasonInvalidURL)
	}

	if d, ok := f.precheck(rawURL, u); !ok {
		return d
	}

	p := u.EscapedPath()
	if !eventPath.MatchString(p) {
		return reject(ReasonNotEventPath)
	}
	if strings.Contains(p, listMarker) {
		return reject(ReasonListPage)
	}
	if len(strings.Split(p, "/")) > f.MaxPathParts {
		return reject(ReasonPathTooLong)
	}
	if _, done := f.Processed[domain.EncodeLink(rawURL)]; done {
		return reject(ReasonAlreadyProcessed)
	}
	return Decision{Accept: true}
}

// Admit applies the rules checked before a URL is fetched: the shared
// exclusions and the processed set. A URL that is admitted but fails Check
// is still fetched so its links can be followed.
func (f *Filter) Admit(rawURL string) Decision {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return reject(ReasonInvalidURL)
	}
	if d, ok := f.precheck(rawURL, u); !ok {
		return d
	}
	if _, done := f.Processed[domain.EncodeLink(rawURL)]; done {
		return reject(ReasonAlreadyProcessed)
	}
	return Decision{Accept: true}
}

// precheck applies the rules shared by Check and FollowLink.
func (f *Filter) precheck(rawURL string, u *url.URL) (Decision, bool) {
	if f.Blacklisted(rawURL) {
		return reject(ReasonBlacklistedDomain), false
	}
	for _, frag := range f.ExcludedFragments {
		if strings.Contains(rawURL, frag) {
			return reject(ReasonExcludedFragment), false
		}
	}
	if _, skip := skippedExtensions[strings.ToLower(path.Ext(u.Path))]; skip {
		return reject(ReasonFileExtension), false
	}
	for _, m := range feedMarkers {
		if strings.Contains(rawURL, m) {
			return reject(ReasonCalendarFeed), false
		}
	}
	return Decision{}, true
}

// Blacklisted reports whether rawURL points at a blacklisted domain.
func (f *Filter) Blacklisted(rawURL string) bool {
	for _, d := range f.Blacklist {
		if strings.Contains(rawURL, d) {
			return true
		}
	}
	return false
}

// FollowLink resolves link against the page it was found on and reports
// whether the crawler should enqueue it. Only http(s) links on the same
// host that pass the shared exclusion rules are followed. The returned URL
// has its fragment removed.
func (f *Filter) FollowLink(base *url.URL, link string) (string, bool) {
	link = strings.TrimSpace(link)
	if link == "" || strings.HasPrefix(link, "#") {
		return "", false
	}

	ref, err := url.Parse(link)
	if err != nil {
		return "", false
	}
	u := base.ResolveReference(ref)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if !strings.EqualFold(u.Hostname(), base.Hostname()) {
		return "", false
	}
	u.Fragment = ""
	u.RawFragment = ""

	abs := u.String()
	if _, ok := f.precheck(abs, u); !ok {
		return "", false
	}
	return abs, true
}
