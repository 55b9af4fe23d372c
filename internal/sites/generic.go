package sites

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Generic reads schema.org microdata, JSON-LD events, <time datetime>
// elements and Open Graph tags. It matches every URL.
type Generic struct{}

func (Generic) Name() string { return "generic" }

func (Generic) MatchesURL(*url.URL) bool { return true }

func (Generic) ExtractArtists(*Page) []string { return nil }

func (Generic) ExtractTitle(p *Page) string {
	if v := metaContent(p.DOM, `meta[property="og:title"]`); v != "" {
		return v
	}
	return firstText(p.DOM, "h1")
}

func (Generic) ExtractDescription(p *Page) string {
	if v := metaContent(p.DOM, `meta[property="og:description"]`); v != "" {
		return v
	}
	return metaContent(p.DOM, `meta[name="description"]`)
}

func (Generic) ExtractFlier(p *Page) string {
	if v := metaContent(p.DOM, `meta[property="og:image"]`); v != "" {
		return absURL(p.URL, v)
	}
	return ""
}

func (Generic) ExtractTimes(p *Page) (time.Time, time.Time, bool) {
	return structuredTimes(p)
}

// structuredTimes looks for event start and end in microdata, then JSON-LD,
// then the first full timestamp in a <time datetime> attribute.
func structuredTimes(p *Page) (start, end time.Time, ok bool) {
	if start, ok = parseStructured(itemprop(p.DOM, "startDate"), p.Location); ok {
		end, _ = parseStructured(itemprop(p.DOM, "endDate"), p.Location)
		return start, end, true
	}

	for _, ld := range p.JSONLD {
		if s, e, found := jsonLDTimes(ld); found {
			if start, ok = parseStructured(s, p.Location); ok {
				end, _ = parseStructured(e, p.Location)
				return start, end, true
			}
		}
	}

	p.DOM.Find("time[datetime]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		v, _ := s.Attr("datetime")
		if !strings.Contains(v, "T") {
			return true
		}
		start, ok = parseStructured(v, p.Location)
		return !ok
	})
	return start, time.Time{}, ok
}

func itemprop(doc *goquery.Document, name string) string {
	sel := doc.Find(`[itemprop="` + name + `"]`).First()
	if sel.Length() == 0 {
		return ""
	}
	for _, attr := range []string{"content", "datetime"} {
		if v, ok := sel.Attr(attr); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return strings.TrimSpace(sel.Text())
}

type ldEvent struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

// jsonLDTimes finds the first object in a JSON-LD block, a top-level array
// or an @graph, that carries a startDate.
func jsonLDTimes(block string) (start, end string, ok bool) {
	var parsed struct {
		ldEvent
		Graph []ldEvent `json:"@graph"`
	}
	var candidates []ldEvent

	trimmed := strings.TrimSpace(block)
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &candidates); err != nil {
			return "", "", false
		}
	} else {
		if err := json.Unmarshal([]byte(trimmed), &parsed); err != nil {
			return "", "", false
		}
		candidates = append([]ldEvent{parsed.ldEvent}, parsed.Graph...)
	}

	for _, c := range candidates {
		if c.StartDate != "" {
			return c.StartDate, c.EndDate, true
		}
	}
	return "", "", false
}

var structuredLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseStructured(v string, loc *time.Location) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range structuredLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

var spaceRun = regexp.MustCompile(`\s+`)

func squash(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

func firstText(doc *goquery.Document, selector string) string {
	return squash(doc.Find(selector).First().Text())
}

func metaContent(doc *goquery.Document, selector string) string {
	v, _ := doc.Find(selector).First().Attr("content")
	return strings.TrimSpace(v)
}

// firstImage returns the absolute source of the first image under selector.
func firstImage(p *Page, selector string) string {
	var src string
	p.DOM.Find(selector).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, attr := range []string{"data-src", "data-image", "src"} {
			if v, ok := s.Attr(attr); ok && v != "" && !strings.HasPrefix(v, "data:") {
				src = absURL(p.URL, v)
				return src == ""
			}
		}
		return true
	})
	return src
}

func absURL(base *url.URL, ref string) string {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return ""
	}
	abs := base.ResolveReference(u)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	return abs.String()
}
