package sites

import (
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Squarespace parses the Squarespace events collection template.
type Squarespace struct{}

var squarespaceHosts = hostSet{"wonderville.nyc", "thejungleroomrva.com", "nighthorsebk.com"}

func (Squarespace) Name() string { return "squarespace" }

func (Squarespace) MatchesURL(u *url.URL) bool { return squarespaceHosts.matches(u) }

func (Squarespace) ExtractTitle(p *Page) string {
	return firstText(p.DOM, ".eventitem .eventitem-title")
}

func (Squarespace) ExtractDescription(p *Page) string {
	return firstText(p.DOM, ".eventitem .eventitem-column-content")
}

func (Squarespace) ExtractArtists(*Page) []string { return nil }

func (Squarespace) ExtractFlier(p *Page) string {
	if v := firstImage(p, ".eventitem .sqs-image-shape-container-element img"); v != "" {
		return v
	}
	return firstImage(p, ".eventitem img")
}

// ExtractTimes combines the event-date datetime attribute with the 24 hour
// or 12 hour start and end labels.
func (Squarespace) ExtractTimes(p *Page) (time.Time, time.Time, bool) {
	date, _ := p.DOM.Find("time.event-date[datetime]").First().Attr("datetime")
	day, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(date), p.Location)
	if err != nil {
		return structuredTimes(p)
	}

	start, ok := clockOn(day, p, "time.event-time-24hr-start", "time.event-time-24hr", "time.event-time-12hr-start", "time.event-time-12hr")
	if !ok {
		return structuredTimes(p)
	}
	end, ok := clockOn(day, p, "time.event-time-24hr-end", "time.event-time-12hr-end")
	if ok && end.Before(start) {
		end = end.AddDate(0, 0, 1)
	}
	return start, end, true
}

var clockLayouts = []string{"15:04", "3:04 PM", "3:04PM", "3 PM", "3PM"}

func clockOn(day time.Time, p *Page, selectors ...string) (time.Time, bool) {
	for _, sel := range selectors {
		label := strings.ToUpper(firstText(p.DOM, sel))
		if label == "" {
			continue
		}
		for _, layout := range clockLayouts {
			if c, err := time.Parse(layout, label); err == nil {
				return time.Date(day.Year(), day.Month(), day.Day(), c.Hour(), c.Minute(), 0, 0, day.Location()), true
			}
		}
	}
	return time.Time{}, false
}

// RHP parses the Rockhouse Partners events plugin.
type RHP struct{}

var rhpHosts = hostSet{"embermusichall.com"}

func (RHP) Name() string { return "rhp" }

func (RHP) MatchesURL(u *url.URL) bool { return rhpHosts.matches(u) }

func (RHP) ExtractTitle(p *Page) string { return firstText(p.DOM, "#eventTitle") }

func (RHP) ExtractDescription(p *Page) string {
	return firstText(p.DOM, ".singleEventDescription")
}

func (RHP) ExtractArtists(*Page) []string { return nil }

func (RHP) ExtractFlier(p *Page) string { return firstImage(p, ".rhp-events-event-image img") }

func (RHP) ExtractTimes(p *Page) (time.Time, time.Time, bool) { return structuredTimes(p) }

// WPEM parses WP Event Manager single event pages.
type WPEM struct{}

var wpemHosts = hostSet{"songbyrddc.com"}

func (WPEM) Name() string { return "wpem" }

func (WPEM) MatchesURL(u *url.URL) bool { return wpemHosts.matches(u) }

func (WPEM) ExtractTitle(p *Page) string { return firstText(p.DOM, ".wpem-heading-text") }

func (WPEM) ExtractDescription(p *Page) string {
	return firstText(p.DOM, ".wpem-single-event-body-content")
}

func (WPEM) ExtractArtists(*Page) []string { return nil }

func (WPEM) ExtractFlier(p *Page) string { return firstImage(p, ".wpem-event-single-image img") }

func (WPEM) ExtractTimes(p *Page) (time.Time, time.Time, bool) { return structuredTimes(p) }

// TicketWeb parses the TicketWeb widget. Its titles list the bill, so
// artists come from splitting the title.
type TicketWeb struct{}

var ticketwebHosts = hostSet{"pearlstreetwarehouse.com"}

func (TicketWeb) Name() string { return "ticketweb" }

func (TicketWeb) MatchesURL(u *url.URL) bool { return ticketwebHosts.matches(u) }

func (TicketWeb) ExtractTitle(p *Page) string {
	if v := firstText(p.DOM, ".tw-name"); v != "" {
		return v
	}
	return firstText(p.DOM, "h1")
}

func (TicketWeb) ExtractDescription(p *Page) string {
	return firstText(p.DOM, ".tw-description")
}

func (t TicketWeb) ExtractArtists(p *Page) []string {
	return SplitBill(t.ExtractTitle(p))
}

func (TicketWeb) ExtractFlier(p *Page) string { return firstImage(p, ".tw-image img") }

func (TicketWeb) ExtractTimes(p *Page) (time.Time, time.Time, bool) { return structuredTimes(p) }

var billSeparator = regexp.MustCompile(`(?i)\s*(?:,|&|\bw/|\bwith support from\b|\bwith special guests?\b|\bfeaturing\b|\bfeat\.|\bft\.)\s*`)

// SplitBill splits a show title such as "Headliner w/ Opener & Other" into
// performer names.
func SplitBill(title string) []string {
	var names []string
	for _, part := range billSeparator.Split(title, -1) {
		if part = strings.TrimSpace(part); part != "" {
			names = append(names, part)
		}
	}
	return names
}
