// Package extraction turns page text into a typed event record through an
// external structured-extraction service.
package extraction

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/tappedai/event-crawler/internal/domain"
	apperr "github.com/tappedai/event-crawler/internal/errors"
	"github.com/tappedai/event-crawler/internal/page"
)

// EventRecord is a validated extraction result.
type EventRecord struct {
	StartTime    time.Time
	EndTime      time.Time
	FlierURL     *string
	EventURL     *string
	Title        *string
	Description  *string
	TicketPrice  float64
	DoorPrice    float64
	Performers   []string
	IsMusicEvent bool
}

// Request is one page to extract.
type Request struct {
	URL       string
	Text      string
	ImageURLs []string
}

// Content assembles the extractor input: the URL, the page text cut to
// limit runes, and the image URLs one per line.
func (r Request) Content(limit int) string {
	return strings.Join([]string{
		r.URL,
		page.Truncate(r.Text, limit),
		strings.Join(r.ImageURLs, "\n"),
	}, "\n")
}

// Result is either a record or an error, never both.
type Result struct {
	Record *EventRecord
	Err    error
}

// OK reports whether the extraction produced a record.
func (r Result) OK() bool {
	return r.Err == nil && r.Record != nil
}

// Succeeded wraps a record.
func Succeeded(rec *EventRecord) Result {
	return Result{Record: rec}
}

// Failed wraps an error as an EXTRACTION-coded result.
func Failed(err error) Result {
	if apperr.CodeOf(err) != apperr.CodeExtraction {
		err = apperr.Wrap(err, apperr.CodeExtraction, "extraction failed")
	}
	return Result{Err: err}
}

// Extractor produces event records from pages.
type Extractor interface {
	Extract(ctx context.Context, req Request) Result
}

// rawEvent is the extractor function's argument object.
type rawEvent struct {
	IsMusicEvent     *bool    `json:"isMusicEvent" validate:"required"`
	PerformerNames   []string `json:"performerNames" validate:"required"`
	EventTitle       *string  `json:"eventTitle"`
	EventDescription *string  `json:"eventDescription"`
	StartTime        *string  `json:"startTime"`
	EndTime          *string  `json:"endTime"`
	DoorPrice        *float64 `json:"doorPrice" validate:"omitempty,gte=0"`
	TicketPrice      *float64 `json:"ticketPrice" validate:"omitempty,gte=0"`
	FlierURL         *string  `json:"flierUrl"`
	EventURL         *string  `json:"eventUrl"`
}

// Layouts accepted for start and end times. Values without an offset are
// read in the extractor's configured location.
var timeLayouts = []string{
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseTime(s *string, loc *time.Location) (time.Time, bool) {
	if s == nil {
		return time.Time{}, false
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, v, loc); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// normalize applies defaults: absent prices become 0, an unusable start
// becomes now, an unusable end becomes start plus one hour, and URLs that are
// not absolute https URLs become nil.
func (raw *rawEvent) normalize(now time.Time, loc *time.Location) *EventRecord {
	rec := &EventRecord{
		IsMusicEvent: *raw.IsMusicEvent,
		Title:        nonEmpty(raw.EventTitle),
		Description:  nonEmpty(raw.EventDescription),
		FlierURL:     httpsURL(raw.FlierURL),
		EventURL:     httpsURL(raw.EventURL),
		Performers:   cleanPerformers(raw.PerformerNames),
	}
	if raw.TicketPrice != nil {
		rec.TicketPrice = *raw.TicketPrice
	}
	if raw.DoorPrice != nil {
		rec.DoorPrice = *raw.DoorPrice
	}

	start, ok := parseTime(raw.StartTime, loc)
	if !ok {
		start = now
	}
	end, ok := parseTime(raw.EndTime, loc)
	if !ok || end.Before(start) {
		end = start.Add(time.Hour)
	}
	rec.StartTime, rec.EndTime = start, end

	return rec
}

func nonEmpty(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func httpsURL(s *string) *string {
	v := nonEmpty(s)
	if v == nil || !strings.HasPrefix(*v, "https://") {
		return nil
	}
	u, err := url.Parse(*v)
	if err != nil || !strings.Contains(u.Hostname(), ".") {
		return nil
	}
	return v
}

// cleanPerformers trims names, drops blanks, and keeps the first of names
// that map to the same username.
func cleanPerformers(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		n = domain.CleanDisplayName(n)
		key := domain.NormalizeUsername(n)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, n)
	}
	return out
}
