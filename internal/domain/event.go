package domain

import "time"

// ScrapedEvent is one accepted page, stored under its run for provenance.
// Immutable once written.
type ScrapedEvent struct {
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	CreatedAt    time.Time `json:"created_at"`
	TicketPrice  *float64  `json:"ticket_price"`
	DoorPrice    *float64  `json:"door_price"`
	FlierURL     *string   `json:"flier_url"`
	EventURL     *string   `json:"event_url"`
	Title        *string   `json:"title"`
	Description  *string   `json:"description"`
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	ScraperID    string    `json:"scraper_id"`
	SourceURL    string    `json:"source_url"`
	EncodedLink  string    `json:"encoded_link"`
	Performers   []string  `json:"performers"`
	IsMusicEvent bool      `json:"is_music_event"`
}

// Link returns the event's own URL when present, else the page it was found on.
func (e *ScrapedEvent) Link() string {
	if e.EventURL != nil && *e.EventURL != "" {
		return *e.EventURL
	}
	return e.SourceURL
}
