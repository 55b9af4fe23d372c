package domain

import "time"

// BookingStatusConfirmed is the status of every crawled booking.
const BookingStatusConfirmed = "confirmed"

// Provenance records how a booking was discovered.
type Provenance struct {
	ScraperID   string `json:"scraper_id"`
	RunID       string `json:"run_id"`
	EncodedLink string `json:"encoded_link"`
}

// Booking is a materialized event for one performer at one venue.
type Booking struct {
	StartTime     time.Time  `json:"start_time"`
	EndTime       time.Time  `json:"end_time"`
	CreatedAt     time.Time  `json:"created_at"`
	FlierURL      *string    `json:"flier_url"`
	FlierBlurHash *string    `json:"flier_blur_hash,omitempty"`
	EventURL      *string    `json:"event_url"`
	Location      *Location  `json:"location"`
	Provenance    Provenance `json:"scraper_info"`
	ID            string     `json:"id"`
	RequesterID   string     `json:"requester_id"`
	RequesteeID   string     `json:"requestee_id"`
	Status        string     `json:"status"`
	Name          string     `json:"name"`
	Note          string     `json:"note"`
	SourceURL     string     `json:"source_url"`
	Genres        []string   `json:"genres"`
	Rate          int        `json:"rate"`
}

// DedupKey identifies the (event, performer) pair a booking stands for.
func (b *Booking) DedupKey() string {
	return DedupKey(b.Provenance.EncodedLink, b.RequesteeID)
}

// DedupKey builds the booking dedup key from an encoded source link and a performer id.
func DedupKey(encodedLink, performerID string) string {
	return encodedLink + "|" + performerID
}
