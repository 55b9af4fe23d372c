package domain

import "time"

// PerformerInfo is present on performer accounts.
type PerformerInfo struct {
	Label       string   `json:"label"`
	Genres      []string `json:"genres"`
	Rating      float64  `json:"rating"`
	ReviewCount int      `json:"review_count"`
}

// VenueInfo is present on venue accounts.
type VenueInfo struct {
	WebsiteURL      string   `json:"website_url,omitempty"`
	Genres          []string `json:"genres,omitempty"`
	TopPerformerIDs []string `json:"top_performer_ids"`
}

// Account is a venue or performer identity in the account directory.
// Venue and performer accounts share the type.
type Account struct {
	CreatedAt     time.Time      `json:"created_at"`
	Location      *Location      `json:"location,omitempty"`
	PerformerInfo *PerformerInfo `json:"performer_info,omitempty"`
	VenueInfo     *VenueInfo     `json:"venue_info,omitempty"`
	ID            string         `json:"id"`
	Email         string         `json:"email"`
	Username      string         `json:"username"`
	ArtistName    string         `json:"artist_name"`
	Bio           string         `json:"bio"`
	Occupations   []string       `json:"occupations"`
	Unclaimed     bool           `json:"unclaimed"`
}

// IsVenue reports whether the account carries venue information.
func (a *Account) IsVenue() bool {
	return a.VenueInfo != nil
}

// Genres returns the venue's genre tags, or nil for non-venues.
func (a *Account) Genres() []string {
	if a.VenueInfo == nil {
		return nil
	}
	return a.VenueInfo.Genres
}
