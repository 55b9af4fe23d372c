package domain

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeUsername(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"The Black Keys", "the_black_keys"},
		{"  DJ   Shadow ", "_dj_shadow_"},
		{"Sam & Dave!", "sam__dave"},
		{"Beyoncé", "beyonc"},
		{"mf_doom", "mf_doom"},
		{"Tab\tSeparated", "tab_separated"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeUsername(tt.name))
		})
	}
}

func TestNormalizeUsername_IsStable(t *testing.T) {
	assert.Equal(t, NormalizeUsername("Big Thief"), NormalizeUsername("big   thief"))
}

func TestCleanDisplayName(t *testing.T) {
	decomposed := "Beyonce\u0301"
	assert.Equal(t, "Beyonc\u00e9", CleanDisplayName("  "+decomposed+" "))
}

func TestEncodeLink(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"https://venue.test/events/a", "https%3A%2F%2Fvenue.test%2Fevents%2Fa"},
		{"https://venue.test/e?id=1&x=a b", "https%3A%2F%2Fvenue.test%2Fe%3Fid%3D1%26x%3Da%20b"},
		{"https://venue.test/it's-(live)!*~", "https%3A%2F%2Fvenue.test%2Fit's-(live)!*~"},
		{"https://venue.test/café", "https%3A%2F%2Fvenue.test%2Fcaf%C3%A9"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := EncodeLink(tt.in)
			assert.Equal(t, tt.want, got)

			decoded, err := url.PathUnescape(got)
			require.NoError(t, err)
			assert.Equal(t, tt.in, decoded)
		})
	}
}

func TestBooking_DedupKey(t *testing.T) {
	b := Booking{RequesteeID: "prf-1", Provenance: Provenance{EncodedLink: "https%3A%2F%2Fa"}}
	assert.Equal(t, "https%3A%2F%2Fa|prf-1", b.DedupKey())
}
