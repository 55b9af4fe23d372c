package domain

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	whitespaceRun   = regexp.MustCompile(`\s+`)
	usernameInvalid = regexp.MustCompile(`[^a-z0-9_]`)
)

// NormalizeUsername derives a performer username from a display name:
// lowercased, whitespace runs become "_", anything outside [a-z0-9_] is dropped.
func NormalizeUsername(name string) string {
	u := strings.ToLower(name)
	u = whitespaceRun.ReplaceAllString(u, "_")
	return usernameInvalid.ReplaceAllString(u, "")
}

// CleanDisplayName trims a performer name and composes it to NFC so visually
// equal names are stored identically.
func CleanDisplayName(name string) string {
	return norm.NFC.String(strings.TrimSpace(name))
}

// EncodeLink percent-encodes a URL so it can be used as a single path or key
// component. Unreserved characters are the same set encodeURIComponent keeps,
// which matches links recorded by earlier crawler generations.
func EncodeLink(rawURL string) string {
	const hex = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(rawURL) * 3 / 2)
	for i := 0; i < len(rawURL); i++ {
		c := rawURL[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}
