// Package id generates identifiers for crawl records.
package id

import (
	"fmt"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Record prefixes.
const (
	PrefixEvent     = "evt"
	PrefixBooking   = "bkg"
	PrefixPerformer = "prf"
)

// Generate creates a prefixed unique ID using NanoID.
// Format: prefix-nanoid (e.g., "bkg-V1StGXR8_Z5jdHi6B-myT").
//
// Returns an error if the system has insufficient entropy for secure random generation.
func Generate(prefix string) (string, error) {
	id, err := gonanoid.New()
	if err != nil {
		return "", fmt.Errorf("generate nanoid: %w", err)
	}
	return prefix + "-" + id, nil
}

// MustGenerate is like Generate but panics if ID generation fails.
func MustGenerate(prefix string) string {
	id, err := Generate(prefix)
	if err != nil {
		panic(fmt.Sprintf("failed to generate ID: %v", err))
	}
	return id
}

// NewRunID returns a random UUID for a crawl run.
// Run ids stay in UUID form so they line up with the ids already
// recorded by earlier crawler generations.
func NewRunID() string {
	return uuid.NewString()
}
