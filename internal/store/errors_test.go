package store_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	apperr "github.com/tappedai/event-crawler/internal/errors"
	"github.com/tappedai/event-crawler/internal/store"
)

func TestErrors_MatchCodes(t *testing.T) {
	wrapped := fmt.Errorf("load venue: %w", store.ErrNotFound)

	assert.ErrorIs(t, wrapped, store.ErrNotFound)
	assert.ErrorIs(t, wrapped, apperr.ErrNotFound)
	assert.NotErrorIs(t, wrapped, store.ErrAlreadyExists)

	assert.Equal(t, apperr.CodeConflict, apperr.CodeOf(store.ErrAlreadyExists))
}
