package validation_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperr "github.com/tappedai/event-crawler/internal/errors"
	"github.com/tappedai/event-crawler/internal/validation"
)

type payload struct {
	Flag   *bool    `json:"isMusicEvent" validate:"required"`
	Names  []string `json:"performerNames,omitempty" validate:"required,max=3"`
	Price  *float64 `json:"ticketPrice" validate:"omitempty,gte=0"`
	Ignore string   `json:"-" validate:"required"`
}

func ptr[T any](v T) *T { return &v }

func TestValidator_Valid(t *testing.T) {
	v := validation.New()
	err := v.Validate(payload{Flag: ptr(true), Names: []string{}, Price: ptr(12.5), Ignore: "x"})
	assert.NoError(t, err)
}

func TestValidator_Errors(t *testing.T) {
	v := validation.New()

	tests := []struct {
		name      string
		in        payload
		wantField string
		wantMsg   string
	}{
		{"missing bool", payload{Names: []string{}, Ignore: "x"}, "isMusicEvent", "is required"},
		{"nil slice", payload{Flag: ptr(false), Ignore: "x"}, "performerNames", "is required"},
		{"too many", payload{Flag: ptr(false), Names: []string{"a", "b", "c", "d"}, Ignore: "x"}, "performerNames", "must have at most 3 items"},
		{"negative price", payload{Flag: ptr(false), Names: []string{}, Price: ptr(-1.0), Ignore: "x"}, "ticketPrice", "must be greater than or equal to 0"},
		{"dash tag uses field name", payload{Flag: ptr(false), Names: []string{}}, "Ignore", "is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(tt.in)
			require.Error(t, err)

			var appErr *apperr.Error
			require.ErrorAs(t, err, &appErr)
			assert.Equal(t, apperr.CodeValidation, appErr.Code)
			assert.Contains(t, appErr.Message, tt.wantField)

			details, ok := appErr.Details.(map[string]string)
			require.True(t, ok)
			assert.Equal(t, tt.wantMsg, details[tt.wantField])
		})
	}
}
