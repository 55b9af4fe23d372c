package store

import (
	apperr "github.com/tappedai/event-crawler/internal/errors"
)

// Sentinel errors. They carry the crawler's error codes, so callers can
// match either these values or the generic apperr sentinels.
var (
	ErrNotFound      = &apperr.Error{Code: apperr.CodeNotFound, Message: "record not found"}
	ErrAlreadyExists = &apperr.Error{Code: apperr.CodeConflict, Message: "record already exists"}
)
