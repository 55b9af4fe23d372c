// Package errors provides coded errors for the crawl pipeline.
//
// The codes follow the pipeline's failure taxonomy: transient fetch errors and
// extraction contract violations are recovered per page, materialization errors
// are recovered per performer, and run-fatal errors seal the run as failed.
//
// Usage:
//
//	// In clients - wrap with a code
//	return errors.Wrap(err, errors.CodeFetch, "fetch sitemap")
//
//	// In the coordinator - classify
//	if errors.IsRunFatal(err) {
//	    ledger.EndRun(ctx, meta, runID, err, 0)
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
	New    = errors.New
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout the crawler.
const (
	CodeNotFound    Code = "NOT_FOUND"
	CodeValidation  Code = "VALIDATION"
	CodeConflict    Code = "CONFLICT"
	CodeInternal    Code = "INTERNAL"
	CodeFetch       Code = "FETCH"
	CodeExtraction  Code = "EXTRACTION"
	CodeMaterialize Code = "MATERIALIZE"
	CodeRunFatal    Code = "RUN_FATAL"
	CodeLeaseHeld   Code = "LEASE_HELD"
	CodeLeaseLost   Code = "LEASE_LOST"
)

// Recoverable reports whether errors with this code are handled locally
// (skip the page, skip the performer) instead of failing the run.
func (c Code) Recoverable() bool {
	switch c {
	case CodeFetch, CodeExtraction, CodeMaterialize:
		return true
	default:
		return false
	}
}

// Error is a coded error with a message and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target matches this error.
// Matches if target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// WithDetails returns a new error with additional details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		cause:   e.cause,
	}
}

// Sentinel errors for use with errors.Is().
var (
	ErrNotFound    = &Error{Code: CodeNotFound, Message: "not found"}
	ErrValidation  = &Error{Code: CodeValidation, Message: "validation error"}
	ErrConflict    = &Error{Code: CodeConflict, Message: "conflict"}
	ErrInternal    = &Error{Code: CodeInternal, Message: "internal error"}
	ErrFetch       = &Error{Code: CodeFetch, Message: "fetch failed"}
	ErrExtraction  = &Error{Code: CodeExtraction, Message: "extraction failed"}
	ErrMaterialize = &Error{Code: CodeMaterialize, Message: "materialization failed"}
	ErrRunFatal    = &Error{Code: CodeRunFatal, Message: "run failed"}
	ErrLeaseHeld   = &Error{Code: CodeLeaseHeld, Message: "another run holds the lease"}
	ErrLeaseLost   = &Error{Code: CodeLeaseLost, Message: "run lease lost"}
)

// NotFound creates a not found error.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// Validationf creates a validation error with formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationWithDetails creates a validation error with details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// Extractionf creates an extraction contract error.
func Extractionf(format string, args ...any) *Error {
	return &Error{Code: CodeExtraction, Message: fmt.Sprintf(format, args...)}
}

// RunFatal creates a run-fatal error.
func RunFatal(msg string) *Error {
	return &Error{Code: CodeRunFatal, Message: msg}
}

// RunFatalf creates a run-fatal error with formatted message.
func RunFatalf(format string, args ...any) *Error {
	return &Error{Code: CodeRunFatal, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf wraps an error with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

// CodeOf returns the code of the outermost *Error in the chain, or
// CodeInternal when err carries no code.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsRunFatal reports whether err must seal the run as failed.
// Uncoded errors are treated as fatal.
func IsRunFatal(err error) bool {
	if err == nil {
		return false
	}
	return !CodeOf(err).Recoverable()
}

// HTTPStatus maps the code onto an HTTP status for the ops endpoints.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeValidation:
		return http.StatusBadRequest
	case CodeConflict, CodeLeaseHeld, CodeLeaseLost:
		return http.StatusConflict
	case CodeFetch:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
