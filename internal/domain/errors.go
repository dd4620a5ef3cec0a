package domain

import (
	"errors"
	"fmt"
)

// Code classifies an error so callers can map it to a response without
// string matching.
type Code string

const (
	CodeReject     Code = "REJECT"     // ingestion for an unknown or disabled service
	CodeValidation Code = "VALIDATION" // malformed input
	CodeConflict   Code = "CONFLICT"   // ordering or idempotency violation
	CodeFetch      Code = "FETCH"      // cache fetch failed with nothing to fall back on
	CodeStore      Code = "STORE"      // durable write failed
	CodeProbe      Code = "PROBE"      // outbound check failed; never leaves the prober
)

// Error is a coded error. Sentinels below are compared with errors.Is.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return e.Message }

var (
	ErrServiceNotFound  = &Error{Code: CodeReject, Message: "service not found"}
	ErrServiceDisabled  = &Error{Code: CodeReject, Message: "service is disabled"}
	ErrInvalidUpdate    = &Error{Code: CodeValidation, Message: "invalid update"}
	ErrInvalidService   = &Error{Code: CodeValidation, Message: "invalid service"}
	ErrDuplicateSample  = &Error{Code: CodeConflict, Message: "duplicate sample timestamp"}
	ErrOutOfOrderSample = &Error{Code: CodeConflict, Message: "sample older than latest"}
	ErrUnavailable      = &Error{Code: CodeFetch, Message: "data unavailable"}
	ErrStore            = &Error{Code: CodeStore, Message: "store write failed"}
	ErrProbe            = &Error{Code: CodeProbe, Message: "probe failed"}
)

// Invalid wraps ErrInvalidUpdate with a field-level reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidUpdate, fmt.Sprintf(format, args...))
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries code c.
func IsCode(err error, c Code) bool {
	return err != nil && CodeOf(err) == c
}
