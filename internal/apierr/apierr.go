package apierr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced to the participant-facing layer. Raw transport
// errors never cross this boundary.
const (
	CodeValidationRejected      = "validation_rejected"
	CodeRateLimited             = "rate_limited"
	CodeMalformedOutput         = "malformed_output"
	CodeInvalidUpstreamResponse = "invalid_upstream_response"
	CodeDispatchFailure         = "dispatch_failure"
	CodeNotFound                = "not_found"
	CodeWordCount               = "word_count"
	CodePhaseConflict           = "phase_conflict"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func NotFound(err error) *Error {
	return New(http.StatusNotFound, CodeNotFound, err)
}

func RateLimited(err error) *Error {
	return New(http.StatusTooManyRequests, CodeRateLimited, err)
}

func DispatchFailure(err error) *Error {
	return New(http.StatusServiceUnavailable, CodeDispatchFailure, err)
}

// As unwraps err into an *Error when one is in the chain.
func As(err error) (*Error, bool) {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	if apiErr, ok := As(err); ok {
		return apiErr.Code == code
	}
	return false
}
