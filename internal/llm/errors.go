package llm

import (
	"errors"
	"fmt"
)

// RateLimitedError means the upstream kept throttling after the full retry
// budget. It is recoverable from the participant's side.
type RateLimitedError struct {
	Attempts int
}

func (e *RateLimitedError) Error() string {
	return "rate limit exceeded; please wait a moment and try again"
}

// MalformedOutputError means the model's text could not be parsed against
// the requested schema. Excerpt is truncated raw text for diagnostics.
type MalformedOutputError struct {
	Excerpt string
	Err     error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("failed to parse model JSON output: %v - response: %s", e.Err, e.Excerpt)
}

func (e *MalformedOutputError) Unwrap() error { return e.Err }

// InvalidUpstreamResponseError means the API responded but without the
// expected content field.
type InvalidUpstreamResponseError struct {
	Body string
}

func (e *InvalidUpstreamResponseError) Error() string {
	return "invalid response from LLM API: " + e.Body
}

type httpError struct {
	StatusCode int
	Body       string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("llm http %d: %s", e.StatusCode, e.Body)
}

func IsRateLimited(err error) bool {
	var rl *RateLimitedError
	return errors.As(err, &rl)
}

func IsMalformedOutput(err error) bool {
	var mo *MalformedOutputError
	return errors.As(err, &mo)
}

func IsInvalidUpstreamResponse(err error) bool {
	var iu *InvalidUpstreamResponseError
	return errors.As(err, &iu)
}
