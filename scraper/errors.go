package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"
)

// ErrTruncated means enumeration hit the page limit while the source still
// had pages left, so the candidate stream is incomplete.
var ErrTruncated = errors.New("enumeration truncated at page limit")

// FetchError is a network or HTTP failure while loading a page.
type FetchError struct {
	URL string
	// StatusCode is zero when no HTTP response was received.
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient: a timeout, a reset
// connection, or HTTP 429/503.
func (e *FetchError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	case 0:
	default:
		return false
	}

	if errors.Is(e.Err, context.Canceled) {
		return false
	}
	if errors.Is(e.Err, context.DeadlineExceeded) ||
		errors.Is(e.Err, syscall.ECONNRESET) ||
		errors.Is(e.Err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// ParseError means a page loaded but did not have the expected shape.
// Retrying will not help.
type ParseError struct {
	URL    string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.URL, e.Reason)
}

// IsRetryable is the retry predicate for fetches.
func IsRetryable(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Retryable()
}

// IsNotFound reports whether err is an HTTP 404.
func IsNotFound(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.StatusCode == http.StatusNotFound
}

// ErrorClass names the taxonomy bucket of a candidate failure.
func ErrorClass(err error) string {
	var fe *FetchError
	var pe *ParseError
	switch {
	case errors.As(err, &pe):
		return "parse"
	case errors.As(err, &fe):
		return "fetch"
	default:
		return "other"
	}
}
