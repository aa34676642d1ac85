package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrHTTP       = errors.New("http error")
	ErrNotFound   = errors.New("not found")
	ErrTimeout    = errors.New("request timed out")
	ErrValidation = errors.New("response failed schema validation")
)

type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s %s: http %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: http %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

func (e *HTTPError) Is(target error) bool {
	if target == ErrHTTP {
		return true
	}
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

type TimeoutError struct {
	Method  string
	Path    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s: no response within %s", e.Method, e.Path, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// ValidationError reports a response body that does not match its schema.
// The body never reaches the cache.
type ValidationError struct {
	Path   string
	Schema string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: response does not match %s schema: %v", e.Path, e.Schema, e.Err)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
