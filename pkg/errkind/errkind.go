// Package errkind defines the closed error taxonomy used across the pipeline.
// Every failure that crosses a component boundary is tagged with a Kind, and
// per-kind policy (retryable or not, surfaced to the dashboard or not) is
// decided here rather than at each call site.
package errkind

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind is the classification of a pipeline error.
type Kind string

// Error kinds. The set is closed: anything unclassifiable is Unexpected.
const (
	Validation  Kind = "validation"
	Auth        Kind = "auth"
	Client      Kind = "client"
	RateLimited Kind = "rate_limited"
	Timeout     Kind = "timeout"
	Transient   Kind = "transient"
	CircuitOpen Kind = "circuit_open"
	Resource    Kind = "resource"
	Unexpected  Kind = "unexpected"
)

// Retryable reports whether the kind is eligible for automatic retry.
func (k Kind) Retryable() bool {
	switch k {
	case RateLimited, Timeout, Transient, CircuitOpen, Unexpected:
		return true
	default:
		return false
	}
}

// Error is a classified pipeline error.
type Error struct {
	Kind    Kind
	Service string // external service name, if any
	Stage   string // pipeline stage, if known
	Err     error
}

func (e *Error) Error() string {
	if e.Service != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Service, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error wrapping err.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Newf creates a classified error from a format string.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// WithService returns a copy of e annotated with the service name.
func (e *Error) WithService(service string) *Error {
	cp := *e
	cp.Service = service
	return &cp
}

// KindOf extracts the Kind from an error chain. Unclassified errors
// report Unexpected; context deadline/cancellation report Timeout.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return Timeout
		}
		return Transient
	}
	return Unexpected
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// FromHTTPStatus classifies an HTTP response status code.
func FromHTTPStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return RateLimited
	case status == http.StatusRequestTimeout:
		return Timeout
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Auth
	case status >= 400 && status < 500:
		return Client
	case status >= 500:
		return Transient
	default:
		return Unexpected
	}
}
