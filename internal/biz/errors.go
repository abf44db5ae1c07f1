package biz

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"RouteLane/internal/model"
)

var (
	// ErrNoHealthyInstance is returned by a LoadBalancer given no candidates.
	ErrNoHealthyInstance = errors.New("no healthy instance")
	// ErrCircuitOpen is returned by a CircuitBreaker that refused the call.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrInvalidInstance is returned when registering an instance without a
	// usable service name or address.
	ErrInvalidInstance = errors.New("invalid instance")
	// ErrInstanceNotFound is returned for operations on an unknown instance id.
	ErrInstanceNotFound = errors.New("instance not found")
	// ErrUnknownService is returned when a service has no registered instances.
	ErrUnknownService = errors.New("unknown service")
	// ErrRouteNotFound is returned when no route matches the request path.
	ErrRouteNotFound = errors.New("no route matches path")
)

// ErrorKind classifies router failures for callers.
type ErrorKind int

const (
	// KindServiceUnavailable: no healthy instance or breaker open; no call attempted.
	KindServiceUnavailable ErrorKind = iota + 1
	// KindUpstreamTimeout: the downstream call exceeded its deadline.
	KindUpstreamTimeout
	// KindUpstreamError: the downstream failed or answered with an error status.
	KindUpstreamError
	// KindRetryExhausted: the single permitted retry also failed.
	KindRetryExhausted
)

func (k ErrorKind) String() string {
	switch k {
	case KindServiceUnavailable:
		return "SERVICE_UNAVAILABLE"
	case KindUpstreamTimeout:
		return "UPSTREAM_TIMEOUT"
	case KindUpstreamError:
		return "UPSTREAM_ERROR"
	case KindRetryExhausted:
		return "RETRY_EXHAUSTED"
	default:
		return "UNKNOWN"
	}
}

// RouterError is the only error type RequestRouter.Handle returns.
type RouterError struct {
	Kind       ErrorKind
	Service    string
	InstanceID string   // last instance attempted, empty if none
	Attempted  []string // every instance attempted, in order
	Elapsed    time.Duration
	// Response is the downstream reply when the failure was an error status.
	Response *model.Response
	Cause    error
}

// Error implements the error interface.
func (e *RouterError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: service=%q", e.Kind, e.Service)
	if e.InstanceID != "" {
		fmt.Fprintf(&b, " instance=%q", e.InstanceID)
	}
	if len(e.Attempted) > 1 {
		fmt.Fprintf(&b, " attempted=%v", e.Attempted)
	}
	fmt.Fprintf(&b, " elapsed=%s", e.Elapsed)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *RouterError) Unwrap() error {
	return e.Cause
}

// KindOf returns the kind of a *RouterError anywhere in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var re *RouterError
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}

// StatusError reports a downstream reply carrying an error status.
type StatusError struct {
	Response *model.Response
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream responded with status %d", e.Response.StatusCode)
}
