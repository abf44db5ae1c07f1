// Package errors provides downstream transport error classification.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
)

// TransportErrorType represents the type of transport failure.
type TransportErrorType int

const (
	// ErrorTypeUnknown represents an unclassified transport error.
	ErrorTypeUnknown TransportErrorType = iota
	// ErrorTypeTimeout represents an exceeded deadline (dial, read or context).
	ErrorTypeTimeout
	// ErrorTypeConnectionRefused represents a refused connection (ECONNREFUSED).
	ErrorTypeConnectionRefused
	// ErrorTypeConnectionReset represents a connection dropped mid-exchange.
	ErrorTypeConnectionReset
	// ErrorTypeCanceled represents cancellation by the caller.
	ErrorTypeCanceled
	// ErrorTypeDNS represents a name resolution failure.
	ErrorTypeDNS
	// ErrorTypeResponseTooLarge represents a reply body over the size limit.
	ErrorTypeResponseTooLarge
)

// ErrResponseTooLarge is the cause of every ErrorTypeResponseTooLarge error.
var ErrResponseTooLarge = errors.New("response body too large")

// String returns a short name for logs and metrics.
func (t TransportErrorType) String() string {
	switch t {
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeConnectionRefused:
		return "connection_refused"
	case ErrorTypeConnectionReset:
		return "connection_reset"
	case ErrorTypeCanceled:
		return "canceled"
	case ErrorTypeDNS:
		return "dns"
	case ErrorTypeResponseTooLarge:
		return "response_too_large"
	default:
		return "unknown"
	}
}

// TransportError wraps a transport error with classification information.
type TransportError struct {
	Type        TransportErrorType
	OriginalErr error
	Message     string
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Message, e.OriginalErr)
}

// Unwrap returns the underlying error for errors.Is and errors.As compatibility.
func (e *TransportError) Unwrap() error {
	return e.OriginalErr
}

// Retryable reports whether another instance may succeed where this one failed.
// Timeouts and refused connections are transient; everything else is not.
func (e *TransportError) Retryable() bool {
	return e.Type == ErrorTypeTimeout || e.Type == ErrorTypeConnectionRefused
}

// ClassifyTransportError classifies a downstream call error.
//
// It handles context and net errors:
//   - context.DeadlineExceeded, net.Error.Timeout() → ErrorTypeTimeout
//   - context.Canceled → ErrorTypeCanceled
//   - ECONNREFUSED → ErrorTypeConnectionRefused
//   - ECONNRESET, EPIPE → ErrorTypeConnectionReset
//   - *net.DNSError → ErrorTypeDNS
//
// Errors that carry no typed cause fall back to message keywords.
//
// Example:
//
//	resp, err := transport.Call(ctx, instance, req)
//	if err != nil {
//	    tErr := errors.ClassifyTransportError(err)
//	    if tErr.Retryable() {
//	        // pick another instance
//	    }
//	}
func ClassifyTransportError(err error) *TransportError {
	if err == nil {
		return nil
	}

	var existing *TransportError
	if errors.As(err, &existing) {
		return existing
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return newTransportError(ErrorTypeTimeout, err, "deadline exceeded")
	}

	if errors.Is(err, context.Canceled) {
		return newTransportError(ErrorTypeCanceled, err, "call canceled")
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return newTransportError(ErrorTypeConnectionRefused, err, "connection refused")
	}

	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return newTransportError(ErrorTypeConnectionReset, err, "connection reset")
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return newTransportError(ErrorTypeTimeout, err, "dns timeout")
		}
		return newTransportError(ErrorTypeDNS, err, "dns lookup failed")
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return newTransportError(ErrorTypeTimeout, err, "network timeout")
	}

	return classifyByMessage(err)
}

// NewResponseTooLargeError reports a reply from instanceID that exceeded limit bytes.
func NewResponseTooLargeError(instanceID string, limit int64) *TransportError {
	return newTransportError(ErrorTypeResponseTooLarge, ErrResponseTooLarge,
		fmt.Sprintf("downstream reply from %s exceeds %d bytes", instanceID, limit))
}

func newTransportError(t TransportErrorType, err error, msg string) *TransportError {
	return &TransportError{Type: t, OriginalErr: err, Message: msg}
}

// classifyByMessage checks if the error message names a known failure.
func classifyByMessage(err error) *TransportError {
	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "connection refused"):
		return newTransportError(ErrorTypeConnectionRefused, err, "connection refused")
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"):
		return newTransportError(ErrorTypeTimeout, err, "timeout")
	case strings.Contains(msg, "connection reset"), strings.Contains(msg, "broken pipe"):
		return newTransportError(ErrorTypeConnectionReset, err, "connection reset")
	case strings.Contains(msg, "no such host"):
		return newTransportError(ErrorTypeDNS, err, "dns lookup failed")
	}

	return newTransportError(ErrorTypeUnknown, err, "transport error")
}

// IsTimeoutError checks if the error is a timeout.
func IsTimeoutError(err error) bool {
	tErr := ClassifyTransportError(err)
	return tErr != nil && tErr.Type == ErrorTypeTimeout
}

// IsConnectionRefusedError checks if the error is a refused connection.
func IsConnectionRefusedError(err error) bool {
	tErr := ClassifyTransportError(err)
	return tErr != nil && tErr.Type == ErrorTypeConnectionRefused
}

// IsCanceledError checks if the error is a caller cancellation.
func IsCanceledError(err error) bool {
	tErr := ClassifyTransportError(err)
	return tErr != nil && tErr.Type == ErrorTypeCanceled
}

// IsRetryable checks if the error is transient.
func IsRetryable(err error) bool {
	tErr := ClassifyTransportError(err)
	return tErr != nil && tErr.Retryable()
}
