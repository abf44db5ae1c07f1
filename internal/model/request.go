package model

import (
	"net/http"
	"time"
)

// Headers understood or set by the gateway.
const (
	// HeaderService overrides path-based route resolution.
	HeaderService = "X-RouteLane-Service"
	// HeaderDeadline carries the remaining call budget in milliseconds.
	HeaderDeadline = "X-RouteLane-Deadline-Ms"
	// HeaderIdempotent marks a request as safe to replay.
	HeaderIdempotent = "X-RouteLane-Idempotent"
	// HeaderError names the RouterError kind on gateway-generated replies.
	HeaderError = "X-RouteLane-Error"
)

// Request is the inbound request as seen by the router.
type Request struct {
	// Service is the resolved target service; empty means resolve from Path.
	Service string
	Method  string
	Path    string
	Query   string
	Header  http.Header
	Body    []byte
	// Idempotent marks the request as safe to replay after a downstream
	// error response.
	Idempotent bool
}

// Response is a downstream reply, returned to the caller unchanged.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// IsError reports whether the downstream answered with an error status.
func (r *Response) IsError() bool {
	return r.StatusCode >= 400
}

// IsServerError reports a 5xx status.
func (r *Response) IsServerError() bool {
	return r.StatusCode >= 500
}

// ProbeResult is the outcome of one on-demand probe.
type ProbeResult struct {
	InstanceID string        `json:"instance_id"`
	Address    string        `json:"address"`
	Healthy    bool          `json:"healthy"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration"`
}
