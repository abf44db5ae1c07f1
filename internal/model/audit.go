package model

import "time"

// Audit event type constants
const (
	AuditEventInstanceRegistered   = "INSTANCE_REGISTERED"
	AuditEventInstanceDeregistered = "INSTANCE_DEREGISTERED"
	AuditEventInstanceReaped       = "INSTANCE_REAPED"
	AuditEventHealthChanged        = "HEALTH_CHANGED"
	AuditEventCircuitStateChanged  = "CIRCUIT_STATE_CHANGED"
)

// CircuitTransition describes one breaker state change.
type CircuitTransition struct {
	Service    string
	InstanceID string
	From       string
	To         string
	At         time.Time
	// OpenUntil is set when To is "open".
	OpenUntil time.Time
}
