// Package model holds the value types shared by the registry, the router and
// the data layer.
package model

import (
	"net"
	"strconv"
	"time"
)

// HealthStatus is the probe-derived health of an instance.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// ServiceInstance is one addressable backend of a logical service.
// Values handed out by the registry are copies; mutating them has no effect
// on registry state.
type ServiceInstance struct {
	ID          string            `json:"id"`
	ServiceName string            `json:"service"`
	Host        string            `json:"host"`
	Port        int               `json:"port"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	// TTL bounds the time between heartbeats; zero means the instance never
	// expires.
	TTL time.Duration `json:"ttl,omitempty"`

	Health              HealthStatus `json:"health"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastChecked         time.Time    `json:"last_checked"`
	LastHeartbeat       time.Time    `json:"last_heartbeat"`
	RegisteredAt        time.Time    `json:"registered_at"`

	// Seq orders instances by first registration.
	Seq uint64 `json:"-"`
}

// Address returns host:port.
func (si *ServiceInstance) Address() string {
	return net.JoinHostPort(si.Host, strconv.Itoa(si.Port))
}

// Healthy reports whether the instance is currently eligible for routing.
func (si *ServiceInstance) Healthy() bool {
	return si.Health == HealthHealthy
}

// Clone returns a deep copy.
func (si *ServiceInstance) Clone() ServiceInstance {
	out := *si
	if si.Metadata != nil {
		out.Metadata = make(map[string]string, len(si.Metadata))
		for k, v := range si.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
