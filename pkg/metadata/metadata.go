// Package metadata provides structured parsing and validation for instance
// metadata. Instance metadata is a flat string map carried with every
// registration; this package gives typed access to the keys the gateway
// understands (health check kind and path, zone, tags).
package metadata

import (
	"fmt"
	"sort"
	"strings"
)

// Well-known metadata keys.
const (
	KeyHealthCheck = "health_check"
	KeyHealthPath  = "health_path"
	KeyZone        = "zone"
	KeyTags        = "tags"
)

// Health check kinds.
const (
	CheckHTTP = "http"
	CheckTCP  = "tcp"
	CheckGRPC = "grpc"
)

// InstanceMetadata is the typed view of an instance's metadata map.
type InstanceMetadata struct {
	HealthCheck string   // http, tcp or grpc; empty means the gateway default
	HealthPath  string   // HTTP probe path (e.g., /health)
	Zone        string   // Availability zone (e.g., eu-west-1a)
	Tags        []string // Free-form tags, comma separated on the wire
	Extra       map[string]string
}

// Parse builds InstanceMetadata from a raw map. A nil map yields empty metadata.
func Parse(m map[string]string) *InstanceMetadata {
	meta := &InstanceMetadata{}
	for k, v := range m {
		switch strings.ToLower(k) {
		case KeyHealthCheck:
			meta.HealthCheck = strings.ToLower(strings.TrimSpace(v))
		case KeyHealthPath:
			meta.HealthPath = strings.TrimSpace(v)
		case KeyZone:
			meta.Zone = strings.TrimSpace(v)
		case KeyTags:
			for _, tag := range strings.Split(v, ",") {
				if tag = strings.TrimSpace(tag); tag != "" {
					meta.Tags = append(meta.Tags, tag)
				}
			}
		default:
			if meta.Extra == nil {
				meta.Extra = make(map[string]string)
			}
			meta.Extra[k] = v
		}
	}
	sort.Strings(meta.Tags)
	return meta
}

// Map serializes the metadata back into a flat map.
// Returns nil if metadata is empty.
func (m *InstanceMetadata) Map() map[string]string {
	if m.IsEmpty() {
		return nil
	}

	out := make(map[string]string, len(m.Extra)+4)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.HealthCheck != "" {
		out[KeyHealthCheck] = m.HealthCheck
	}
	if m.HealthPath != "" {
		out[KeyHealthPath] = m.HealthPath
	}
	if m.Zone != "" {
		out[KeyZone] = m.Zone
	}
	if len(m.Tags) > 0 {
		out[KeyTags] = strings.Join(m.Tags, ",")
	}
	return out
}

// IsEmpty checks if metadata has any non-zero values.
func (m *InstanceMetadata) IsEmpty() bool {
	return m.HealthCheck == "" &&
		m.HealthPath == "" &&
		m.Zone == "" &&
		len(m.Tags) == 0 &&
		len(m.Extra) == 0
}

// HasTag reports whether tag is present.
func (m *InstanceMetadata) HasTag(tag string) bool {
	i := sort.SearchStrings(m.Tags, tag)
	return i < len(m.Tags) && m.Tags[i] == tag
}

// Validate validates metadata fields and returns error if invalid.
// Validation rules:
// - health_check: one of http, tcp, grpc if provided
// - health_path: must start with "/" if provided
// - tags: max 10 tags, each tag max 50 characters
func (m *InstanceMetadata) Validate() error {
	switch m.HealthCheck {
	case "", CheckHTTP, CheckTCP, CheckGRPC:
	default:
		return fmt.Errorf("invalid health_check %q (supported: http, tcp, grpc)", m.HealthCheck)
	}

	if m.HealthPath != "" && !strings.HasPrefix(m.HealthPath, "/") {
		return fmt.Errorf("health_path must start with /, got: %s", m.HealthPath)
	}

	if len(m.Tags) > 10 {
		return fmt.Errorf("too many tags: max 10 allowed, got %d", len(m.Tags))
	}
	for i, tag := range m.Tags {
		if len(tag) > 50 {
			return fmt.Errorf("tag[%d] too long: max 50 characters, got %d", i, len(tag))
		}
	}

	return nil
}

// CheckKind returns the configured health check kind, or def when unset.
func (m *InstanceMetadata) CheckKind(def string) string {
	if m.HealthCheck != "" {
		return m.HealthCheck
	}
	return def
}

// Path returns the configured probe path, or def when unset.
func (m *InstanceMetadata) Path(def string) string {
	if m.HealthPath != "" {
		return m.HealthPath
	}
	return def
}
