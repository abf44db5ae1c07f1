package biz

import (
	"context"
	"fmt"

	"RouteLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
)

// AuditLogger records registry and breaker changes. Implementations must
// not block the caller.
type AuditLogger interface {
	// LogInstanceEvent records a registry change of inst.
	LogInstanceEvent(ctx context.Context, eventType string, inst model.ServiceInstance, detail string)

	// LogCircuitTransition records a breaker state change.
	LogCircuitTransition(ctx context.Context, t model.CircuitTransition)
}

// AuditRecorder feeds registry events and breaker transitions into an
// AuditLogger.
type AuditRecorder struct {
	audit  AuditLogger
	logger *log.Helper
}

// NewAuditRecorder subscribes to the registry and the breaker set.
func NewAuditRecorder(audit AuditLogger, registry *ServiceRegistry, breakers *BreakerSet, logger log.Logger) *AuditRecorder {
	rec := &AuditRecorder{
		audit:  audit,
		logger: log.NewHelper(log.With(logger, "module", "audit")),
	}
	registry.Subscribe(rec.onRegistryEvent)
	breakers.OnStateChange(rec.onTransition)
	return rec
}

func (rec *AuditRecorder) onRegistryEvent(ev RegistryEvent) {
	var eventType, detail string
	switch ev.Type {
	case EventRegistered:
		eventType = model.AuditEventInstanceRegistered
		detail = fmt.Sprintf("address=%s ttl=%s", ev.Instance.Address(), ev.Instance.TTL)
	case EventDeregistered:
		eventType = model.AuditEventInstanceDeregistered
	case EventReaped:
		eventType = model.AuditEventInstanceReaped
		detail = fmt.Sprintf("last_heartbeat=%s", ev.Instance.LastHeartbeat.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
	case EventHealthChanged:
		eventType = model.AuditEventHealthChanged
		detail = fmt.Sprintf("health=%s consecutive_failures=%d", ev.Instance.Health, ev.Instance.ConsecutiveFailures)
	default:
		rec.logger.Debugf("ignoring registry event %q", ev.Type)
		return
	}
	rec.audit.LogInstanceEvent(context.Background(), eventType, ev.Instance, detail)
}

func (rec *AuditRecorder) onTransition(t model.CircuitTransition) {
	rec.audit.LogCircuitTransition(context.Background(), t)
}
