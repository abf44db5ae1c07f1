package data

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"RouteLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// auditBufferSize bounds the number of queued audit rows.
const auditBufferSize = 1000

// AuditLog is the GORM model for the gateway_audit_logs table.
type AuditLog struct {
	ID         int64     `gorm:"primaryKey;column:id"`
	EventType  string    `gorm:"column:event_type;type:varchar(50);not null;index"`
	Service    string    `gorm:"column:service;type:varchar(128);not null;index"`
	InstanceID string    `gorm:"column:instance_id;type:varchar(128);not null"`
	Details    string    `gorm:"column:details;type:json"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName specifies the table name for GORM
func (AuditLog) TableName() string {
	return "gateway_audit_logs"
}

// AuditLoggerImpl implements biz.AuditLogger. Rows are written by a single
// background goroutine; when the buffer is full new events are dropped.
// Without a database every event is only logged.
type AuditLoggerImpl struct {
	write   func(ctx context.Context, row *AuditLog) error
	logChan chan *AuditLog
	logger  *log.Helper

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewAuditLogger creates the audit logger and its writer goroutine. The
// returned cleanup flushes queued events.
func NewAuditLogger(d *Data, logger log.Logger) (*AuditLoggerImpl, func()) {
	helper := log.NewHelper(log.With(logger, "module", "audit"))

	var write func(ctx context.Context, row *AuditLog) error
	if db := d.GetDB(); db != nil {
		write = gormWriter(db)
	} else {
		write = func(_ context.Context, row *AuditLog) error {
			helper.Infow("msg", "audit event",
				"event_type", row.EventType,
				"target_service", row.Service,
				"instance_id", row.InstanceID,
				"details", row.Details)
			return nil
		}
	}

	al := newAuditLogger(write, auditBufferSize, helper)
	return al, al.Close
}

func gormWriter(db *gorm.DB) func(ctx context.Context, row *AuditLog) error {
	return func(ctx context.Context, row *AuditLog) error {
		return db.WithContext(ctx).Create(row).Error
	}
}

func newAuditLogger(write func(context.Context, *AuditLog) error, size int, helper *log.Helper) *AuditLoggerImpl {
	al := &AuditLoggerImpl{
		write:   write,
		logChan: make(chan *AuditLog, size),
		logger:  helper,
		done:    make(chan struct{}),
	}
	go al.start()
	return al
}

// start processes audit events from the channel until it is closed.
func (a *AuditLoggerImpl) start() {
	defer close(a.done)
	for event := range a.logChan {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.write(ctx, event); err != nil {
			a.logger.Errorw("msg", "failed to write audit log",
				"event_type", event.EventType,
				"instance_id", event.InstanceID,
				"error", err)
		}
		cancel()
	}
}

// Close stops accepting events and waits for queued ones to be written.
func (a *AuditLoggerImpl) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.logChan)
	}
	a.mu.Unlock()
	<-a.done
}

// LogInstanceEvent records a registry change.
func (a *AuditLoggerImpl) LogInstanceEvent(_ context.Context, eventType string, inst model.ServiceInstance, detail string) {
	details := map[string]interface{}{
		"address": inst.Address(),
		"health":  string(inst.Health),
	}
	if detail != "" {
		details["detail"] = detail
	}
	a.enqueue(eventType, inst.ServiceName, inst.ID, details)
}

// LogCircuitTransition records a breaker state change.
func (a *AuditLoggerImpl) LogCircuitTransition(_ context.Context, t model.CircuitTransition) {
	details := map[string]interface{}{
		"from": t.From,
		"to":   t.To,
		"at":   t.At.UTC().Format(time.RFC3339Nano),
	}
	if !t.OpenUntil.IsZero() {
		details["open_until"] = t.OpenUntil.UTC().Format(time.RFC3339Nano)
	}
	a.enqueue(model.AuditEventCircuitStateChanged, t.Service, t.InstanceID, details)
}

func (a *AuditLoggerImpl) enqueue(eventType, service, instanceID string, details map[string]interface{}) {
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		a.logger.Errorw("msg", "failed to marshal audit log details", "error", err)
		return
	}

	event := &AuditLog{
		EventType:  eventType,
		Service:    service,
		InstanceID: instanceID,
		Details:    string(detailsJSON),
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.logger.Warnw("msg", "audit logger closed, dropping event", "event_type", eventType)
		return
	}

	select {
	case a.logChan <- event:
	default:
		a.logger.Warnw("msg", "audit log channel full, dropping event",
			"event_type", eventType,
			"instance_id", instanceID)
	}
}
