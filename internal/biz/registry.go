package biz

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"RouteLane/internal/conf"
	"RouteLane/internal/model"
	zlog "RouteLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// RegistryEventType names a registry change.
type RegistryEventType string

const (
	EventRegistered    RegistryEventType = "registered"
	EventDeregistered  RegistryEventType = "deregistered"
	EventReaped        RegistryEventType = "reaped"
	EventHealthChanged RegistryEventType = "health_changed"
)

// RegistryEvent is delivered to subscribers after the change is visible to
// readers.
type RegistryEvent struct {
	Type     RegistryEventType
	Instance model.ServiceInstance
	At       time.Time
}

// registrySnapshot is immutable once published. Writers build a new one.
type registrySnapshot struct {
	byID      map[string]*model.ServiceInstance
	byService map[string][]*model.ServiceInstance // ordered by Seq
}

func (s *registrySnapshot) clone() *registrySnapshot {
	next := &registrySnapshot{
		byID:      make(map[string]*model.ServiceInstance, len(s.byID)+1),
		byService: make(map[string][]*model.ServiceInstance, len(s.byService)+1),
	}
	for id, inst := range s.byID {
		next.byID[id] = inst
	}
	for svc, list := range s.byService {
		next.byService[svc] = list
	}
	return next
}

// put stores inst, replacing any instance with the same id.
func (s *registrySnapshot) put(inst *model.ServiceInstance) {
	if old, ok := s.byID[inst.ID]; ok {
		s.removeFromService(old)
	}
	s.byID[inst.ID] = inst

	list := s.byService[inst.ServiceName]
	next := make([]*model.ServiceInstance, 0, len(list)+1)
	next = append(next, list...)
	next = append(next, inst)
	sort.Slice(next, func(i, j int) bool { return next[i].Seq < next[j].Seq })
	s.byService[inst.ServiceName] = next
}

func (s *registrySnapshot) remove(id string) (*model.ServiceInstance, bool) {
	old, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	delete(s.byID, id)
	s.removeFromService(old)
	return old, true
}

func (s *registrySnapshot) removeFromService(inst *model.ServiceInstance) {
	list := s.byService[inst.ServiceName]
	next := make([]*model.ServiceInstance, 0, len(list))
	for _, cur := range list {
		if cur.ID != inst.ID {
			next = append(next, cur)
		}
	}
	if len(next) == 0 {
		delete(s.byService, inst.ServiceName)
		return
	}
	s.byService[inst.ServiceName] = next
}

// ServiceRegistry holds the known instances of every service.
//
// Reads load the current snapshot without locking. Writes are serialized by
// mu, copy the snapshot, and publish the copy atomically, so a reader never
// sees a partially applied change and a removed instance is never returned
// by a read that starts after the removal.
//
// Writers that emit events take pubMu before mu and hold it until their
// events are delivered, so subscribers see events in commit order.
type ServiceRegistry struct {
	snap  atomic.Pointer[registrySnapshot]
	mu    sync.Mutex
	pubMu sync.Mutex
	seq   uint64

	unhealthyThreshold int
	defaultTTL         time.Duration

	subMu       sync.RWMutex
	subscribers []func(RegistryEvent)

	now    func() time.Time
	logger *zlog.LogHelper
}

// NewServiceRegistry creates an empty registry.
func NewServiceRegistry(c *conf.Registry, logger log.Logger) *ServiceRegistry {
	threshold := 3
	var ttl time.Duration
	if c != nil {
		if c.UnhealthyThreshold > 0 {
			threshold = c.UnhealthyThreshold
		}
		ttl = c.DefaultTTL
	}

	r := &ServiceRegistry{
		unhealthyThreshold: threshold,
		defaultTTL:         ttl,
		now:                time.Now,
		logger:             zlog.NewLogHelper(log.With(logger, "module", "registry")),
	}
	r.snap.Store(&registrySnapshot{
		byID:      map[string]*model.ServiceInstance{},
		byService: map[string][]*model.ServiceInstance{},
	})
	return r
}

// DefaultTTL is the heartbeat TTL applied to dynamic registrations that do
// not carry one.
func (r *ServiceRegistry) DefaultTTL() time.Duration {
	return r.defaultTTL
}

// Subscribe registers fn for every subsequent change. fn runs on the
// writer's goroutine after the snapshot lock is released, one event at a
// time in commit order. It must not block or call a registry writer.
func (r *ServiceRegistry) Subscribe(fn func(RegistryEvent)) {
	r.subMu.Lock()
	r.subscribers = append(r.subscribers, fn)
	r.subMu.Unlock()
}

func (r *ServiceRegistry) publish(events ...RegistryEvent) {
	if len(events) == 0 {
		return
	}
	r.subMu.RLock()
	subs := r.subscribers
	r.subMu.RUnlock()
	for _, ev := range events {
		for _, fn := range subs {
			fn(ev)
		}
	}
}

// InstanceID derives the id used when an instance registers without one.
func InstanceID(service, host string, port int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s/%s:%d", service, host, port)))
	return hex.EncodeToString(sum[:])[:16]
}

// Register upserts inst by id and marks it healthy. Re-registering an id
// keeps its original registration order. The only failure is an instance
// without a service name or a valid address.
func (r *ServiceRegistry) Register(inst model.ServiceInstance) (model.ServiceInstance, error) {
	if inst.ServiceName == "" || inst.Host == "" || inst.Port <= 0 || inst.Port > 65535 {
		return model.ServiceInstance{}, fmt.Errorf("%w: service=%q address=%s:%d",
			ErrInvalidInstance, inst.ServiceName, inst.Host, inst.Port)
	}
	if inst.ID == "" {
		inst.ID = InstanceID(inst.ServiceName, inst.Host, inst.Port)
	}
	if inst.TTL < 0 {
		inst.TTL = 0
	}

	r.pubMu.Lock()
	defer r.pubMu.Unlock()
	r.mu.Lock()
	now := r.now()
	next := r.snap.Load().clone()

	stored := inst.Clone()
	if old, ok := next.byID[inst.ID]; ok {
		stored.Seq = old.Seq
		stored.RegisteredAt = old.RegisteredAt
	} else {
		r.seq++
		stored.Seq = r.seq
		stored.RegisteredAt = now
	}
	stored.Health = model.HealthHealthy
	stored.ConsecutiveFailures = 0
	stored.LastChecked = now
	stored.LastHeartbeat = now

	next.put(&stored)
	r.snap.Store(next)
	r.mu.Unlock()

	out := stored.Clone()
	r.logger.Registry("instance registered",
		"target_service", out.ServiceName,
		"instance_id", out.ID,
		"address", out.Address(),
		"ttl", out.TTL.String())
	r.publish(RegistryEvent{Type: EventRegistered, Instance: out, At: now})
	return out, nil
}

// Deregister removes the instance. Removing an unknown id is a no-op; the
// return value reports whether anything was removed.
func (r *ServiceRegistry) Deregister(id string) bool {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()
	r.mu.Lock()
	cur := r.snap.Load()
	if _, ok := cur.byID[id]; !ok {
		r.mu.Unlock()
		return false
	}
	next := cur.clone()
	old, _ := next.remove(id)
	r.snap.Store(next)
	now := r.now()
	r.mu.Unlock()

	out := old.Clone()
	r.logger.Registry("instance deregistered",
		"target_service", out.ServiceName,
		"instance_id", out.ID)
	r.publish(RegistryEvent{Type: EventDeregistered, Instance: out, At: now})
	return true
}

// MarkHealth applies one probe outcome. A success makes the instance healthy
// immediately; UnhealthyThreshold consecutive failures make it unhealthy.
// Unknown ids are ignored.
func (r *ServiceRegistry) MarkHealth(id string, healthy bool) {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()
	r.mu.Lock()
	cur := r.snap.Load()
	old, ok := cur.byID[id]
	if !ok {
		r.mu.Unlock()
		return
	}

	now := r.now()
	updated := old.Clone()
	updated.LastChecked = now
	if healthy {
		updated.ConsecutiveFailures = 0
		updated.Health = model.HealthHealthy
	} else {
		updated.ConsecutiveFailures++
		if updated.ConsecutiveFailures >= r.unhealthyThreshold {
			updated.Health = model.HealthUnhealthy
		}
	}

	next := cur.clone()
	next.put(&updated)
	r.snap.Store(next)
	r.mu.Unlock()

	if updated.Health != old.Health {
		out := updated.Clone()
		r.logger.Registry("instance health changed",
			"target_service", out.ServiceName,
			"instance_id", out.ID,
			"health", string(out.Health),
			"consecutive_failures", out.ConsecutiveFailures)
		r.publish(RegistryEvent{Type: EventHealthChanged, Instance: out, At: now})
	}
}

// Heartbeat renews the instance's lease.
func (r *ServiceRegistry) Heartbeat(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := r.snap.Load()
	old, ok := cur.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
	}

	updated := old.Clone()
	updated.LastHeartbeat = r.now()

	next := cur.clone()
	next.put(&updated)
	r.snap.Store(next)
	return nil
}

// Reap removes every instance with a TTL whose last heartbeat is older than
// that TTL, and returns the removed instances.
func (r *ServiceRegistry) Reap() []model.ServiceInstance {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()
	r.mu.Lock()
	now := r.now()
	cur := r.snap.Load()

	var expired []string
	for id, inst := range cur.byID {
		if inst.TTL > 0 && now.Sub(inst.LastHeartbeat) > inst.TTL {
			expired = append(expired, id)
		}
	}
	if len(expired) == 0 {
		r.mu.Unlock()
		return nil
	}

	next := cur.clone()
	removed := make([]model.ServiceInstance, 0, len(expired))
	for _, id := range expired {
		if old, ok := next.remove(id); ok {
			removed = append(removed, old.Clone())
		}
	}
	r.snap.Store(next)
	r.mu.Unlock()

	sort.Slice(removed, func(i, j int) bool { return removed[i].Seq < removed[j].Seq })
	events := make([]RegistryEvent, 0, len(removed))
	for _, inst := range removed {
		r.logger.Registry("instance reaped",
			"target_service", inst.ServiceName,
			"instance_id", inst.ID,
			"last_heartbeat", inst.LastHeartbeat)
		events = append(events, RegistryEvent{Type: EventReaped, Instance: inst, At: now})
	}
	r.publish(events...)
	return removed
}

// HealthyInstances returns a copy of the healthy instances of service in
// registration order.
func (r *ServiceRegistry) HealthyInstances(service string) []model.ServiceInstance {
	list := r.snap.Load().byService[service]
	out := make([]model.ServiceInstance, 0, len(list))
	for _, inst := range list {
		if inst.Healthy() {
			out = append(out, inst.Clone())
		}
	}
	return out
}

// Instances returns a copy of every instance of service, healthy or not.
func (r *ServiceRegistry) Instances(service string) []model.ServiceInstance {
	list := r.snap.Load().byService[service]
	out := make([]model.ServiceInstance, 0, len(list))
	for _, inst := range list {
		out = append(out, inst.Clone())
	}
	return out
}

// All returns every registered instance in registration order.
func (r *ServiceRegistry) All() []model.ServiceInstance {
	snap := r.snap.Load()
	out := make([]model.ServiceInstance, 0, len(snap.byID))
	for _, inst := range snap.byID {
		out = append(out, inst.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Instance returns a copy of the instance with the given id.
func (r *ServiceRegistry) Instance(id string) (model.ServiceInstance, bool) {
	inst, ok := r.snap.Load().byID[id]
	if !ok {
		return model.ServiceInstance{}, false
	}
	return inst.Clone(), true
}

// Services returns the sorted names of services with at least one instance.
func (r *ServiceRegistry) Services() []string {
	snap := r.snap.Load()
	out := make([]string, 0, len(snap.byService))
	for svc := range snap.byService {
		out = append(out, svc)
	}
	sort.Strings(out)
	return out
}

// Seed registers the statically configured instances. Static instances
// never expire.
func (r *ServiceRegistry) Seed(static []*conf.StaticInstance) (int, error) {
	n := 0
	for i, s := range static {
		if s == nil {
			continue
		}
		_, err := r.Register(model.ServiceInstance{
			ID:          s.ID,
			ServiceName: s.Service,
			Host:        s.Host,
			Port:        s.Port,
			Metadata:    s.Metadata,
		})
		if err != nil {
			return n, fmt.Errorf("static instance %d: %w", i, err)
		}
		n++
	}
	return n, nil
}
