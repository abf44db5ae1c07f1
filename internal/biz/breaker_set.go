package biz

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"RouteLane/internal/conf"
	"RouteLane/internal/model"
	zlog "RouteLane/pkg/log"

	"github.com/cespare/xxhash/v2"
	"github.com/go-kratos/kratos/v2/log"
)

const breakerShardCount = 32

type breakerShard struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// BreakerSet owns one CircuitBreaker per (service, instance) pair. Breakers
// are created on first use and discarded when the registry drops their
// instance. The map is sharded by key hash to keep lookups on the request
// path from contending.
type BreakerSet struct {
	shards   [breakerShardCount]*breakerShard
	settings BreakerSettings
	registry *ServiceRegistry

	observers atomic.Pointer[[]func(model.CircuitTransition)]
	logger    *zlog.LogHelper
	now       func() time.Time
}

// BreakerSettingsFromConfig converts the breaker section of the config.
func BreakerSettingsFromConfig(c *conf.Breaker) BreakerSettings {
	if c == nil {
		return BreakerSettings{FailureThreshold: 5, OpenDuration: 10 * time.Second}
	}
	return BreakerSettings{
		FailureThreshold:  c.FailureThreshold,
		OpenDuration:      c.OpenDuration,
		BackoffMultiplier: c.BackoffMultiplier,
		MaxOpenDuration:   c.MaxOpenDuration,
		Window:            c.Window,
	}
}

// NewBreakerSet creates the set and subscribes it to registry removals.
func NewBreakerSet(c *conf.Breaker, registry *ServiceRegistry, logger log.Logger) *BreakerSet {
	s := &BreakerSet{
		settings: BreakerSettingsFromConfig(c),
		registry: registry,
		logger:   zlog.NewLogHelper(log.With(logger, "module", "breaker")),
		now:      time.Now,
	}
	for i := range s.shards {
		s.shards[i] = &breakerShard{breakers: map[string]*CircuitBreaker{}}
	}

	if registry != nil {
		registry.Subscribe(func(ev RegistryEvent) {
			switch ev.Type {
			case EventDeregistered, EventReaped:
				s.Remove(ev.Instance.ServiceName, ev.Instance.ID)
			}
		})
	}
	return s
}

// OnStateChange adds an observer for every breaker transition.
func (s *BreakerSet) OnStateChange(fn func(model.CircuitTransition)) {
	for {
		cur := s.observers.Load()
		var next []func(model.CircuitTransition)
		if cur != nil {
			next = append(next, *cur...)
		}
		next = append(next, fn)
		if s.observers.CompareAndSwap(cur, &next) {
			return
		}
	}
}

func breakerKey(service, instanceID string) string {
	return service + "/" + instanceID
}

func (s *BreakerSet) shard(key string) *breakerShard {
	return s.shards[xxhash.Sum64String(key)%breakerShardCount]
}

// For returns the breaker for the pair, creating it on first use. A breaker
// for an instance the registry no longer holds is not kept, so a request
// racing a deregistration cannot resurrect it.
func (s *BreakerSet) For(service, instanceID string) *CircuitBreaker {
	key := breakerKey(service, instanceID)
	sh := s.shard(key)

	sh.mu.RLock()
	cb, ok := sh.breakers[key]
	sh.mu.RUnlock()
	if ok {
		return cb
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if cb, ok = sh.breakers[key]; ok {
		return cb
	}
	cb = NewCircuitBreaker(service, instanceID, s.settings, s.transition)
	cb.now = s.now
	if s.registered(service, instanceID) {
		sh.breakers[key] = cb
	}
	return cb
}

// registered reports whether the registry still holds the instance. The
// check runs under the shard lock, so a removal committed before it is seen
// here and one committed after it finds the stored breaker.
func (s *BreakerSet) registered(service, instanceID string) bool {
	if s.registry == nil {
		return true
	}
	inst, ok := s.registry.Instance(instanceID)
	return ok && inst.ServiceName == service
}

// Get returns the breaker for the pair if one exists.
func (s *BreakerSet) Get(service, instanceID string) (*CircuitBreaker, bool) {
	key := breakerKey(service, instanceID)
	sh := s.shard(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	cb, ok := sh.breakers[key]
	return cb, ok
}

// Remove discards the breaker for the pair. Unknown pairs are ignored.
func (s *BreakerSet) Remove(service, instanceID string) {
	key := breakerKey(service, instanceID)
	sh := s.shard(key)
	sh.mu.Lock()
	_, ok := sh.breakers[key]
	delete(sh.breakers, key)
	sh.mu.Unlock()

	if ok {
		s.logger.Debugw("msg", "breaker discarded", "target_service", service, "instance_id", instanceID)
	}
}

// Len returns the number of live breakers.
func (s *BreakerSet) Len() int {
	n := 0
	for _, sh := range s.shards {
		sh.mu.RLock()
		n += len(sh.breakers)
		sh.mu.RUnlock()
	}
	return n
}

// Snapshot returns stats for every breaker ordered by service then instance.
func (s *BreakerSet) Snapshot() []BreakerStats {
	var out []BreakerStats
	for _, sh := range s.shards {
		sh.mu.RLock()
		for _, cb := range sh.breakers {
			out = append(out, cb.Stats())
		}
		sh.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Service != out[j].Service {
			return out[i].Service < out[j].Service
		}
		return out[i].InstanceID < out[j].InstanceID
	})
	return out
}

func (s *BreakerSet) transition(cb *CircuitBreaker, from, to BreakerState, openUntil time.Time) {
	kvs := []interface{}{
		"target_service", cb.Service(),
		"instance_id", cb.InstanceID(),
		"from", from.String(),
		"to", to.String(),
	}
	if to == StateOpen {
		kvs = append(kvs, "open_until", openUntil)
	}
	s.logger.Breaker("circuit breaker state changed", kvs...)

	obs := s.observers.Load()
	if obs == nil {
		return
	}
	t := model.CircuitTransition{
		Service:    cb.Service(),
		InstanceID: cb.InstanceID(),
		From:       from.String(),
		To:         to.String(),
		At:         s.now(),
		OpenUntil:  openUntil,
	}
	for _, fn := range *obs {
		fn(t)
	}
}
