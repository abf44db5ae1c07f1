package biz

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"RouteLane/internal/conf"
	"RouteLane/internal/model"
)

// LoadBalancer picks one instance per request from a healthy snapshot.
type LoadBalancer interface {
	// Select returns one of candidates, or ErrNoHealthyInstance when there
	// are none. candidates must be in registration order.
	Select(service string, candidates []model.ServiceInstance) (model.ServiceInstance, error)
	// Begin marks a request in flight to the instance; done ends it.
	Begin(instanceID string) (done func())
	// Strategy returns the configured strategy name.
	Strategy() string
}

// NewLoadBalancer builds the balancer for balancer.strategy.
func NewLoadBalancer(c *conf.Balancer) (LoadBalancer, error) {
	strategy := conf.StrategyRoundRobin
	if c != nil && c.Strategy != "" {
		strategy = c.Strategy
	}

	switch strategy {
	case conf.StrategyRoundRobin:
		return &RoundRobinBalancer{}, nil
	case conf.StrategyLeastConnections:
		return &LeastConnectionsBalancer{}, nil
	case conf.StrategyRandom:
		return &RandomBalancer{}, nil
	default:
		return nil, fmt.Errorf("unknown load balancer strategy %q", strategy)
	}
}

// activeCounter tracks in-flight requests per instance.
type activeCounter struct {
	counts sync.Map // instance id -> *atomic.Int64
}

func (a *activeCounter) counter(id string) *atomic.Int64 {
	if v, ok := a.counts.Load(id); ok {
		return v.(*atomic.Int64)
	}
	v, _ := a.counts.LoadOrStore(id, new(atomic.Int64))
	return v.(*atomic.Int64)
}

// Begin increments the instance's active count; the returned func undoes it
// once.
func (a *activeCounter) Begin(instanceID string) func() {
	c := a.counter(instanceID)
	c.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { c.Add(-1) })
	}
}

// Active returns the in-flight request count of the instance.
func (a *activeCounter) Active(instanceID string) int64 {
	if v, ok := a.counts.Load(instanceID); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}

// RoundRobinBalancer rotates a per-service cursor over the candidates.
type RoundRobinBalancer struct {
	activeCounter
	cursors sync.Map // service -> *atomic.Uint64
}

func (b *RoundRobinBalancer) Strategy() string { return conf.StrategyRoundRobin }

// Select returns candidates[cursor % len] and advances the cursor.
func (b *RoundRobinBalancer) Select(service string, candidates []model.ServiceInstance) (model.ServiceInstance, error) {
	if len(candidates) == 0 {
		return model.ServiceInstance{}, ErrNoHealthyInstance
	}
	v, ok := b.cursors.Load(service)
	if !ok {
		v, _ = b.cursors.LoadOrStore(service, new(atomic.Uint64))
	}
	n := v.(*atomic.Uint64).Add(1) - 1
	return candidates[n%uint64(len(candidates))], nil
}

// LeastConnectionsBalancer picks the candidate with the fewest in-flight
// requests; ties go to the earliest registered.
type LeastConnectionsBalancer struct {
	activeCounter
}

func (b *LeastConnectionsBalancer) Strategy() string { return conf.StrategyLeastConnections }

// Select scans candidates once.
func (b *LeastConnectionsBalancer) Select(_ string, candidates []model.ServiceInstance) (model.ServiceInstance, error) {
	if len(candidates) == 0 {
		return model.ServiceInstance{}, ErrNoHealthyInstance
	}
	best := 0
	bestActive := b.Active(candidates[0].ID)
	for i := 1; i < len(candidates); i++ {
		if a := b.Active(candidates[i].ID); a < bestActive {
			best, bestActive = i, a
		}
	}
	return candidates[best], nil
}

// RandomBalancer picks uniformly.
type RandomBalancer struct {
	activeCounter
}

func (b *RandomBalancer) Strategy() string { return conf.StrategyRandom }

// Select returns a uniformly random candidate.
func (b *RandomBalancer) Select(_ string, candidates []model.ServiceInstance) (model.ServiceInstance, error) {
	if len(candidates) == 0 {
		return model.ServiceInstance{}, ErrNoHealthyInstance
	}
	return candidates[rand.IntN(len(candidates))], nil
}
