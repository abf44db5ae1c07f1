package biz

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"RouteLane/internal/conf"
	"RouteLane/internal/model"
	zlog "RouteLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"golang.org/x/sync/errgroup"
)

// HealthChecker performs one liveness check. It must honor ctx's deadline.
type HealthChecker interface {
	Check(ctx context.Context, inst model.ServiceInstance) error
}

// probeLoop is the handle of one per-instance probing goroutine.
type probeLoop struct {
	cancel context.CancelFunc
}

// HealthProbe probes every registered instance on its own schedule and
// reports the outcome to the registry. It implements the kratos
// transport.Server lifecycle so it starts and stops with the app.
type HealthProbe struct {
	registry *ServiceRegistry
	checker  HealthChecker
	interval time.Duration
	timeout  time.Duration
	jitter   time.Duration
	logger   *zlog.LogHelper

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	loops   map[string]*probeLoop
	running bool
	wg      sync.WaitGroup
}

// NewHealthProbe creates a stopped probe scheduler and subscribes it to
// registry changes.
func NewHealthProbe(c *conf.Probe, registry *ServiceRegistry, checker HealthChecker, logger log.Logger) *HealthProbe {
	p := &HealthProbe{
		registry: registry,
		checker:  checker,
		interval: 5 * time.Second,
		timeout:  time.Second,
		loops:    map[string]*probeLoop{},
		logger:   zlog.NewLogHelper(log.With(logger, "module", "probe")),
	}
	if c != nil {
		if c.Interval > 0 {
			p.interval = c.Interval
		}
		if c.Timeout > 0 {
			p.timeout = c.Timeout
		}
		p.jitter = c.Jitter
	}

	registry.Subscribe(p.onRegistryEvent)
	return p
}

// Run checks inst once, bounded by the probe timeout, and records the result
// in the registry. Check errors, including timeouts, become an unhealthy
// mark; they are never returned.
func (p *HealthProbe) Run(ctx context.Context, inst model.ServiceInstance) bool {
	res := p.check(ctx, inst)
	if ctx.Err() != nil {
		// Shutting down; the outcome says nothing about the instance.
		return res.Healthy
	}
	p.registry.MarkHealth(inst.ID, res.Healthy)
	return res.Healthy
}

func (p *HealthProbe) check(ctx context.Context, inst model.ServiceInstance) (res model.ProbeResult) {
	res = model.ProbeResult{InstanceID: inst.ID, Address: inst.Address()}
	start := time.Now()

	checkCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			res.Healthy = false
			res.Error = "health checker panicked"
		}
		res.Duration = time.Since(start)
		if !res.Healthy {
			p.logger.Probe("health probe failed",
				"target_service", inst.ServiceName,
				"instance_id", inst.ID,
				"address", res.Address,
				"error", res.Error)
		}
	}()

	err := p.checker.Check(checkCtx, inst)
	if err == nil && checkCtx.Err() != nil {
		err = checkCtx.Err()
	}
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Healthy = true
	return res
}

// ProbeService probes every instance of service concurrently, records each
// outcome, and returns the results in registration order.
func (p *HealthProbe) ProbeService(ctx context.Context, service string) ([]model.ProbeResult, error) {
	instances := p.registry.Instances(service)
	if len(instances) == 0 {
		return nil, ErrUnknownService
	}

	results := make([]model.ProbeResult, len(instances))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(16)
	for i, inst := range instances {
		g.Go(func() error {
			results[i] = p.check(gctx, inst)
			if gctx.Err() == nil {
				p.registry.MarkHealth(inst.ID, results[i].Healthy)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Start launches a probe loop for every registered instance. Instances
// registered later get their own loop as they arrive.
func (p *HealthProbe) Start(context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("health probe already started")
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.running = true
	p.mu.Unlock()

	instances := p.registry.All()
	for _, inst := range instances {
		p.startLoop(inst.ID)
	}
	p.logger.Startup("health probing started",
		"instances", len(instances),
		"interval", p.interval.String(),
		"timeout", p.timeout.String())
	return nil
}

// Stop cancels every probe loop and waits for them to exit or ctx to end.
func (p *HealthProbe) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.cancel()
	p.loops = map[string]*probeLoop{}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active returns the number of running probe loops.
func (p *HealthProbe) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.loops)
}

func (p *HealthProbe) onRegistryEvent(ev RegistryEvent) {
	switch ev.Type {
	case EventRegistered:
		p.startLoop(ev.Instance.ID)
	case EventDeregistered, EventReaped:
		p.stopLoop(ev.Instance.ID)
	}
}

func (p *HealthProbe) startLoop(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	if _, ok := p.loops[id]; ok {
		return
	}

	ctx, cancel := context.WithCancel(p.ctx)
	l := &probeLoop{cancel: cancel}
	p.loops[id] = l
	p.wg.Add(1)
	go p.loop(ctx, id, l)
}

func (p *HealthProbe) stopLoop(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if l, ok := p.loops[id]; ok {
		l.cancel()
		delete(p.loops, id)
	}
}

func (p *HealthProbe) loop(ctx context.Context, id string, self *probeLoop) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		if p.loops[id] == self {
			delete(p.loops, id)
		}
		p.mu.Unlock()
		self.cancel()
	}()

	timer := time.NewTimer(p.jitterDelay())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		inst, ok := p.registry.Instance(id)
		if !ok {
			return
		}
		p.Run(ctx, inst)
		timer.Reset(p.interval + p.jitterDelay())
	}
}

func (p *HealthProbe) jitterDelay() time.Duration {
	if p.jitter <= 0 {
		return 0
	}
	return rand.N(p.jitter)
}
