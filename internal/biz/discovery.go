package biz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"RouteLane/internal/conf"
	"RouteLane/internal/model"
	zlog "RouteLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// ErrDiscoveryDisabled is returned when discovery is turned off or its store
// is unavailable.
var ErrDiscoveryDisabled = errors.New("discovery disabled")

// DiscoveryRepo is the shared store instances announce themselves in.
type DiscoveryRepo interface {
	// Available reports whether the store is configured.
	Available() bool
	// Announce publishes inst with a heartbeat that expires after ttl.
	Announce(ctx context.Context, inst model.ServiceInstance, ttl time.Duration) error
	// Withdraw removes an announcement.
	Withdraw(ctx context.Context, service, id string) error
	// ListLive returns announced instances whose heartbeat has not expired.
	ListLive(ctx context.Context) ([]model.ServiceInstance, error)
}

// SyncResult summarizes one discovery sync.
type SyncResult struct {
	Registered   int
	Renewed      int
	Deregistered int
}

// DiscoveryUsecase mirrors announcements from the shared store into the
// local registry.
type DiscoveryUsecase struct {
	repo     DiscoveryRepo
	registry *ServiceRegistry
	enabled  bool
	interval time.Duration

	mu     sync.Mutex
	synced map[string]string // instance id -> service
	logger *zlog.LogHelper
}

// NewDiscoveryUsecase creates the usecase.
func NewDiscoveryUsecase(c *conf.Discovery, repo DiscoveryRepo, registry *ServiceRegistry, logger log.Logger) *DiscoveryUsecase {
	uc := &DiscoveryUsecase{
		repo:     repo,
		registry: registry,
		interval: 5 * time.Second,
		synced:   map[string]string{},
		logger:   zlog.NewLogHelper(log.With(logger, "module", "discovery")),
	}
	if c != nil {
		uc.enabled = c.Enabled
		if c.SyncInterval > 0 {
			uc.interval = c.SyncInterval
		}
	}
	return uc
}

// Enabled reports whether syncing will do anything.
func (uc *DiscoveryUsecase) Enabled() bool {
	return uc.enabled && uc.repo != nil && uc.repo.Available()
}

// Interval is the configured sync period.
func (uc *DiscoveryUsecase) Interval() time.Duration {
	return uc.interval
}

// Announce publishes inst to the shared store so peer gateways pick it up.
func (uc *DiscoveryUsecase) Announce(ctx context.Context, inst model.ServiceInstance) error {
	if !uc.Enabled() {
		return ErrDiscoveryDisabled
	}
	if inst.ID == "" {
		inst.ID = InstanceID(inst.ServiceName, inst.Host, inst.Port)
	}
	ttl := inst.TTL
	if ttl <= 0 {
		ttl = uc.registry.DefaultTTL()
	}
	if ttl <= 0 {
		ttl = 3 * uc.interval
	}
	if err := uc.repo.Announce(ctx, inst, ttl); err != nil {
		return fmt.Errorf("failed to announce instance %s: %w", inst.ID, err)
	}
	return nil
}

// Withdraw removes inst's announcement.
func (uc *DiscoveryUsecase) Withdraw(ctx context.Context, inst model.ServiceInstance) error {
	if !uc.Enabled() {
		return ErrDiscoveryDisabled
	}
	if err := uc.repo.Withdraw(ctx, inst.ServiceName, inst.ID); err != nil {
		return fmt.Errorf("failed to withdraw instance %s: %w", inst.ID, err)
	}
	return nil
}

// Sync registers newly announced instances, renews the lease of known ones,
// and deregisters instances this usecase added that are no longer announced.
// Instances registered by other means are never removed here.
func (uc *DiscoveryUsecase) Sync(ctx context.Context) (SyncResult, error) {
	var res SyncResult
	if !uc.Enabled() {
		return res, ErrDiscoveryDisabled
	}

	live, err := uc.repo.ListLive(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list announced instances: %w", err)
	}

	uc.mu.Lock()
	defer uc.mu.Unlock()

	seen := make(map[string]bool, len(live))
	for _, inst := range live {
		if inst.ID == "" {
			inst.ID = InstanceID(inst.ServiceName, inst.Host, inst.Port)
		}
		seen[inst.ID] = true

		if _, ok := uc.registry.Instance(inst.ID); ok {
			if _, owned := uc.synced[inst.ID]; !owned {
				// Seeded or registered through the admin API; not ours to renew or remove.
				continue
			}
			if err := uc.registry.Heartbeat(inst.ID); err == nil {
				res.Renewed++
				continue
			}
		}

		if inst.TTL <= 0 {
			inst.TTL = uc.registry.DefaultTTL()
		}
		stored, err := uc.registry.Register(inst)
		if err != nil {
			uc.logger.Warnw("msg", "skipping invalid announcement", "instance_id", inst.ID, "error", err)
			continue
		}
		uc.synced[stored.ID] = stored.ServiceName
		res.Registered++
	}

	for id := range uc.synced {
		if seen[id] {
			continue
		}
		delete(uc.synced, id)
		if uc.registry.Deregister(id) {
			res.Deregistered++
		}
	}

	if res.Registered+res.Deregistered > 0 {
		uc.logger.Discovery("discovery sync applied changes",
			"registered", res.Registered,
			"renewed", res.Renewed,
			"deregistered", res.Deregistered)
	}
	return res, nil
}
