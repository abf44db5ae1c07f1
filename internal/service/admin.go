package service

import (
	"context"
	"errors"
	"time"

	"RouteLane/internal/biz"
	"RouteLane/internal/model"
	"RouteLane/pkg/metadata"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// RegisterInstanceRequest is the body of POST /admin/instances.
type RegisterInstanceRequest struct {
	ID       string            `json:"id"`
	Service  string            `json:"service"`
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	Metadata map[string]string `json:"metadata"`
	// TTLSeconds overrides registry.default_ttl; -1 disables expiry.
	TTLSeconds int `json:"ttl_seconds"`
	// Announce also publishes the instance to the discovery store.
	Announce bool `json:"announce"`
}

// InstanceReply wraps one instance.
type InstanceReply struct {
	Instance model.ServiceInstance `json:"instance"`
}

// InstancesReply lists instances of a service.
type InstancesReply struct {
	Service   string                  `json:"service"`
	Instances []model.ServiceInstance `json:"instances"`
}

// ServiceSummary counts the instances of one service.
type ServiceSummary struct {
	Name      string `json:"name"`
	Instances int    `json:"instances"`
	Healthy   int    `json:"healthy"`
}

// ServicesReply lists known services.
type ServicesReply struct {
	Services []ServiceSummary `json:"services"`
}

// ProbeReply carries on-demand probe results.
type ProbeReply struct {
	Service string              `json:"service"`
	Results []model.ProbeResult `json:"results"`
}

// BreakersReply lists breaker states.
type BreakersReply struct {
	Breakers []biz.BreakerStats `json:"breakers"`
}

// StatusReply is a generic acknowledgement.
type StatusReply struct {
	Status string `json:"status"`
}

// AdminService implements the administrative API over the registry, the
// probe and the breaker set.
type AdminService struct {
	registry  *biz.ServiceRegistry
	probe     *biz.HealthProbe
	breakers  *biz.BreakerSet
	discovery *biz.DiscoveryUsecase
	logger    *log.Helper
}

// NewAdminService creates an AdminService.
func NewAdminService(
	registry *biz.ServiceRegistry,
	probe *biz.HealthProbe,
	breakers *biz.BreakerSet,
	discovery *biz.DiscoveryUsecase,
	logger log.Logger,
) *AdminService {
	return &AdminService{
		registry:  registry,
		probe:     probe,
		breakers:  breakers,
		discovery: discovery,
		logger:    log.NewHelper(log.With(logger, "module", "service/admin")),
	}
}

// RegisterInstance registers or updates an instance.
func (s *AdminService) RegisterInstance(ctx context.Context, req *RegisterInstanceRequest) (*InstanceReply, error) {
	s.logger.Infow("msg", "RegisterInstance called", "target_service", req.Service, "host", req.Host, "port", req.Port)

	meta := metadata.Parse(req.Metadata)
	if err := meta.Validate(); err != nil {
		return nil, kerrors.BadRequest(ReasonInvalidArgument, err.Error())
	}
	if req.Announce && !s.discovery.Enabled() {
		return nil, kerrors.BadRequest(ReasonInvalidArgument, "discovery is disabled")
	}

	ttl := s.registry.DefaultTTL()
	switch {
	case req.TTLSeconds > 0:
		ttl = time.Duration(req.TTLSeconds) * time.Second
	case req.TTLSeconds < 0:
		ttl = 0
	}

	inst, err := s.registry.Register(model.ServiceInstance{
		ID:          req.ID,
		ServiceName: req.Service,
		Host:        req.Host,
		Port:        req.Port,
		Metadata:    meta.Map(),
		TTL:         ttl,
	})
	if err != nil {
		if errors.Is(err, biz.ErrInvalidInstance) {
			return nil, kerrors.BadRequest(ReasonInvalidArgument, err.Error())
		}
		return nil, err
	}

	if req.Announce {
		if err := s.discovery.Announce(ctx, inst); err != nil {
			s.logger.Warnw("msg", "failed to announce instance", "instance_id", inst.ID, "error", err)
		}
	}

	return &InstanceReply{Instance: inst}, nil
}

// Heartbeat renews an instance's lease.
func (s *AdminService) Heartbeat(ctx context.Context, id string) (*InstanceReply, error) {
	if err := s.registry.Heartbeat(id); err != nil {
		if errors.Is(err, biz.ErrInstanceNotFound) {
			return nil, kerrors.NotFound(ReasonNotFound, err.Error())
		}
		return nil, err
	}
	inst, ok := s.registry.Instance(id)
	if !ok {
		return nil, kerrors.NotFound(ReasonNotFound, "instance removed")
	}
	return &InstanceReply{Instance: inst}, nil
}

// DeregisterInstance removes an instance and withdraws its announcement.
func (s *AdminService) DeregisterInstance(ctx context.Context, id string) (*StatusReply, error) {
	s.logger.Infow("msg", "DeregisterInstance called", "instance_id", id)

	inst, ok := s.registry.Instance(id)
	if !ok || !s.registry.Deregister(id) {
		return nil, kerrors.NotFound(ReasonNotFound, "instance not found: "+id)
	}

	if s.discovery.Enabled() {
		if err := s.discovery.Withdraw(ctx, inst); err != nil {
			s.logger.Warnw("msg", "failed to withdraw instance", "instance_id", id, "error", err)
		}
	}
	return &StatusReply{Status: "deregistered"}, nil
}

// ListServices summarizes every known service.
func (s *AdminService) ListServices(_ context.Context) (*ServicesReply, error) {
	names := s.registry.Services()
	out := &ServicesReply{Services: make([]ServiceSummary, 0, len(names))}
	for _, name := range names {
		out.Services = append(out.Services, ServiceSummary{
			Name:      name,
			Instances: len(s.registry.Instances(name)),
			Healthy:   len(s.registry.HealthyInstances(name)),
		})
	}
	return out, nil
}

// ListInstances lists every instance of service.
func (s *AdminService) ListInstances(_ context.Context, service string) (*InstancesReply, error) {
	instances := s.registry.Instances(service)
	if len(instances) == 0 {
		return nil, kerrors.NotFound(ReasonNotFound, "unknown service: "+service)
	}
	return &InstancesReply{Service: service, Instances: instances}, nil
}

// ProbeService probes every instance of service immediately.
func (s *AdminService) ProbeService(ctx context.Context, service string) (*ProbeReply, error) {
	results, err := s.probe.ProbeService(ctx, service)
	if err != nil {
		if errors.Is(err, biz.ErrUnknownService) {
			return nil, kerrors.NotFound(ReasonNotFound, "unknown service: "+service)
		}
		return nil, err
	}
	return &ProbeReply{Service: service, Results: results}, nil
}

// ListBreakers returns the state of every breaker.
func (s *AdminService) ListBreakers(_ context.Context) (*BreakersReply, error) {
	return &BreakersReply{Breakers: s.breakers.Snapshot()}, nil
}
