package server

import (
	"RouteLane/internal/biz"
	"RouteLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// NewGRPCServer new a gRPC server exposing grpc.health.v1. The overall
// status ("") is always SERVING; each routed service reports SERVING while
// it has at least one healthy instance.
func NewGRPCServer(c *conf.Server, registry *biz.ServiceRegistry, logger log.Logger) *grpc.Server {
	var opts = []grpc.ServerOption{
		grpc.Middleware(
			recovery.Recovery(),
		),
		grpc.CustomHealth(),
	}
	if c != nil && c.GRPC != nil {
		if c.GRPC.Network != "" {
			opts = append(opts, grpc.Network(c.GRPC.Network))
		}
		if c.GRPC.Addr != "" {
			opts = append(opts, grpc.Address(c.GRPC.Addr))
		}
		if c.GRPC.Timeout > 0 {
			opts = append(opts, grpc.Timeout(c.GRPC.Timeout))
		}
	}
	srv := grpc.NewServer(opts...)

	hs := NewHealthReporter(registry, logger)
	healthpb.RegisterHealthServer(srv, hs)

	return srv
}

// NewHealthReporter returns a health server whose per-service status
// follows the registry.
func NewHealthReporter(registry *biz.ServiceRegistry, logger log.Logger) *health.Server {
	helper := log.NewHelper(log.With(logger, "module", "grpc_health"))
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	update := func(service string) {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if len(registry.HealthyInstances(service)) > 0 {
			status = healthpb.HealthCheckResponse_SERVING
		}
		hs.SetServingStatus(service, status)
		helper.Debugf("service %s health status %s", service, status)
	}

	for _, service := range registry.Services() {
		update(service)
	}
	registry.Subscribe(func(ev biz.RegistryEvent) {
		update(ev.Instance.ServiceName)
	})
	return hs
}
