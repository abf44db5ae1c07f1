// Package biz contains the gateway core: the service registry, health
// probing, circuit breakers, load balancing and request routing.
package biz

import (
	"RouteLane/internal/data"

	"github.com/google/wire"
)

// ProviderSet is biz providers.
var ProviderSet = wire.NewSet(
	NewServiceRegistry,
	NewBreakerSet,
	NewLoadBalancer,
	NewRouteResolver,
	NewHealthProbe,
	NewRequestRouter,
	NewDiscoveryUsecase,
	NewAuditRecorder,
	// Import data layer providers
	data.NewHTTPTransport,
	data.NewHealthChecker,
	data.NewRedisDiscovery,
	data.NewAuditLogger,
	// Bind data layer implementations to biz layer interfaces
	wire.Bind(new(Transport), new(*data.HTTPTransport)),
	wire.Bind(new(HealthChecker), new(*data.DispatchChecker)),
	wire.Bind(new(DiscoveryRepo), new(*data.RedisDiscovery)),
	wire.Bind(new(AuditLogger), new(*data.AuditLoggerImpl)),
)
