package server

import (
	"context"
	"testing"
	"time"

	"RouteLane/internal/biz"
	"RouteLane/internal/conf"
	"RouteLane/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestHealthReporter(t *testing.T) {
	registry := biz.NewServiceRegistry(&conf.Registry{UnhealthyThreshold: 1}, testLogger)
	_, err := registry.Register(model.ServiceInstance{ID: "seed", ServiceName: "billing", Host: "10.0.0.2", Port: 80})
	require.NoError(t, err)

	hs := NewHealthReporter(registry, testLogger)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	status := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		t.Helper()
		res, err := hs.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return res.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status(""))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status("billing"), "services known at startup are reported")

	_, err = registry.Register(model.ServiceInstance{ID: "a", ServiceName: "orders", Host: "10.0.0.1", Port: 8081})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status("orders"))

	registry.MarkHealth("a", false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status("orders"))

	registry.MarkHealth("a", true)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, status("orders"))

	registry.Deregister("a")
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, status("orders"))
}

func TestNewGRPCServer(t *testing.T) {
	registry := biz.NewServiceRegistry(nil, testLogger)
	srv := NewGRPCServer(&conf.Server{GRPC: &conf.GRPCServer{Network: "tcp", Addr: "127.0.0.1:0", Timeout: time.Second}}, registry, testLogger)
	require.NotNil(t, srv)
	assert.Contains(t, srv.GetServiceInfo(), "grpc.health.v1.Health")
}
