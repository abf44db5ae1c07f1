package service

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"RouteLane/internal/biz"
	"RouteLane/internal/conf"
	"RouteLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/require"
)

var testLogger = log.NewStdLogger(io.Discard)

type transportFunc func(ctx context.Context, inst model.ServiceInstance, req *model.Request) (*model.Response, error)

func (f transportFunc) Call(ctx context.Context, inst model.ServiceInstance, req *model.Request) (*model.Response, error) {
	return f(ctx, inst, req)
}

type checkerFunc func(ctx context.Context, inst model.ServiceInstance) error

func (f checkerFunc) Check(ctx context.Context, inst model.ServiceInstance) error {
	return f(ctx, inst)
}

type fixture struct {
	registry *biz.ServiceRegistry
	breakers *biz.BreakerSet
	probe    *biz.HealthProbe
	gateway  *GatewayService
	admin    *AdminService
}

func newFixture(t *testing.T, transport biz.Transport, checker biz.HealthChecker) *fixture {
	t.Helper()

	registry := biz.NewServiceRegistry(&conf.Registry{UnhealthyThreshold: 1, DefaultTTL: time.Minute}, testLogger)
	breakers := biz.NewBreakerSet(&conf.Breaker{FailureThreshold: 2, OpenDuration: time.Minute}, registry, testLogger)
	balancer, err := biz.NewLoadBalancer(&conf.Balancer{Strategy: conf.StrategyRoundRobin})
	require.NoError(t, err)
	routerConf := &conf.Router{CallDeadline: time.Second, RetryEnabled: true, MaxRequestBytes: 64}
	resolver, err := biz.NewRouteResolver([]*conf.Route{
		{Prefix: "/orders", Service: "orders", StripPrefix: true},
	}, routerConf)
	require.NoError(t, err)

	router := biz.NewRequestRouter(routerConf, resolver, registry, balancer, breakers, transport, testLogger)
	probe := biz.NewHealthProbe(&conf.Probe{Interval: time.Hour, Timeout: time.Second}, registry, checker, testLogger)
	discovery := biz.NewDiscoveryUsecase(&conf.Discovery{Enabled: false}, nil, registry, testLogger)

	return &fixture{
		registry: registry,
		breakers: breakers,
		probe:    probe,
		gateway:  NewGatewayService(router, routerConf, testLogger),
		admin:    NewAdminService(registry, probe, breakers, discovery, testLogger),
	}
}

func (f *fixture) register(t *testing.T, id string, port int) {
	t.Helper()
	_, err := f.registry.Register(model.ServiceInstance{ID: id, ServiceName: "orders", Host: "10.0.0.1", Port: port})
	require.NoError(t, err)
}

func okTransport(body string) biz.Transport {
	return transportFunc(func(_ context.Context, inst model.ServiceInstance, req *model.Request) (*model.Response, error) {
		return &model.Response{
			StatusCode: http.StatusOK,
			Header:     http.Header{"X-Instance": {inst.ID}, "X-Path": {req.Path}},
			Body:       []byte(body),
		}, nil
	})
}

func healthyChecker() biz.HealthChecker {
	return checkerFunc(func(context.Context, model.ServiceInstance) error { return nil })
}
