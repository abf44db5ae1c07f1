package biz

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"RouteLane/internal/conf"
	"RouteLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/require"
)

var testLogger = log.NewStdLogger(io.Discard)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(t *testing.T) *ServiceRegistry {
	t.Helper()
	return NewServiceRegistry(&conf.Registry{UnhealthyThreshold: 3, DefaultTTL: 30 * time.Second}, testLogger)
}

func mustRegister(t *testing.T, r *ServiceRegistry, service, id string, port int) model.ServiceInstance {
	t.Helper()
	inst, err := r.Register(model.ServiceInstance{ID: id, ServiceName: service, Host: "10.0.0.1", Port: port})
	require.NoError(t, err)
	return inst
}

func ids(instances []model.ServiceInstance) []string {
	out := make([]string, 0, len(instances))
	for _, inst := range instances {
		out = append(out, inst.ID)
	}
	return out
}

// transportFunc adapts a function to Transport.
type transportFunc func(ctx context.Context, inst model.ServiceInstance, req *model.Request) (*model.Response, error)

func (f transportFunc) Call(ctx context.Context, inst model.ServiceInstance, req *model.Request) (*model.Response, error) {
	return f(ctx, inst, req)
}

// checkerFunc adapts a function to HealthChecker.
type checkerFunc func(ctx context.Context, inst model.ServiceInstance) error

func (f checkerFunc) Check(ctx context.Context, inst model.ServiceInstance) error {
	return f(ctx, inst)
}

func okResponse(body string) *model.Response {
	return &model.Response{StatusCode: 200, Body: []byte(body)}
}
