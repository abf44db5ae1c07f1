package biz

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"syscall"
	"testing"
	"time"

	"RouteLane/internal/conf"
	"RouteLane/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockTransport is a mock implementation of Transport for testing.
type MockTransport struct {
	mock.Mock
}

func (m *MockTransport) Call(ctx context.Context, inst model.ServiceInstance, req *model.Request) (*model.Response, error) {
	args := m.Called(ctx, inst.ID, req)
	resp, _ := args.Get(0).(*model.Response)
	return resp, args.Error(1)
}

// timeoutError is a net.Error reporting a timeout.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

func refused() error {
	return &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
}

type routerFixture struct {
	registry *ServiceRegistry
	breakers *BreakerSet
	router   *RequestRouter
	clock    *fakeClock
}

func newRouterFixture(t *testing.T, transport Transport, breaker *conf.Breaker, routerConf *conf.Router) *routerFixture {
	t.Helper()
	clock := newFakeClock()
	registry := newTestRegistry(t)
	if breaker == nil {
		breaker = &conf.Breaker{FailureThreshold: 5, OpenDuration: 10 * time.Second}
	}
	breakers := NewBreakerSet(breaker, registry, testLogger)
	breakers.now = clock.Now

	if routerConf == nil {
		routerConf = &conf.Router{CallDeadline: time.Second, RetryEnabled: true}
	}
	resolver, err := NewRouteResolver([]*conf.Route{
		{Prefix: "/orders", Service: "orders", StripPrefix: true},
		{Prefix: "/users", Service: "users"},
	}, routerConf)
	require.NoError(t, err)

	lb, err := NewLoadBalancer(&conf.Balancer{Strategy: conf.StrategyRoundRobin})
	require.NoError(t, err)

	return &routerFixture{
		registry: registry,
		breakers: breakers,
		router:   NewRequestRouter(routerConf, resolver, registry, lb, breakers, transport, testLogger),
		clock:    clock,
	}
}

func getReq(path string) *model.Request {
	return &model.Request{Method: http.MethodGet, Path: path, Header: http.Header{}}
}

func requireKind(t *testing.T, err error, kind ErrorKind) *RouterError {
	t.Helper()
	require.Error(t, err)
	var re *RouterError
	require.True(t, errors.As(err, &re), "expected *RouterError, got %T: %v", err, err)
	require.Equal(t, kind, re.Kind, "error: %v", err)
	return re
}

func TestRequestRouter_Success(t *testing.T) {
	var gotPath string
	fx := newRouterFixture(t, transportFunc(func(_ context.Context, inst model.ServiceInstance, req *model.Request) (*model.Response, error) {
		gotPath = req.Path
		return okResponse("from " + inst.ID), nil
	}), nil, nil)
	mustRegister(t, fx.registry, "orders", "a", 8081)

	resp, err := fx.router.Handle(context.Background(), getReq("/orders/42"))
	require.NoError(t, err)
	assert.Equal(t, "from a", string(resp.Body))
	assert.Equal(t, "/42", gotPath, "prefix is stripped")
}

func TestRequestRouter_ExplicitService(t *testing.T) {
	mt := &MockTransport{}
	mt.On("Call", mock.Anything, "u1", mock.Anything).Return(okResponse("users"), nil)
	fx := newRouterFixture(t, mt, nil, nil)
	mustRegister(t, fx.registry, "users", "u1", 9001)

	req := getReq("/not-routed")
	req.Service = "users"
	resp, err := fx.router.Handle(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "users", string(resp.Body))
	mt.AssertExpectations(t)
}

func TestRequestRouter_NoRoute(t *testing.T) {
	mt := &MockTransport{}
	fx := newRouterFixture(t, mt, nil, nil)

	_, err := fx.router.Handle(context.Background(), getReq("/billing/1"))
	re := requireKind(t, err, KindServiceUnavailable)
	assert.ErrorIs(t, re, ErrRouteNotFound)
	mt.AssertNotCalled(t, "Call", mock.Anything, mock.Anything, mock.Anything)
}

func TestRequestRouter_NoHealthyInstance(t *testing.T) {
	mt := &MockTransport{}
	fx := newRouterFixture(t, mt, nil, nil)
	mustRegister(t, fx.registry, "orders", "a", 8081)
	for i := 0; i < 3; i++ {
		fx.registry.MarkHealth("a", false)
	}

	_, err := fx.router.Handle(context.Background(), getReq("/orders"))
	re := requireKind(t, err, KindServiceUnavailable)
	assert.ErrorIs(t, re, ErrNoHealthyInstance)
	assert.Equal(t, "orders", re.Service)
	assert.Empty(t, re.Attempted)
	assert.Zero(t, fx.breakers.Len(), "no breaker is touched")
	mt.AssertNotCalled(t, "Call", mock.Anything, mock.Anything, mock.Anything)
}

func TestRequestRouter_TimeoutRetriesOnDifferentInstance(t *testing.T) {
	mt := &MockTransport{}
	mt.On("Call", mock.Anything, "a", mock.Anything).Return(nil, timeoutError{}).Once()
	mt.On("Call", mock.Anything, "b", mock.Anything).Return(okResponse("b"), nil).Once()

	fx := newRouterFixture(t, mt, nil, nil)
	mustRegister(t, fx.registry, "orders", "a", 8081)
	mustRegister(t, fx.registry, "orders", "b", 8082)

	resp, err := fx.router.Handle(context.Background(), getReq("/orders"))
	require.NoError(t, err)
	assert.Equal(t, "b", string(resp.Body))
	mt.AssertExpectations(t)
	mt.AssertNumberOfCalls(t, "Call", 2)

	a, _ := fx.breakers.Get("orders", "a")
	b, _ := fx.breakers.Get("orders", "b")
	assert.Equal(t, uint64(1), a.Stats().Failures)
	assert.Equal(t, uint64(1), b.Stats().Successes, "the retry counts toward the new target's breaker")
}

func TestRequestRouter_TimeoutSingleInstanceNoRetry(t *testing.T) {
	mt := &MockTransport{}
	mt.On("Call", mock.Anything, "a", mock.Anything).Return(nil, timeoutError{}).Once()

	fx := newRouterFixture(t, mt, nil, nil)
	mustRegister(t, fx.registry, "orders", "a", 8081)

	_, err := fx.router.Handle(context.Background(), getReq("/orders"))
	re := requireKind(t, err, KindUpstreamTimeout)
	assert.Equal(t, "a", re.InstanceID)
	assert.Equal(t, []string{"a"}, re.Attempted)
	mt.AssertNumberOfCalls(t, "Call", 1)
}

func TestRequestRouter_RetryExhausted(t *testing.T) {
	mt := &MockTransport{}
	mt.On("Call", mock.Anything, "a", mock.Anything).Return(nil, refused()).Once()
	mt.On("Call", mock.Anything, "c", mock.Anything).Return(nil, timeoutError{}).Once()

	fx := newRouterFixture(t, mt, nil, nil)
	mustRegister(t, fx.registry, "orders", "a", 8081)
	mustRegister(t, fx.registry, "orders", "b", 8082)
	mustRegister(t, fx.registry, "orders", "c", 8083)

	// The cursor has advanced past b, so the fresh pick over [b c] is c.
	_, err := fx.router.Handle(context.Background(), getReq("/orders"))
	re := requireKind(t, err, KindRetryExhausted)
	assert.Equal(t, []string{"a", "c"}, re.Attempted)
	assert.Equal(t, "c", re.InstanceID)
	mt.AssertNumberOfCalls(t, "Call", 2)
}

func TestRequestRouter_RetryDisabled(t *testing.T) {
	mt := &MockTransport{}
	mt.On("Call", mock.Anything, "a", mock.Anything).Return(nil, timeoutError{}).Once()

	fx := newRouterFixture(t, mt, nil, &conf.Router{CallDeadline: time.Second, RetryEnabled: false})
	mustRegister(t, fx.registry, "orders", "a", 8081)
	mustRegister(t, fx.registry, "orders", "b", 8082)

	_, err := fx.router.Handle(context.Background(), getReq("/orders"))
	requireKind(t, err, KindUpstreamTimeout)
	mt.AssertNumberOfCalls(t, "Call", 1)
}

func TestRequestRouter_ClientErrorNeverRetried(t *testing.T) {
	notFound := &model.Response{StatusCode: 404, Body: []byte("missing")}
	mt := &MockTransport{}
	mt.On("Call", mock.Anything, "a", mock.Anything).Return(notFound, nil)

	fx := newRouterFixture(t, mt, &conf.Breaker{FailureThreshold: 1, OpenDuration: time.Second}, nil)
	mustRegister(t, fx.registry, "orders", "a", 8081)
	mustRegister(t, fx.registry, "orders", "b", 8082)

	req := getReq("/orders/x")
	req.Idempotent = true
	_, err := fx.router.Handle(context.Background(), req)
	re := requireKind(t, err, KindUpstreamError)
	require.NotNil(t, re.Response)
	assert.Equal(t, 404, re.Response.StatusCode)
	mt.AssertNumberOfCalls(t, "Call", 1)

	a, _ := fx.breakers.Get("orders", "a")
	assert.Equal(t, StateClosed, a.State(), "4xx is not a breaker failure")
}

func TestRequestRouter_ServerErrorRetriedOnlyWhenIdempotent(t *testing.T) {
	unavailable := &model.Response{StatusCode: 503, Body: []byte("busy")}

	t.Run("not idempotent", func(t *testing.T) {
		mt := &MockTransport{}
		mt.On("Call", mock.Anything, "a", mock.Anything).Return(unavailable, nil).Once()
		fx := newRouterFixture(t, mt, nil, nil)
		mustRegister(t, fx.registry, "orders", "a", 8081)
		mustRegister(t, fx.registry, "orders", "b", 8082)

		_, err := fx.router.Handle(context.Background(), getReq("/orders"))
		re := requireKind(t, err, KindUpstreamError)
		assert.Equal(t, 503, re.Response.StatusCode)
		mt.AssertNumberOfCalls(t, "Call", 1)
	})

	t.Run("idempotent", func(t *testing.T) {
		mt := &MockTransport{}
		mt.On("Call", mock.Anything, "a", mock.Anything).Return(unavailable, nil).Once()
		mt.On("Call", mock.Anything, "b", mock.Anything).Return(okResponse("b"), nil).Once()
		fx := newRouterFixture(t, mt, nil, nil)
		mustRegister(t, fx.registry, "orders", "a", 8081)
		mustRegister(t, fx.registry, "orders", "b", 8082)

		req := getReq("/orders")
		req.Idempotent = true
		resp, err := fx.router.Handle(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "b", string(resp.Body))

		a, _ := fx.breakers.Get("orders", "a")
		assert.Equal(t, uint64(1), a.Stats().Failures, "5xx counts against the breaker")
	})
}

func TestRequestRouter_RetryIntoOpenBreaker(t *testing.T) {
	mt := &MockTransport{}
	mt.On("Call", mock.Anything, "a", mock.Anything).Return(nil, refused())

	fx := newRouterFixture(t, mt, &conf.Breaker{FailureThreshold: 1, OpenDuration: time.Minute}, nil)
	mustRegister(t, fx.registry, "orders", "a", 8081)
	mustRegister(t, fx.registry, "orders", "b", 8082)

	// Open b's breaker directly.
	_ = fx.breakers.For("orders", "b").Execute(context.Background(), fail)
	require.Equal(t, StateOpen, fx.breakers.For("orders", "b").State())

	_, err := fx.router.Handle(context.Background(), getReq("/orders"))
	re := requireKind(t, err, KindServiceUnavailable)
	assert.ErrorIs(t, re, ErrCircuitOpen)
	assert.Equal(t, []string{"a", "b"}, re.Attempted)
	mt.AssertNotCalled(t, "Call", mock.Anything, "b", mock.Anything)
}

func TestRequestRouter_DeadlinePropagation(t *testing.T) {
	var remaining time.Duration
	transport := transportFunc(func(ctx context.Context, _ model.ServiceInstance, _ *model.Request) (*model.Response, error) {
		dl, ok := ctx.Deadline()
		require.True(t, ok)
		remaining = time.Until(dl)
		return okResponse("ok"), nil
	})
	fx := newRouterFixture(t, transport, nil, &conf.Router{CallDeadline: 2 * time.Second, RetryEnabled: true})
	mustRegister(t, fx.registry, "orders", "a", 8081)

	t.Run("router deadline", func(t *testing.T) {
		_, err := fx.router.Handle(context.Background(), getReq("/orders"))
		require.NoError(t, err)
		assert.InDelta(t, 2*time.Second, remaining, float64(200*time.Millisecond))
	})

	t.Run("header narrows", func(t *testing.T) {
		req := getReq("/orders")
		req.Header.Set(HeaderDeadline, "300")
		_, err := fx.router.Handle(context.Background(), req)
		require.NoError(t, err)
		assert.LessOrEqual(t, remaining, 300*time.Millisecond)
	})

	t.Run("caller deadline wins", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		_, err := fx.router.Handle(ctx, getReq("/orders"))
		require.NoError(t, err)
		assert.LessOrEqual(t, remaining, 100*time.Millisecond)
	})
}

// blockingTransport hangs on the listed instances until the attempt's
// context ends and answers 200 everywhere else.
type blockingTransport struct {
	mu    sync.Mutex
	hang  map[string]bool
	calls map[string]int
}

func newBlockingTransport(hang ...string) *blockingTransport {
	bt := &blockingTransport{hang: map[string]bool{}, calls: map[string]int{}}
	for _, id := range hang {
		bt.hang[id] = true
	}
	return bt
}

func (bt *blockingTransport) Call(ctx context.Context, inst model.ServiceInstance, _ *model.Request) (*model.Response, error) {
	bt.mu.Lock()
	bt.calls[inst.ID]++
	hang := bt.hang[inst.ID]
	bt.mu.Unlock()
	if hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return okResponse(inst.ID), nil
}

func (bt *blockingTransport) count(id string) int {
	bt.mu.Lock()
	defer bt.mu.Unlock()
	return bt.calls[id]
}

func TestRequestRouter_TimedOutAttemptIsRetried(t *testing.T) {
	bt := newBlockingTransport("a")
	fx := newRouterFixture(t, bt, nil, &conf.Router{CallDeadline: 50 * time.Millisecond, RetryEnabled: true})
	mustRegister(t, fx.registry, "orders", "a", 8081)
	mustRegister(t, fx.registry, "orders", "b", 8082)

	resp, err := fx.router.Handle(context.Background(), getReq("/orders"))
	require.NoError(t, err)
	assert.Equal(t, "b", string(resp.Body))
	assert.Equal(t, 1, bt.count("a"))
	assert.Equal(t, 1, bt.count("b"))
}

func TestRequestRouter_BothAttemptsTimeOut(t *testing.T) {
	bt := newBlockingTransport("a", "b")
	fx := newRouterFixture(t, bt, nil, &conf.Router{CallDeadline: 20 * time.Millisecond, RetryEnabled: true})
	mustRegister(t, fx.registry, "orders", "a", 8081)
	mustRegister(t, fx.registry, "orders", "b", 8082)

	_, err := fx.router.Handle(context.Background(), getReq("/orders"))
	re := requireKind(t, err, KindRetryExhausted)
	assert.Equal(t, []string{"a", "b"}, re.Attempted)
	assert.ErrorIs(t, re, context.DeadlineExceeded)
}

func TestRequestRouter_SpentBudgetSurfacesTimeout(t *testing.T) {
	bt := newBlockingTransport("a", "b")
	fx := newRouterFixture(t, bt, nil, &conf.Router{CallDeadline: time.Second, RetryEnabled: true})
	mustRegister(t, fx.registry, "orders", "a", 8081)
	mustRegister(t, fx.registry, "orders", "b", 8082)

	t.Run("header budget", func(t *testing.T) {
		req := getReq("/orders")
		req.Header.Set(HeaderDeadline, "30")
		_, err := fx.router.Handle(context.Background(), req)
		re := requireKind(t, err, KindUpstreamTimeout)
		assert.Len(t, re.Attempted, 1, "no budget is left for a retry")
		assert.Less(t, re.Elapsed, 500*time.Millisecond)
	})

	t.Run("caller deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
		defer cancel()
		_, err := fx.router.Handle(ctx, getReq("/orders"))
		re := requireKind(t, err, KindUpstreamTimeout)
		assert.Len(t, re.Attempted, 1, "no budget is left for a retry")
	})
}

// 3 instances of "orders"; A fails three probes and is never selected until
// one probe succeeds again.
func TestRequestRouter_ScenarioProbeExclusion(t *testing.T) {
	var mu sync.Mutex
	hits := map[string]int{}
	transport := transportFunc(func(_ context.Context, inst model.ServiceInstance, _ *model.Request) (*model.Response, error) {
		mu.Lock()
		hits[inst.ID]++
		mu.Unlock()
		return okResponse(inst.ID), nil
	})
	fx := newRouterFixture(t, transport, nil, nil)
	mustRegister(t, fx.registry, "orders", "A", 8081)
	mustRegister(t, fx.registry, "orders", "B", 8082)
	mustRegister(t, fx.registry, "orders", "C", 8083)

	checker := newScriptedChecker()
	probe := newTestProbe(fx.registry, checker, time.Hour)
	instA, _ := fx.registry.Instance("A")

	checker.setDown("A", true)
	for i := 0; i < 3; i++ {
		probe.Run(context.Background(), instA)
	}
	assert.Equal(t, []string{"B", "C"}, ids(fx.registry.HealthyInstances("orders")))

	for i := 0; i < 30; i++ {
		resp, err := fx.router.Handle(context.Background(), getReq("/orders"))
		require.NoError(t, err)
		assert.NotEqual(t, "A", string(resp.Body))
	}
	assert.Zero(t, hits["A"])

	checker.setDown("A", false)
	probe.Run(context.Background(), instA)
	assert.Equal(t, []string{"A", "B", "C"}, ids(fx.registry.HealthyInstances("orders")))

	for i := 0; i < 3; i++ {
		_, err := fx.router.Handle(context.Background(), getReq("/orders"))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, hits["A"])
}

// Single instance, threshold 2: two failures open the breaker, the third
// call fails fast, and after the open duration one probe goes through.
func TestRequestRouter_ScenarioBreakerOpensAndProbes(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	healthy := false
	transport := transportFunc(func(context.Context, model.ServiceInstance, *model.Request) (*model.Response, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if !healthy {
			return nil, errors.New("upstream exploded")
		}
		return okResponse("recovered"), nil
	})
	fx := newRouterFixture(t, transport, &conf.Breaker{FailureThreshold: 2, OpenDuration: 5 * time.Second}, nil)
	mustRegister(t, fx.registry, "orders", "only", 8081)

	for i := 0; i < 2; i++ {
		_, err := fx.router.Handle(context.Background(), getReq("/orders"))
		requireKind(t, err, KindUpstreamError)
	}
	require.Equal(t, 2, calls)

	_, err := fx.router.Handle(context.Background(), getReq("/orders"))
	re := requireKind(t, err, KindServiceUnavailable)
	assert.ErrorIs(t, re, ErrCircuitOpen)
	assert.Equal(t, 2, calls, "call was not attempted")

	fx.clock.Advance(5 * time.Second)
	mu.Lock()
	healthy = true
	mu.Unlock()

	resp, err := fx.router.Handle(context.Background(), getReq("/orders"))
	require.NoError(t, err)
	assert.Equal(t, "recovered", string(resp.Body))
	assert.Equal(t, 3, calls)
	cb, _ := fx.breakers.Get("orders", "only")
	assert.Equal(t, StateClosed, cb.State())
}

func TestRequestRouter_ConcurrentTraffic(t *testing.T) {
	transport := transportFunc(func(_ context.Context, inst model.ServiceInstance, _ *model.Request) (*model.Response, error) {
		return okResponse(inst.ID), nil
	})
	fx := newRouterFixture(t, transport, nil, nil)
	for i := 0; i < 4; i++ {
		mustRegister(t, fx.registry, "orders", fmt.Sprintf("i%d", i), 8000+i)
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				resp, err := fx.router.Handle(context.Background(), getReq("/orders"))
				if assert.NoError(t, err) {
					assert.NotEmpty(t, resp.Body)
				}
			}
		}()
	}
	wg.Wait()
}

func TestRouterError_Message(t *testing.T) {
	err := &RouterError{
		Kind:       KindRetryExhausted,
		Service:    "orders",
		InstanceID: "b",
		Attempted:  []string{"a", "b"},
		Elapsed:    15 * time.Millisecond,
		Cause:      errBoom,
	}
	assert.Contains(t, err.Error(), "RETRY_EXHAUSTED")
	assert.Contains(t, err.Error(), `instance="b"`)
	assert.Contains(t, err.Error(), "[a b]")
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, KindRetryExhausted, KindOf(fmt.Errorf("wrapped: %w", err)))
	assert.Equal(t, ErrorKind(0), KindOf(errBoom))
}
