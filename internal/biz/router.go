package biz

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"RouteLane/internal/conf"
	"RouteLane/internal/model"
	pkgerrors "RouteLane/pkg/errors"
	zlog "RouteLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
)

// Headers understood or set by the gateway.
const (
	HeaderService    = model.HeaderService
	HeaderDeadline   = model.HeaderDeadline
	HeaderIdempotent = model.HeaderIdempotent
	HeaderError      = model.HeaderError
)

// Transport forwards a request to one instance. It must honor ctx's
// deadline and return the downstream reply for any status code.
type Transport interface {
	Call(ctx context.Context, inst model.ServiceInstance, req *model.Request) (*model.Response, error)
}

// RequestRouter resolves, balances and forwards one inbound request.
type RequestRouter struct {
	resolver     *RouteResolver
	registry     *ServiceRegistry
	balancer     LoadBalancer
	breakers     *BreakerSet
	transport    Transport
	callDeadline time.Duration
	retryEnabled bool

	logger *zlog.LogHelper
	now    func() time.Time
}

// NewRequestRouter wires the router.
func NewRequestRouter(
	c *conf.Router,
	resolver *RouteResolver,
	registry *ServiceRegistry,
	balancer LoadBalancer,
	breakers *BreakerSet,
	transport Transport,
	logger log.Logger,
) *RequestRouter {
	r := &RequestRouter{
		resolver:     resolver,
		registry:     registry,
		balancer:     balancer,
		breakers:     breakers,
		transport:    transport,
		callDeadline: 3 * time.Second,
		retryEnabled: true,
		logger:       zlog.NewLogHelper(log.With(logger, "module", "router")),
		now:          time.Now,
	}
	if c != nil {
		if c.CallDeadline > 0 {
			r.callDeadline = c.CallDeadline
		}
		r.retryEnabled = c.RetryEnabled
	}
	return r
}

// Handle routes req and returns the downstream response. Every failure is a
// *RouterError.
func (r *RequestRouter) Handle(ctx context.Context, req *model.Request) (*model.Response, error) {
	start := r.now()

	fwd := *req
	if fwd.Service == "" {
		rt, ok := r.resolver.Resolve(req.Path)
		if !ok {
			return nil, &RouterError{Kind: KindServiceUnavailable, Cause: ErrRouteNotFound, Elapsed: r.now().Sub(start)}
		}
		fwd.Service = rt.Service
		fwd.Path = rt.Rewrite(req.Path)
	}
	service := fwd.Service

	ctx, cancel := withBudget(ctx, req.Header)
	defer cancel()

	fail := func(kind ErrorKind, attempted []string, cause error) error {
		re := &RouterError{
			Kind:      kind,
			Service:   service,
			Attempted: attempted,
			Elapsed:   r.now().Sub(start),
			Cause:     cause,
		}
		if n := len(attempted); n > 0 {
			re.InstanceID = attempted[n-1]
		}
		var se *StatusError
		if errors.As(cause, &se) {
			re.Response = se.Response
		}
		r.logger.Warnw("msg", "request failed",
			"target_service", service,
			"kind", kind.String(),
			"attempted", strings.Join(attempted, ","),
			"error", cause)
		return re
	}

	candidates := r.registry.HealthyInstances(service)
	if len(candidates) == 0 {
		return nil, fail(KindServiceUnavailable, nil, ErrNoHealthyInstance)
	}
	inst, err := r.balancer.Select(service, candidates)
	if err != nil {
		return nil, fail(KindServiceUnavailable, nil, err)
	}
	r.logger.Route("route selected", "target_service", service, "instance_id", inst.ID, "path", fwd.Path)

	attempted := []string{inst.ID}
	resp, err := r.attempt(ctx, inst, &fwd)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, ErrCircuitOpen) {
		return nil, fail(KindServiceUnavailable, attempted, err)
	}

	// A timed-out attempt is retried only while the caller's budget lasts.
	kind, retryable := classify(err, fwd.Idempotent)
	if !r.retryEnabled || !retryable || ctx.Err() != nil {
		return nil, fail(kind, attempted, err)
	}

	retryTarget, ok := r.pickRetry(service, attempted)
	if !ok {
		return nil, fail(kind, attempted, err)
	}
	r.logger.Route("retrying on another instance",
		"target_service", service,
		"failed_instance", inst.ID,
		"instance_id", retryTarget.ID,
		"error", err)

	attempted = append(attempted, retryTarget.ID)
	resp, err = r.attempt(ctx, retryTarget, &fwd)
	if err == nil {
		return resp, nil
	}
	if errors.Is(err, ErrCircuitOpen) {
		return nil, fail(KindServiceUnavailable, attempted, err)
	}
	return nil, fail(KindRetryExhausted, attempted, err)
}

// pickRetry selects a fresh healthy instance not yet attempted.
func (r *RequestRouter) pickRetry(service string, attempted []string) (model.ServiceInstance, bool) {
	fresh := r.registry.HealthyInstances(service)
	remaining := fresh[:0]
	for _, c := range fresh {
		if !containsID(attempted, c.ID) {
			remaining = append(remaining, c)
		}
	}
	inst, err := r.balancer.Select(service, remaining)
	if err != nil {
		return model.ServiceInstance{}, false
	}
	return inst, true
}

// attempt forwards through the instance's breaker under its own call
// deadline, cut short by whatever remains of ctx's. A reply with an error
// status is returned as a *StatusError; only 5xx replies count against the
// breaker.
func (r *RequestRouter) attempt(ctx context.Context, inst model.ServiceInstance, req *model.Request) (*model.Response, error) {
	zlog.SetRoute(ctx, inst.ServiceName, inst.ID)
	cb := r.breakers.For(inst.ServiceName, inst.ID)

	ctx, cancel := context.WithTimeout(ctx, r.callDeadline)
	defer cancel()

	done := r.balancer.Begin(inst.ID)
	defer done()

	var resp *model.Response
	err := cb.Execute(ctx, func(ctx context.Context) error {
		res, err := r.transport.Call(ctx, inst, req)
		if err != nil {
			return err
		}
		resp = res
		if res.IsServerError() {
			return &StatusError{Response: res}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, &StatusError{Response: resp}
	}
	return resp, nil
}

// withBudget bounds the whole request by the budget the caller declared in
// the deadline header. An earlier deadline already on ctx always wins; with
// neither, only the per-attempt call deadline applies.
func withBudget(ctx context.Context, h http.Header) (context.Context, context.CancelFunc) {
	if h != nil {
		if v := h.Get(HeaderDeadline); v != "" {
			if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms > 0 {
				return context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
			}
		}
	}
	return context.WithCancel(ctx)
}

// classify maps a failed attempt to a caller-facing kind and whether one
// retry on another instance is allowed.
func classify(err error, idempotent bool) (ErrorKind, bool) {
	var se *StatusError
	if errors.As(err, &se) {
		return KindUpstreamError, idempotent && se.Response.IsServerError()
	}

	te := pkgerrors.ClassifyTransportError(err)
	switch te.Type {
	case pkgerrors.ErrorTypeTimeout:
		return KindUpstreamTimeout, true
	case pkgerrors.ErrorTypeConnectionRefused:
		return KindUpstreamError, true
	case pkgerrors.ErrorTypeConnectionReset:
		return KindUpstreamError, idempotent
	default:
		return KindUpstreamError, false
	}
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
