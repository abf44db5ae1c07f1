package data

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"RouteLane/internal/conf"
	"RouteLane/internal/model"
	"RouteLane/pkg/metadata"

	"github.com/go-kratos/kratos/v2/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// metaGRPCService names the grpc.health.v1 service queried by gRPC probes.
const metaGRPCService = "grpc_service"

// HTTPChecker probes an HTTP path. Any status below 400 is healthy.
type HTTPChecker struct {
	client      *http.Client
	defaultPath string
}

// NewHTTPChecker creates an HTTP checker probing defaultPath unless the
// instance names its own.
func NewHTTPChecker(defaultPath string) *HTTPChecker {
	if defaultPath == "" {
		defaultPath = "/health"
	}
	return &HTTPChecker{
		client: &http.Client{
			Transport: &http.Transport{
				DisableKeepAlives: true,
			},
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		defaultPath: defaultPath,
	}
}

// Check implements biz.HealthChecker.
func (c *HTTPChecker) Check(ctx context.Context, inst model.ServiceInstance) error {
	meta := metadata.Parse(inst.Metadata)
	target := url.URL{Scheme: "http", Host: inst.Address(), Path: meta.Path(c.defaultPath)}
	if inst.Metadata["scheme"] == "https" {
		target.Scheme = "https"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return err
	}
	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))

	if res.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("health endpoint returned %d", res.StatusCode)
	}
	return nil
}

// TCPChecker treats an accepted connection as healthy.
type TCPChecker struct {
	dialer net.Dialer
}

// NewTCPChecker creates a TCP connect checker.
func NewTCPChecker() *TCPChecker {
	return &TCPChecker{}
}

// Check implements biz.HealthChecker.
func (c *TCPChecker) Check(ctx context.Context, inst model.ServiceInstance) error {
	conn, err := c.dialer.DialContext(ctx, "tcp", inst.Address())
	if err != nil {
		return err
	}
	return conn.Close()
}

// GRPCChecker queries the standard grpc.health.v1 service. Client
// connections are kept per address.
type GRPCChecker struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewGRPCChecker creates a gRPC health checker.
func NewGRPCChecker() *GRPCChecker {
	return &GRPCChecker{conns: map[string]*grpc.ClientConn{}}
}

func (c *GRPCChecker) conn(addr string) (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cc, ok := c.conns[addr]; ok {
		return cc, nil
	}
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	c.conns[addr] = cc
	return cc, nil
}

// Check implements biz.HealthChecker.
func (c *GRPCChecker) Check(ctx context.Context, inst model.ServiceInstance) error {
	cc, err := c.conn(inst.Address())
	if err != nil {
		return err
	}
	res, err := healthpb.NewHealthClient(cc).Check(ctx, &healthpb.HealthCheckRequest{
		Service: inst.Metadata[metaGRPCService],
	})
	if err != nil {
		return err
	}
	if res.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("grpc health status %s", res.GetStatus())
	}
	return nil
}

// Forget closes the connection kept for addr.
func (c *GRPCChecker) Forget(addr string) {
	c.mu.Lock()
	cc, ok := c.conns[addr]
	delete(c.conns, addr)
	c.mu.Unlock()
	if ok {
		_ = cc.Close()
	}
}

// Close closes every kept connection.
func (c *GRPCChecker) Close() {
	c.mu.Lock()
	conns := c.conns
	c.conns = map[string]*grpc.ClientConn{}
	c.mu.Unlock()
	for _, cc := range conns {
		_ = cc.Close()
	}
}

// DispatchChecker picks the check transport from the instance metadata,
// falling back to probe.default_check.
type DispatchChecker struct {
	defaultKind string
	http        *HTTPChecker
	tcp         *TCPChecker
	grpc        *GRPCChecker
	logger      *log.Helper
}

// NewHealthChecker creates the dispatching checker. The cleanup closes
// cached gRPC connections.
func NewHealthChecker(c *conf.Probe, logger log.Logger) (*DispatchChecker, func()) {
	kind, path := metadata.CheckHTTP, ""
	if c != nil {
		if c.DefaultCheck != "" {
			kind = c.DefaultCheck
		}
		path = c.HealthPath
	}
	d := &DispatchChecker{
		defaultKind: kind,
		http:        NewHTTPChecker(path),
		tcp:         NewTCPChecker(),
		grpc:        NewGRPCChecker(),
		logger:      log.NewHelper(log.With(logger, "module", "health_check")),
	}
	return d, d.grpc.Close
}

// Check implements biz.HealthChecker.
func (d *DispatchChecker) Check(ctx context.Context, inst model.ServiceInstance) error {
	start := time.Now()
	kind := metadata.Parse(inst.Metadata).CheckKind(d.defaultKind)

	var err error
	switch kind {
	case metadata.CheckHTTP:
		err = d.http.Check(ctx, inst)
	case metadata.CheckTCP:
		err = d.tcp.Check(ctx, inst)
	case metadata.CheckGRPC:
		err = d.grpc.Check(ctx, inst)
		if err != nil {
			// reconnect on the next probe
			d.grpc.Forget(inst.Address())
		}
	default:
		err = fmt.Errorf("unsupported health check %q", kind)
	}

	if err != nil {
		d.logger.Debugw("msg", "health check failed",
			"instance_id", inst.ID,
			"check", kind,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err)
	}
	return err
}
