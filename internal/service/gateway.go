package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"RouteLane/internal/biz"
	"RouteLane/internal/conf"
	"RouteLane/internal/model"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
)

// Error reasons returned to callers.
const (
	ReasonRouteNotFound   = "ROUTE_NOT_FOUND"
	ReasonBodyTooLarge    = "REQUEST_TOO_LARGE"
	ReasonInvalidArgument = "INVALID_ARGUMENT"
	ReasonNotFound        = "NOT_FOUND"
)

// GatewayService forwards inbound HTTP requests through the request router.
type GatewayService struct {
	router  *biz.RequestRouter
	maxBody int64
	logger  *log.Helper
}

// NewGatewayService creates a GatewayService.
func NewGatewayService(router *biz.RequestRouter, c *conf.Router, logger log.Logger) *GatewayService {
	maxBody := int64(10 << 20)
	if c != nil && c.MaxRequestBytes > 0 {
		maxBody = c.MaxRequestBytes
	}
	return &GatewayService{
		router:  router,
		maxBody: maxBody,
		logger:  log.NewHelper(log.With(logger, "module", "service/gateway")),
	}
}

// ReadRequest converts an inbound HTTP request into a router request.
func (s *GatewayService) ReadRequest(r *http.Request) (*model.Request, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, s.maxBody+1))
	if err != nil {
		return nil, kerrors.BadRequest(ReasonInvalidArgument, fmt.Sprintf("failed to read request body: %v", err))
	}
	if int64(len(body)) > s.maxBody {
		return nil, kerrors.New(http.StatusRequestEntityTooLarge, ReasonBodyTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", s.maxBody))
	}

	header := r.Header.Clone()
	service := strings.TrimSpace(header.Get(model.HeaderService))
	idempotent, _ := strconv.ParseBool(header.Get(model.HeaderIdempotent))
	// gateway control headers are not forwarded
	header.Del(model.HeaderService)
	header.Del(model.HeaderIdempotent)

	return &model.Request{
		Service:    service,
		Method:     r.Method,
		Path:       r.URL.Path,
		Query:      r.URL.RawQuery,
		Header:     header,
		Body:       body,
		Idempotent: idempotent,
	}, nil
}

// Forward routes req. A downstream reply with an error status is returned
// as a response tagged with the error kind; every other failure becomes a
// kratos error.
func (s *GatewayService) Forward(ctx context.Context, req *model.Request) (*model.Response, error) {
	resp, err := s.router.Handle(ctx, req)
	if err == nil {
		return resp, nil
	}

	var re *biz.RouterError
	if !errors.As(err, &re) {
		return nil, kerrors.InternalServer("INTERNAL", err.Error())
	}
	if re.Response != nil {
		out := *re.Response
		out.Header = re.Response.Header.Clone()
		if out.Header == nil {
			out.Header = http.Header{}
		}
		out.Header.Set(model.HeaderError, re.Kind.String())
		return &out, nil
	}
	return nil, ToKratosError(re)
}

// ToKratosError maps a router failure to the caller-facing error.
func ToKratosError(re *biz.RouterError) *kerrors.Error {
	if errors.Is(re.Cause, biz.ErrRouteNotFound) {
		return kerrors.NotFound(ReasonRouteNotFound, "no route matches the request path")
	}

	code := http.StatusBadGateway
	switch re.Kind {
	case biz.KindServiceUnavailable:
		code = http.StatusServiceUnavailable
	case biz.KindUpstreamTimeout:
		code = http.StatusGatewayTimeout
	}

	msg := "upstream request failed"
	if re.Cause != nil {
		msg = re.Cause.Error()
	}
	md := map[string]string{
		"service":    re.Service,
		"elapsed_ms": strconv.FormatInt(re.Elapsed.Milliseconds(), 10),
	}
	if re.InstanceID != "" {
		md["instance_id"] = re.InstanceID
	}
	if len(re.Attempted) > 0 {
		md["attempted"] = strings.Join(re.Attempted, ",")
	}
	return kerrors.New(code, re.Kind.String(), msg).WithMetadata(md)
}
