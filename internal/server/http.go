package server

import (
	"context"
	stdhttp "net/http"

	"RouteLane/internal/conf"
	"RouteLane/internal/model"
	"RouteLane/internal/server/middleware"
	"RouteLane/internal/service"
	pkglog "RouteLane/pkg/log"

	kerrors "github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/log"
	kmiddleware "github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// NewHTTPServer new an HTTP server serving the admin API, /healthz, and the
// gateway for every other path.
func NewHTTPServer(c *conf.Server, gateway *service.GatewayService, admin *service.AdminService, logger log.Logger) *http.Server {
	logHelper := pkglog.NewLogHelper(logger)

	middlewares := []kmiddleware.Middleware{
		recovery.Recovery(),
		middleware.Logging(logHelper),
	}

	var opts = []http.ServerOption{
		http.Middleware(middlewares...),
	}
	if c != nil && c.HTTP != nil {
		if c.HTTP.Network != "" {
			opts = append(opts, http.Network(c.HTTP.Network))
		}
		if c.HTTP.Addr != "" {
			opts = append(opts, http.Address(c.HTTP.Addr))
		}
		if c.HTTP.Timeout > 0 {
			opts = append(opts, http.Timeout(c.HTTP.Timeout))
		}
	}
	srv := http.NewServer(opts...)

	// Routes match in registration order; the gateway prefix goes last
	registerAdminRoutes(srv, admin)
	srv.Route("/").GET("/healthz", func(ctx http.Context) error {
		return ctx.JSON(stdhttp.StatusOK, service.StatusReply{Status: "ok"})
	})
	srv.HandlePrefix("/", gatewayHandler(gateway, kmiddleware.Chain(middlewares...)))

	return srv
}

// gatewayHandler forwards any request through the gateway service.
func gatewayHandler(gateway *service.GatewayService, m kmiddleware.Middleware) stdhttp.Handler {
	h := m(func(ctx context.Context, req interface{}) (interface{}, error) {
		return gateway.Forward(ctx, req.(*model.Request))
	})

	return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		req, err := gateway.ReadRequest(r)
		if err != nil {
			encodeError(w, r, err)
			return
		}

		out, err := h(r.Context(), req)
		if err != nil {
			encodeError(w, r, err)
			return
		}

		resp := out.(*model.Response)
		header := w.Header()
		for k, vv := range resp.Header {
			header[k] = vv
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(resp.Body)
	})
}

// encodeError writes err in the kratos error format, tagging gateway
// failures with their reason.
func encodeError(w stdhttp.ResponseWriter, r *stdhttp.Request, err error) {
	se := kerrors.FromError(err)
	w.Header().Set(model.HeaderError, se.Reason)
	http.DefaultErrorEncoder(w, r, se)
}
