package server

import (
	"context"
	stdhttp "net/http"

	"RouteLane/internal/service"

	"github.com/go-kratos/kratos/v2/transport/http"
)

// registerAdminRoutes mounts the admin API under /admin.
func registerAdminRoutes(srv *http.Server, svc *service.AdminService) {
	r := srv.Route("/admin")
	r.POST("/instances", adminRegisterInstance(svc))
	r.PUT("/instances/{id}/heartbeat", adminHeartbeat(svc))
	r.DELETE("/instances/{id}", adminDeregisterInstance(svc))
	r.GET("/services", adminListServices(svc))
	r.GET("/services/{service}/instances", adminListInstances(svc))
	r.POST("/services/{service}/probe", adminProbeService(svc))
	r.GET("/breakers", adminListBreakers(svc))
}

func adminRegisterInstance(svc *service.AdminService) http.HandlerFunc {
	return func(ctx http.Context) error {
		var in service.RegisterInstanceRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}
		h := ctx.Middleware(func(ctx context.Context, req interface{}) (interface{}, error) {
			return svc.RegisterInstance(ctx, req.(*service.RegisterInstanceRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(stdhttp.StatusOK, out)
	}
}

func adminHeartbeat(svc *service.AdminService) http.HandlerFunc {
	return func(ctx http.Context) error {
		id := ctx.Vars().Get("id")
		h := ctx.Middleware(func(ctx context.Context, _ interface{}) (interface{}, error) {
			return svc.Heartbeat(ctx, id)
		})
		out, err := h(ctx, id)
		if err != nil {
			return err
		}
		return ctx.Result(stdhttp.StatusOK, out)
	}
}

func adminDeregisterInstance(svc *service.AdminService) http.HandlerFunc {
	return func(ctx http.Context) error {
		id := ctx.Vars().Get("id")
		h := ctx.Middleware(func(ctx context.Context, _ interface{}) (interface{}, error) {
			return svc.DeregisterInstance(ctx, id)
		})
		out, err := h(ctx, id)
		if err != nil {
			return err
		}
		return ctx.Result(stdhttp.StatusOK, out)
	}
}

func adminListServices(svc *service.AdminService) http.HandlerFunc {
	return func(ctx http.Context) error {
		h := ctx.Middleware(func(ctx context.Context, _ interface{}) (interface{}, error) {
			return svc.ListServices(ctx)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(stdhttp.StatusOK, out)
	}
}

func adminListInstances(svc *service.AdminService) http.HandlerFunc {
	return func(ctx http.Context) error {
		name := ctx.Vars().Get("service")
		h := ctx.Middleware(func(ctx context.Context, _ interface{}) (interface{}, error) {
			return svc.ListInstances(ctx, name)
		})
		out, err := h(ctx, name)
		if err != nil {
			return err
		}
		return ctx.Result(stdhttp.StatusOK, out)
	}
}

func adminProbeService(svc *service.AdminService) http.HandlerFunc {
	return func(ctx http.Context) error {
		name := ctx.Vars().Get("service")
		h := ctx.Middleware(func(ctx context.Context, _ interface{}) (interface{}, error) {
			return svc.ProbeService(ctx, name)
		})
		out, err := h(ctx, name)
		if err != nil {
			return err
		}
		return ctx.Result(stdhttp.StatusOK, out)
	}
}

func adminListBreakers(svc *service.AdminService) http.HandlerFunc {
	return func(ctx http.Context) error {
		h := ctx.Middleware(func(ctx context.Context, _ interface{}) (interface{}, error) {
			return svc.ListBreakers(ctx)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(stdhttp.StatusOK, out)
	}
}
