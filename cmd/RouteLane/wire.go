//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"RouteLane/internal/biz"
	"RouteLane/internal/conf"
	"RouteLane/internal/data"
	"RouteLane/internal/server"
	"RouteLane/internal/service"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
)

// wireApp init kratos application.
func wireApp(*conf.Bootstrap, log.Logger) (*kratos.App, func(), error) {
	panic(wire.Build(
		wire.FieldsOf(new(*conf.Bootstrap),
			"Server", "Data", "Registry", "Probe", "Breaker",
			"Balancer", "Router", "Discovery", "Routes", "Instances"),
		data.ProviderSet,
		biz.ProviderSet,
		service.ProviderSet,
		server.ProviderSet,
		NewScheduler,
		newApp,
	))
}
