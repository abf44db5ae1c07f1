// Package service adapts the gateway core to its transports: the proxy
// entry point and the admin API.
package service

import "github.com/google/wire"

// ProviderSet is service providers.
var ProviderSet = wire.NewSet(NewGatewayService, NewAdminService)
