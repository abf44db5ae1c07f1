// Package data provides the gateway's external adapters: the downstream
// HTTP transport, health check transports, the Redis discovery store and the
// MySQL audit trail.
package data

import (
	"RouteLane/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ProviderSet is data providers.
var ProviderSet = wire.NewSet(
	NewData,
	NewRedisClient,
	NewMySQLClient,
)

// Data contains all data layer dependencies. Both stores are optional and
// may be nil.
type Data struct {
	// redisClient backs instance discovery
	redisClient *redis.Client
	// db backs the audit trail
	db *gorm.DB
}

// NewData creates a new Data instance with all data layer dependencies.
// Missing stores do not prevent application startup (graceful degradation).
// The stores are closed by the cleanups of their own constructors.
func NewData(_ *conf.Data, logger log.Logger, rdb *redis.Client, db *gorm.DB) *Data {
	helper := log.NewHelper(logger)

	if rdb == nil {
		helper.Warn("Redis client is nil, discovery will be unavailable")
	}
	if db == nil {
		helper.Warn("MySQL client is nil, audit events will only be logged")
	}

	return &Data{
		redisClient: rdb,
		db:          db,
	}
}

// GetRedisClient returns the Redis client, or nil when Redis is disabled.
func (d *Data) GetRedisClient() *redis.Client {
	if d == nil {
		return nil
	}
	return d.redisClient
}

// GetDB returns the MySQL client, or nil when the audit store is disabled.
func (d *Data) GetDB() *gorm.DB {
	if d == nil {
		return nil
	}
	return d.db
}
