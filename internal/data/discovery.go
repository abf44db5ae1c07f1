package data

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"RouteLane/internal/conf"
	"RouteLane/internal/model"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
)

// Discovery key layout:
//
//	{prefix}:services                 set of announced service names
//	{prefix}:services:{service}       hash of instance id -> announcement JSON
//	{prefix}:heartbeat:{id}           liveness key, expires after the TTL
const defaultKeyPrefix = "routelane"

// announcement is the JSON stored per instance.
type announcement struct {
	ID       string            `json:"id"`
	Service  string            `json:"service"`
	Host     string            `json:"host"`
	Port     int               `json:"port"`
	Metadata map[string]string `json:"metadata,omitempty"`
	TTLMs    int64             `json:"ttl_ms"`
}

// RedisDiscovery implements biz.DiscoveryRepo on Redis.
type RedisDiscovery struct {
	rdb    *redis.Client
	prefix string
	logger *log.Helper
}

// NewRedisDiscovery creates the discovery store. It is unavailable when
// Redis is not configured.
func NewRedisDiscovery(d *Data, c *conf.Discovery, logger log.Logger) *RedisDiscovery {
	prefix := defaultKeyPrefix
	if c != nil && c.KeyPrefix != "" {
		prefix = c.KeyPrefix
	}
	return &RedisDiscovery{
		rdb:    d.GetRedisClient(),
		prefix: prefix,
		logger: log.NewHelper(log.With(logger, "module", "discovery_store")),
	}
}

func (r *RedisDiscovery) servicesKey() string {
	return r.prefix + ":services"
}

func (r *RedisDiscovery) serviceKey(service string) string {
	return fmt.Sprintf("%s:services:%s", r.prefix, service)
}

func (r *RedisDiscovery) heartbeatKey(id string) string {
	return fmt.Sprintf("%s:heartbeat:%s", r.prefix, id)
}

// Available implements biz.DiscoveryRepo.
func (r *RedisDiscovery) Available() bool {
	return r.rdb != nil
}

// Announce implements biz.DiscoveryRepo.
func (r *RedisDiscovery) Announce(ctx context.Context, inst model.ServiceInstance, ttl time.Duration) error {
	if r.rdb == nil {
		return fmt.Errorf("redis not configured")
	}
	if ttl <= 0 {
		return fmt.Errorf("announcement ttl must be positive")
	}

	payload, err := json.Marshal(announcement{
		ID:       inst.ID,
		Service:  inst.ServiceName,
		Host:     inst.Host,
		Port:     inst.Port,
		Metadata: inst.Metadata,
		TTLMs:    ttl.Milliseconds(),
	})
	if err != nil {
		return fmt.Errorf("failed to encode announcement: %w", err)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, r.servicesKey(), inst.ServiceName)
		pipe.HSet(ctx, r.serviceKey(inst.ServiceName), inst.ID, payload)
		pipe.Set(ctx, r.heartbeatKey(inst.ID), time.Now().UnixMilli(), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write announcement: %w", err)
	}
	return nil
}

// Withdraw implements biz.DiscoveryRepo.
func (r *RedisDiscovery) Withdraw(ctx context.Context, service, id string) error {
	if r.rdb == nil {
		return fmt.Errorf("redis not configured")
	}
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, r.serviceKey(service), id)
		pipe.Del(ctx, r.heartbeatKey(id))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to withdraw announcement: %w", err)
	}
	return nil
}

// ListLive implements biz.DiscoveryRepo. Announcements whose heartbeat key
// has expired are skipped and pruned.
func (r *RedisDiscovery) ListLive(ctx context.Context) ([]model.ServiceInstance, error) {
	if r.rdb == nil {
		return nil, fmt.Errorf("redis not configured")
	}

	services, err := r.rdb.SMembers(ctx, r.servicesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list services: %w", err)
	}
	sort.Strings(services)

	var live []model.ServiceInstance
	for _, service := range services {
		entries, err := r.rdb.HGetAll(ctx, r.serviceKey(service)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read service %s: %w", service, err)
		}
		if len(entries) == 0 {
			r.rdb.SRem(ctx, r.servicesKey(), service)
			continue
		}

		ids := make([]string, 0, len(entries))
		for id := range entries {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		pipe := r.rdb.Pipeline()
		exists := make([]*redis.IntCmd, len(ids))
		for i, id := range ids {
			exists[i] = pipe.Exists(ctx, r.heartbeatKey(id))
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return nil, fmt.Errorf("failed to check heartbeats: %w", err)
		}

		var stale []string
		for i, id := range ids {
			if exists[i].Val() == 0 {
				stale = append(stale, id)
				continue
			}
			var a announcement
			if err := json.Unmarshal([]byte(entries[id]), &a); err != nil {
				r.logger.Warnw("msg", "skipping malformed announcement", "instance_id", id, "error", err)
				continue
			}
			live = append(live, model.ServiceInstance{
				ID:          id,
				ServiceName: a.Service,
				Host:        a.Host,
				Port:        a.Port,
				Metadata:    a.Metadata,
				TTL:         time.Duration(a.TTLMs) * time.Millisecond,
			})
		}

		if len(stale) > 0 {
			if err := r.rdb.HDel(ctx, r.serviceKey(service), stale...).Err(); err != nil {
				r.logger.Warnw("msg", "failed to prune expired announcements", "target_service", service, "error", err)
			}
		}
	}
	return live, nil
}
