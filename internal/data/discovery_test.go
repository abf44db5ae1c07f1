package data

import (
	"context"
	"testing"
	"time"

	"RouteLane/internal/conf"
	"RouteLane/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDiscovery(t *testing.T, prefix string) (*RedisDiscovery, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisDiscovery(&Data{redisClient: rdb}, &conf.Discovery{KeyPrefix: prefix}, log.DefaultLogger), mr
}

func discoveredInstance(id string, port int) model.ServiceInstance {
	return model.ServiceInstance{
		ID:          id,
		ServiceName: "orders",
		Host:        "10.0.0.1",
		Port:        port,
		Metadata:    map[string]string{"zone": "eu-1a"},
	}
}

func TestRedisDiscovery_AnnounceAndList(t *testing.T) {
	d, mr := newTestDiscovery(t, "")
	ctx := context.Background()

	require.True(t, d.Available())
	require.NoError(t, d.Announce(ctx, discoveredInstance("b", 8082), 30*time.Second))
	require.NoError(t, d.Announce(ctx, discoveredInstance("a", 8081), 30*time.Second))

	assert.True(t, mr.Exists("routelane:heartbeat:a"))
	assert.Equal(t, 30*time.Second, mr.TTL("routelane:heartbeat:a"))
	members, err := mr.SMembers("routelane:services")
	require.NoError(t, err)
	assert.Equal(t, []string{"orders"}, members)

	live, err := d.ListLive(ctx)
	require.NoError(t, err)
	require.Len(t, live, 2)
	assert.Equal(t, "a", live[0].ID)
	assert.Equal(t, "b", live[1].ID)
	assert.Equal(t, "orders", live[0].ServiceName)
	assert.Equal(t, 8081, live[0].Port)
	assert.Equal(t, 30*time.Second, live[0].TTL)
	assert.Equal(t, "eu-1a", live[0].Metadata["zone"])
}

func TestRedisDiscovery_ExpiredHeartbeat(t *testing.T) {
	d, mr := newTestDiscovery(t, "")
	ctx := context.Background()

	require.NoError(t, d.Announce(ctx, discoveredInstance("a", 8081), 5*time.Second))
	require.NoError(t, d.Announce(ctx, discoveredInstance("b", 8082), time.Minute))

	mr.FastForward(10 * time.Second)

	live, err := d.ListLive(ctx)
	require.NoError(t, err)
	require.Len(t, live, 1)
	assert.Equal(t, "b", live[0].ID)

	keys, err := mr.HKeys("routelane:services:orders")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, keys, "expired announcements are pruned")
}

func TestRedisDiscovery_Withdraw(t *testing.T) {
	d, mr := newTestDiscovery(t, "gw")
	ctx := context.Background()

	require.NoError(t, d.Announce(ctx, discoveredInstance("a", 8081), time.Minute))
	assert.True(t, mr.Exists("gw:heartbeat:a"))

	require.NoError(t, d.Withdraw(ctx, "orders", "a"))
	assert.False(t, mr.Exists("gw:heartbeat:a"))

	live, err := d.ListLive(ctx)
	require.NoError(t, err)
	assert.Empty(t, live)
}

func TestRedisDiscovery_InvalidTTL(t *testing.T) {
	d, _ := newTestDiscovery(t, "")
	assert.Error(t, d.Announce(context.Background(), discoveredInstance("a", 8081), 0))
}

func TestRedisDiscovery_Unavailable(t *testing.T) {
	d := NewRedisDiscovery(&Data{}, nil, log.DefaultLogger)
	ctx := context.Background()

	assert.False(t, d.Available())
	assert.Error(t, d.Announce(ctx, discoveredInstance("a", 8081), time.Minute))
	assert.Error(t, d.Withdraw(ctx, "orders", "a"))
	_, err := d.ListLive(ctx)
	assert.Error(t, err)
}

func TestRedisDiscovery_RedisDown(t *testing.T) {
	d, mr := newTestDiscovery(t, "")
	mr.Close()

	_, err := d.ListLive(context.Background())
	assert.Error(t, err)
}
