package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))
	return configPath
}

func TestNewBootstrap_Defaults(t *testing.T) {
	configPath := writeConfig(t, `server:
  http:
    addr: :8080
`)

	bc, err := NewBootstrap(configPath)
	require.NoError(t, err)
	require.NotNil(t, bc)

	// Verify server defaults
	assert.Equal(t, ":8080", bc.Server.HTTP.Addr)
	assert.Equal(t, "tcp", bc.Server.HTTP.Network)
	assert.Equal(t, 30*time.Second, bc.Server.HTTP.Timeout)
	assert.Equal(t, ":9000", bc.Server.GRPC.Addr)

	// Verify gateway defaults
	assert.Equal(t, StrategyRoundRobin, bc.Balancer.Strategy)
	assert.Equal(t, 5, bc.Breaker.FailureThreshold)
	assert.Equal(t, 10*time.Second, bc.Breaker.OpenDuration)
	assert.Equal(t, 5*time.Second, bc.Probe.Interval)
	assert.Equal(t, 1*time.Second, bc.Probe.Timeout)
	assert.Equal(t, CheckHTTP, bc.Probe.DefaultCheck)
	assert.Equal(t, 3*time.Second, bc.Router.CallDeadline)
	assert.True(t, bc.Router.RetryEnabled)
	assert.Equal(t, 3, bc.Registry.UnhealthyThreshold)

	// Optional stores stay disabled
	assert.Empty(t, bc.Data.Database.Source)
	assert.Empty(t, bc.Data.Redis.Addr)

	assert.Equal(t, "info", bc.Log.Level)
	assert.Equal(t, "json", bc.Log.Format)
}

func TestNewBootstrap_RoutesAndInstances(t *testing.T) {
	configPath := writeConfig(t, `balancer:
  strategy: least-connections
breaker:
  failure_threshold: 2
  open_duration: 250ms
router:
  call_deadline: 800ms
  retry_enabled: false
routes:
  - prefix: /orders
    service: orders
    strip_prefix: true
  - prefix: /users
    service: users
instances:
  - id: orders-a
    service: orders
    host: 10.0.0.1
    port: 8081
    metadata:
      health_check: tcp
`)

	bc, err := NewBootstrap(configPath)
	require.NoError(t, err)

	assert.Equal(t, StrategyLeastConnections, bc.Balancer.Strategy)
	assert.Equal(t, 2, bc.Breaker.FailureThreshold)
	assert.Equal(t, 250*time.Millisecond, bc.Breaker.OpenDuration)
	assert.Equal(t, 800*time.Millisecond, bc.Router.CallDeadline)
	assert.False(t, bc.Router.RetryEnabled)

	require.Len(t, bc.Routes, 2)
	assert.Equal(t, "/orders", bc.Routes[0].Prefix)
	assert.Equal(t, "orders", bc.Routes[0].Service)
	assert.True(t, bc.Routes[0].StripPrefix)
	assert.False(t, bc.Routes[1].StripPrefix)

	require.Len(t, bc.Instances, 1)
	assert.Equal(t, "orders-a", bc.Instances[0].ID)
	assert.Equal(t, 8081, bc.Instances[0].Port)
	assert.Equal(t, "tcp", bc.Instances[0].Metadata["health_check"])
}

func TestNewBootstrap_EnvOverrides(t *testing.T) {
	tests := []struct {
		name        string
		envVars     map[string]string
		expectedVal func(*Bootstrap) bool
		description string
	}{
		{
			name:    "override_http_addr",
			envVars: map[string]string{"ROUTELANE_SERVER_HTTP_ADDR": ":9999"},
			expectedVal: func(bc *Bootstrap) bool {
				return bc.Server.HTTP.Addr == ":9999"
			},
			description: "ROUTELANE_SERVER_HTTP_ADDR should override default :8080",
		},
		{
			name:    "override_strategy",
			envVars: map[string]string{"ROUTELANE_BALANCER_STRATEGY": "random"},
			expectedVal: func(bc *Bootstrap) bool {
				return bc.Balancer.Strategy == StrategyRandom
			},
			description: "ROUTELANE_BALANCER_STRATEGY should override round-robin",
		},
		{
			name:    "redis_addr_alias",
			envVars: map[string]string{"REDIS_ADDR": "redis.example.com:6379"},
			expectedVal: func(bc *Bootstrap) bool {
				return bc.Data.Redis.Addr == "redis.example.com:6379"
			},
			description: "REDIS_ADDR should populate data.redis.addr",
		},
		{
			name:    "mysql_dsn_alias",
			envVars: map[string]string{"MYSQL_DSN": "user:pass@tcp(localhost:3306)/audit"},
			expectedVal: func(bc *Bootstrap) bool {
				return bc.Data.Database.Source == "user:pass@tcp(localhost:3306)/audit"
			},
			description: "MYSQL_DSN should populate data.database.source",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := writeConfig(t, `server:
  http:
    addr: :8080
`)
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			bc, err := NewBootstrap(configPath)
			require.NoError(t, err, tt.description)
			require.NotNil(t, bc)
			assert.True(t, tt.expectedVal(bc), tt.description)
		})
	}
}

func TestNewBootstrap_InvalidValues(t *testing.T) {
	tests := []struct {
		name          string
		content       string
		expectedError string
	}{
		{
			name:          "unknown_strategy",
			content:       "balancer:\n  strategy: weighted\n",
			expectedError: "balancer.strategy",
		},
		{
			name:          "zero_threshold",
			content:       "breaker:\n  failure_threshold: 0\n",
			expectedError: "breaker.failure_threshold",
		},
		{
			name:          "unknown_check",
			content:       "probe:\n  default_check: icmp\n",
			expectedError: "probe.default_check",
		},
		{
			name:          "bad_route",
			content:       "routes:\n  - prefix: orders\n    service: orders\n",
			expectedError: "routes[0]",
		},
		{
			name:          "bad_instance",
			content:       "instances:\n  - service: orders\n    host: 10.0.0.1\n",
			expectedError: "instances[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bc, err := NewBootstrap(writeConfig(t, tt.content))
			assert.Error(t, err)
			assert.Nil(t, bc)
			assert.Contains(t, err.Error(), tt.expectedError)
		})
	}
}

func TestNewBootstrap_ConfigFileNotFound(t *testing.T) {
	bc, err := NewBootstrap("/non/existent/config.yaml")
	assert.Error(t, err)
	assert.Nil(t, bc)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestNewBootstrap_EmptyConfigPath(t *testing.T) {
	bc, err := NewBootstrap("")
	require.NoError(t, err)
	require.NotNil(t, bc)

	assert.Equal(t, ":8080", bc.Server.HTTP.Addr)
	assert.Equal(t, ":9000", bc.Server.GRPC.Addr)
	assert.Empty(t, bc.Routes)
}

func TestNewBootstrap_PriorityOrder(t *testing.T) {
	configPath := writeConfig(t, `server:
  http:
    addr: :7777
`)

	// Environment variable should win over file value
	t.Setenv("ROUTELANE_SERVER_HTTP_ADDR", ":8888")

	bc, err := NewBootstrap(configPath)
	require.NoError(t, err)
	assert.Equal(t, ":8888", bc.Server.HTTP.Addr, "Environment variable should override config file")
}

func TestValidate_NilSections(t *testing.T) {
	err := Validate(&Bootstrap{})
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration fields")
}
