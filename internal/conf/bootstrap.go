// Package conf provides configuration management using Viper.
// It supports loading configuration from YAML files and environment variables,
// with CLI flag overrides.
package conf

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Load balancing strategies recognized by balancer.strategy.
const (
	StrategyRoundRobin       = "round-robin"
	StrategyLeastConnections = "least-connections"
	StrategyRandom           = "random"
)

// Health check kinds recognized by probe.default_check.
const (
	CheckHTTP = "http"
	CheckTCP  = "tcp"
	CheckGRPC = "grpc"
)

// NewBootstrap creates and initializes a Bootstrap configuration.
// It loads configuration from the specified config file path, applies defaults,
// and allows overrides from environment variables prefixed with ROUTELANE_.
//
// Configuration priority: Environment variables > Config file > Defaults
//
// Parameters:
//   - configPath: Path to the configuration file; empty means defaults + env only
//
// Returns:
//   - *Bootstrap: Loaded configuration
//   - error: Configuration loading or validation error
func NewBootstrap(configPath string) (*Bootstrap, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ROUTELANE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("data.database.source", "ROUTELANE_DATA_DATABASE_SOURCE", "MYSQL_DSN")
	_ = v.BindEnv("data.redis.addr", "ROUTELANE_DATA_REDIS_ADDR", "REDIS_ADDR")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
	}

	bc := &Bootstrap{
		Server: &Server{
			HTTP: &HTTPServer{
				Network: v.GetString("server.http.network"),
				Addr:    v.GetString("server.http.addr"),
				Timeout: v.GetDuration("server.http.timeout"),
			},
			GRPC: &GRPCServer{
				Network: v.GetString("server.grpc.network"),
				Addr:    v.GetString("server.grpc.addr"),
				Timeout: v.GetDuration("server.grpc.timeout"),
			},
		},
		Data: &Data{
			Database: &Database{
				Driver: v.GetString("data.database.driver"),
				Source: v.GetString("data.database.source"),
			},
			Redis: &Redis{
				Network:      v.GetString("data.redis.network"),
				Addr:         v.GetString("data.redis.addr"),
				Password:     v.GetString("data.redis.password"),
				DB:           v.GetInt("data.redis.db"),
				ReadTimeout:  v.GetDuration("data.redis.read_timeout"),
				WriteTimeout: v.GetDuration("data.redis.write_timeout"),
			},
		},
		Log: &Log{
			Level:      v.GetString("log.level"),
			Format:     v.GetString("log.format"),
			Env:        v.GetString("log.env"),
			OutputFile: v.GetString("log.output_file"),
		},
		Registry: &Registry{
			UnhealthyThreshold: v.GetInt("registry.unhealthy_threshold"),
			DefaultTTL:         v.GetDuration("registry.default_ttl"),
			ReapInterval:       v.GetDuration("registry.reap_interval"),
		},
		Probe: &Probe{
			Interval:     v.GetDuration("probe.interval"),
			Timeout:      v.GetDuration("probe.timeout"),
			Jitter:       v.GetDuration("probe.jitter"),
			DefaultCheck: strings.ToLower(v.GetString("probe.default_check")),
			HealthPath:   v.GetString("probe.health_path"),
		},
		Breaker: &Breaker{
			FailureThreshold:  v.GetInt("breaker.failure_threshold"),
			OpenDuration:      v.GetDuration("breaker.open_duration"),
			MaxOpenDuration:   v.GetDuration("breaker.max_open_duration"),
			BackoffMultiplier: v.GetFloat64("breaker.backoff_multiplier"),
			Window:            v.GetDuration("breaker.window"),
		},
		Balancer: &Balancer{
			Strategy: strings.ToLower(v.GetString("balancer.strategy")),
		},
		Router: &Router{
			CallDeadline:    v.GetDuration("router.call_deadline"),
			RetryEnabled:    v.GetBool("router.retry_enabled"),
			RouteCacheSize:  v.GetInt("router.route_cache_size"),
			MaxRequestBytes: v.GetInt64("router.max_request_bytes"),
			ProxyURL:        v.GetString("router.proxy_url"),
		},
		Discovery: &Discovery{
			Enabled:      v.GetBool("discovery.enabled"),
			SyncInterval: v.GetDuration("discovery.sync_interval"),
			KeyPrefix:    v.GetString("discovery.key_prefix"),
		},
	}

	if err := v.UnmarshalKey("routes", &bc.Routes); err != nil {
		return nil, fmt.Errorf("failed to parse routes: %w", err)
	}
	if err := v.UnmarshalKey("instances", &bc.Instances); err != nil {
		return nil, fmt.Errorf("failed to parse static instances: %w", err)
	}

	if err := Validate(bc); err != nil {
		return nil, err
	}

	return bc, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http.network", "tcp")
	v.SetDefault("server.http.addr", ":8080")
	v.SetDefault("server.http.timeout", 30*time.Second)

	v.SetDefault("server.grpc.network", "tcp")
	v.SetDefault("server.grpc.addr", ":9000")
	v.SetDefault("server.grpc.timeout", 5*time.Second)

	// Data defaults; both stores stay disabled until an address/DSN is given
	v.SetDefault("data.database.driver", "mysql")
	v.SetDefault("data.redis.network", "tcp")
	v.SetDefault("data.redis.read_timeout", 200*time.Millisecond)
	v.SetDefault("data.redis.write_timeout", 200*time.Millisecond)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Registry defaults
	v.SetDefault("registry.unhealthy_threshold", 3)
	v.SetDefault("registry.default_ttl", 90*time.Second)
	v.SetDefault("registry.reap_interval", 10*time.Second)

	// Probe defaults
	v.SetDefault("probe.interval", 5*time.Second)
	v.SetDefault("probe.timeout", 1*time.Second)
	v.SetDefault("probe.jitter", 500*time.Millisecond)
	v.SetDefault("probe.default_check", CheckHTTP)
	v.SetDefault("probe.health_path", "/health")

	// Breaker defaults
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.open_duration", 10*time.Second)
	v.SetDefault("breaker.max_open_duration", 2*time.Minute)
	v.SetDefault("breaker.backoff_multiplier", 2.0)
	v.SetDefault("breaker.window", 60*time.Second)

	// Balancer defaults
	v.SetDefault("balancer.strategy", StrategyRoundRobin)

	// Router defaults
	v.SetDefault("router.call_deadline", 3*time.Second)
	v.SetDefault("router.retry_enabled", true)
	v.SetDefault("router.route_cache_size", 1024)
	v.SetDefault("router.max_request_bytes", 10<<20)

	// Discovery defaults
	v.SetDefault("discovery.enabled", false)
	v.SetDefault("discovery.sync_interval", 5*time.Second)
	v.SetDefault("discovery.key_prefix", "routelane")
}

// Validate checks that all configuration values are usable.
// It returns an error listing every invalid field.
func Validate(bc *Bootstrap) error {
	var invalid []string

	if bc.Balancer == nil {
		invalid = append(invalid, "balancer.strategy (missing)")
	} else {
		switch bc.Balancer.Strategy {
		case StrategyRoundRobin, StrategyLeastConnections, StrategyRandom:
		default:
			invalid = append(invalid, fmt.Sprintf("balancer.strategy (unknown %q)", bc.Balancer.Strategy))
		}
	}

	if bc.Breaker == nil || bc.Breaker.FailureThreshold < 1 {
		invalid = append(invalid, "breaker.failure_threshold (must be >= 1)")
	}
	if bc.Breaker == nil || bc.Breaker.OpenDuration <= 0 {
		invalid = append(invalid, "breaker.open_duration (must be > 0)")
	}
	if bc.Breaker != nil && bc.Breaker.BackoffMultiplier != 0 && bc.Breaker.BackoffMultiplier < 1 {
		invalid = append(invalid, "breaker.backoff_multiplier (must be >= 1)")
	}

	if bc.Probe == nil || bc.Probe.Interval <= 0 {
		invalid = append(invalid, "probe.interval (must be > 0)")
	}
	if bc.Probe == nil || bc.Probe.Timeout <= 0 {
		invalid = append(invalid, "probe.timeout (must be > 0)")
	}
	if bc.Probe != nil {
		switch bc.Probe.DefaultCheck {
		case CheckHTTP, CheckTCP, CheckGRPC:
		default:
			invalid = append(invalid, fmt.Sprintf("probe.default_check (unknown %q)", bc.Probe.DefaultCheck))
		}
	}

	if bc.Registry == nil || bc.Registry.UnhealthyThreshold < 1 {
		invalid = append(invalid, "registry.unhealthy_threshold (must be >= 1)")
	}

	if bc.Router == nil || bc.Router.CallDeadline <= 0 {
		invalid = append(invalid, "router.call_deadline (must be > 0)")
	}

	for i, r := range bc.Routes {
		if r == nil || !strings.HasPrefix(r.Prefix, "/") || r.Service == "" {
			invalid = append(invalid, fmt.Sprintf("routes[%d] (prefix must start with / and service is required)", i))
		}
	}

	for i, inst := range bc.Instances {
		if inst == nil || inst.Service == "" || inst.Host == "" || inst.Port <= 0 || inst.Port > 65535 {
			invalid = append(invalid, fmt.Sprintf("instances[%d] (service, host and port are required)", i))
		}
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid configuration fields: %s", strings.Join(invalid, ", "))
	}

	return nil
}
