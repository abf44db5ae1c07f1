package conf

import "time"

// Bootstrap is the root configuration of the gateway process.
type Bootstrap struct {
	Server    *Server
	Data      *Data
	Log       *Log
	Registry  *Registry
	Probe     *Probe
	Breaker   *Breaker
	Balancer  *Balancer
	Router    *Router
	Discovery *Discovery
	Routes    []*Route
	Instances []*StaticInstance
}

// Server holds the listener settings of the HTTP and gRPC servers.
type Server struct {
	HTTP *HTTPServer
	GRPC *GRPCServer
}

// HTTPServer configures the gateway/admin HTTP listener.
type HTTPServer struct {
	Network string
	Addr    string
	Timeout time.Duration
}

// GRPCServer configures the gRPC listener exposing grpc.health.v1.
type GRPCServer struct {
	Network string
	Addr    string
	Timeout time.Duration
}

// Data holds external store settings. Both stores are optional.
type Data struct {
	Database *Database
	Redis    *Redis
}

// Database configures the MySQL audit trail. An empty Source disables it.
type Database struct {
	Driver string
	Source string
}

// Redis configures the discovery store. An empty Addr disables it.
type Redis struct {
	Network      string
	Addr         string
	Password     string
	DB           int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Log configures the zap logger.
type Log struct {
	Level      string
	Format     string
	Env        string
	OutputFile string
}

// Registry configures the in-memory service registry.
type Registry struct {
	// UnhealthyThreshold is the number of consecutive failed probes that
	// flips an instance to unhealthy.
	UnhealthyThreshold int
	// DefaultTTL applies to dynamic registrations that carry no TTL.
	DefaultTTL time.Duration
	// ReapInterval is how often stale instances are swept.
	ReapInterval time.Duration
}

// Probe configures active health checking.
type Probe struct {
	Interval     time.Duration
	Timeout      time.Duration
	Jitter       time.Duration
	DefaultCheck string
	HealthPath   string
}

// Breaker configures the per-instance circuit breakers.
type Breaker struct {
	FailureThreshold  int
	OpenDuration      time.Duration
	MaxOpenDuration   time.Duration
	BackoffMultiplier float64
	Window            time.Duration
}

// Balancer selects the load-balancing strategy.
type Balancer struct {
	Strategy string
}

// Router configures request forwarding.
type Router struct {
	CallDeadline    time.Duration
	RetryEnabled    bool
	RouteCacheSize  int
	MaxRequestBytes int64
	ProxyURL        string
}

// Discovery configures the Redis announcement sync.
type Discovery struct {
	Enabled      bool
	SyncInterval time.Duration
	KeyPrefix    string
}

// Route maps a path prefix to a logical service name.
type Route struct {
	Prefix      string `mapstructure:"prefix"`
	Service     string `mapstructure:"service"`
	StripPrefix bool   `mapstructure:"strip_prefix"`
}

// StaticInstance is an instance registered at startup. Static instances
// never expire.
type StaticInstance struct {
	ID       string            `mapstructure:"id"`
	Service  string            `mapstructure:"service"`
	Host     string            `mapstructure:"host"`
	Port     int               `mapstructure:"port"`
	Metadata map[string]string `mapstructure:"metadata"`
}
