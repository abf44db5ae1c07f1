// Package main is the entry point of the RouteLane gateway.
// It initializes the Kratos application with the gateway HTTP server, the
// gRPC health server, the health probe and the maintenance scheduler.
package main

import (
	"flag"
	"os"

	"RouteLane/internal/biz"
	"RouteLane/internal/conf"
	zapLogger "RouteLane/pkg/log"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/tracing"
	"github.com/go-kratos/kratos/v2/transport/grpc"
	"github.com/go-kratos/kratos/v2/transport/http"

	_ "go.uber.org/automaxprocs"
)

// go build -ldflags "-X main.Version=x.y.z"
var (
	// Name is the name of the compiled software.
	Name = "routelane"
	// Version is the version of the compiled software.
	Version string
	// flagconf is the config flag.
	flagconf string

	id, _ = os.Hostname()
)

func init() {
	flag.StringVar(&flagconf, "conf", "../../configs/config.yaml", "config path, eg: -conf config.yaml")
}

func newApp(
	logger log.Logger,
	gs *grpc.Server,
	hs *http.Server,
	probe *biz.HealthProbe,
	scheduler *Scheduler,
	_ *biz.AuditRecorder,
	registry *biz.ServiceRegistry,
	static []*conf.StaticInstance,
) (*kratos.App, error) {
	// Seed after every registry subscriber exists so static instances are
	// audited and probed like any other.
	n, err := registry.Seed(static)
	if err != nil {
		return nil, err
	}
	zapLogger.NewLogHelper(logger).Startup("static instances registered", "count", n)

	return kratos.New(
		kratos.ID(id),
		kratos.Name(Name),
		kratos.Version(Version),
		kratos.Metadata(map[string]string{}),
		kratos.Logger(logger),
		kratos.Server(
			gs,
			hs,
			probe,
			scheduler,
		),
	), nil
}

func main() {
	flag.Parse()

	// Load configuration using Viper with environment variable support
	bc, err := conf.NewBootstrap(flagconf)
	if err != nil {
		// Use fallback logger before Zap is initialized
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLog, err := zapLogger.NewZapLogger(bc.Log)
	if err != nil {
		log.Fatalf("failed to initialize zap logger: %v", err)
	}
	defer zapLog.Sync()

	logger := zapLogger.NewKratosAdapter(zapLog)

	logger = log.With(logger,
		"service.id", id,
		"service.name", Name,
		"service.version", Version,
		"trace.id", tracing.TraceID(),
		"span.id", tracing.SpanID(),
	)

	zapLogger.NewLogHelper(logger).Startup("RouteLane gateway starting",
		"http.addr", bc.Server.HTTP.Addr,
		"grpc.addr", bc.Server.GRPC.Addr,
		"balancer.strategy", bc.Balancer.Strategy,
		"routes", len(bc.Routes),
		"log.level", bc.Log.Level,
		"log.format", bc.Log.Format,
	)

	app, cleanup, err := wireApp(bc, logger)
	if err != nil {
		panic(err)
	}
	defer cleanup()

	// start and wait for stop signal
	if err := app.Run(); err != nil {
		panic(err)
	}
}
