package rpc

import (
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/saarathi/internal/control"
	"github.com/signalsfoundry/saarathi/internal/logging"
	"github.com/signalsfoundry/saarathi/internal/observability"
)

// ServerOptions configure NewGRPCServer.
type ServerOptions struct {
	Log     logging.Logger
	Metrics *observability.RPCCollector
}

// NewGRPCServer builds a gRPC server exposing the planning service and the
// standard health service. The health server reports SERVING for both the
// empty service name and ServiceName; callers flip it on shutdown.
func NewGRPCServer(ctl *control.Controller, opts ServerOptions) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			RequestIDUnaryServerInterceptor(opts.Log),
			TracingUnaryServerInterceptor(),
			opts.Metrics.UnaryServerInterceptor(),
		),
	)
	RegisterPlanningServiceServer(srv, NewPlanningServer(ctl))

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}
