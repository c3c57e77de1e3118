// Package v2 is the gRPC endpoint of the coin database
package v2

import (
	"context"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/setavenger/coindb/internal/config"
	"github.com/setavenger/coindb/internal/logging"
)

// ServiceName is the health service name clients ask for.
const ServiceName = "coindb.CoinDB"

// NewGRPCServer registers the health service. The node is reported as
// serving, callers flip it with SetServingStatus on shutdown.
func NewGRPCServer() (*grpc.Server, *health.Server) {
	grpcServer := grpc.NewServer()

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	// Enable reflection for debugging (optional)
	reflection.Register(grpcServer)

	return grpcServer, healthServer
}

// RunGRPCServer serves on config.GRPCHost until ctx is done.
func RunGRPCServer(ctx context.Context) error {
	grpcServer, healthServer := NewGRPCServer()

	lis, err := net.Listen("tcp", config.GRPCHost)
	if err != nil {
		logging.L.Err(err).Msg("failed to listen for gRPC")
		return err
	}

	go func() {
		<-ctx.Done()
		healthServer.Shutdown()
		grpcServer.GracefulStop()
	}()

	logging.L.Info().Msgf("Starting gRPC server on host %s", config.GRPCHost)
	if err := grpcServer.Serve(lis); err != nil {
		logging.L.Err(err).Msg("failed to serve gRPC")
		return err
	}
	return nil
}
