package bootstrap

import (
	"context"
	"log/slog"
	"net"

	"github.com/eleven-am/see-server/internal/health"
	"github.com/eleven-am/see-server/internal/sidewalk"
	"go.uber.org/fx"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func NewGRPCServer() *grpc.Server {
	return grpc.NewServer()
}

func ProvideGRPCHealth(bridge *sidewalk.Bridge) *grpchealth.Server {
	return health.NewGRPCServer(bridge)
}

func RegisterHealthService(lc fx.Lifecycle, server *grpc.Server, hs *grpchealth.Server, bridge *sidewalk.Bridge) {
	healthpb.RegisterHealthServer(server, hs)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if bridge.Enabled() {
				health.SyncSidewalk(hs, bridge)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			hs.Shutdown()
			return nil
		},
	})
}

func StartGRPCServer(lc fx.Lifecycle, server *grpc.Server, cfg *Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			lis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				return err
			}
			go func() {
				logger.Info("gRPC server starting", "addr", cfg.GRPCAddr)
				if err := server.Serve(lis); err != nil {
					logger.Error("gRPC server error", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			server.GracefulStop()
			return nil
		},
	})
}

var GRPCModule = fx.Options(
	fx.Provide(NewGRPCServer, ProvideGRPCHealth),
	fx.Invoke(RegisterHealthService),
	fx.Invoke(StartGRPCServer),
)
