package bootstrap

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/eleven-am/speech-sidecar/internal/health"
	"go.uber.org/fx"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const healthSyncInterval = 5 * time.Second

func NewGRPCServer() *grpc.Server {
	return grpc.NewServer()
}

func NewGRPCHealthServer() *grpchealth.Server {
	return grpchealth.NewServer()
}

func RegisterHealthService(server *grpc.Server, healthServer *grpchealth.Server) {
	healthpb.RegisterHealthServer(server, healthServer)
}

func StartGRPCServer(
	lc fx.Lifecycle,
	server *grpc.Server,
	healthServer *grpchealth.Server,
	h *health.Handler,
	cfg *Config,
	logger *slog.Logger,
) {
	watchCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			lis, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				cancel()
				return err
			}
			go h.WatchGRPC(watchCtx, healthServer, healthSyncInterval)
			go func() {
				logger.Info("gRPC server starting", "addr", cfg.GRPCAddr)
				if err := server.Serve(lis); err != nil {
					logger.Error("gRPC server error", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			healthServer.Shutdown()
			server.GracefulStop()
			return nil
		},
	})
}

var GRPCModule = fx.Options(
	fx.Provide(NewGRPCServer, NewGRPCHealthServer),
	fx.Invoke(RegisterHealthService),
	fx.Invoke(StartGRPCServer),
)
