package intel

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"sentinel-lab/internal/infrastructure/cache"
	"sentinel-lab/internal/infrastructure/database"
)

const serviceName = "sentinel.v1.SentinelService"

// RegisterHealthServer registers the gRPC health check service and starts a
// background checker that flips the serving status when a dependency goes down.
func RegisterHealthServer(ctx context.Context, grpcServer *grpc.Server, db *database.PostgresDB, redis *cache.RedisCache) {
	healthServer := health.NewServer()

	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(serviceName, grpc_health_v1.HealthCheckResponse_SERVING)

	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				healthServer.Shutdown()
				return
			case <-ticker.C:
			}

			status := grpc_health_v1.HealthCheckResponse_SERVING

			if db != nil {
				if err := db.Ping(ctx); err != nil {
					status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
				}
			}

			if redis != nil {
				if err := redis.Ping(ctx); err != nil {
					status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
				}
			}

			healthServer.SetServingStatus("", status)
			healthServer.SetServingStatus(serviceName, status)
		}
	}()

	grpc_health_v1.RegisterHealthServer(grpcServer, healthServer)
}
