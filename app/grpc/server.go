package grpc

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the health service name health checkers ask for in addition to the
// empty overall name.
const ServiceName = "checkout.CheckoutService"

// PingFunc matches both (*sql.DB).PingContext and (*pgxpool.Pool).Ping.
type PingFunc func(ctx context.Context) error

// HealthServer reports SERVING while every order store answers a ping.
type HealthServer struct {
	health *health.Server
	stores []PingFunc
	logger logrus.FieldLogger
}

func NewHealthServer(stores ...PingFunc) *HealthServer {
	return &HealthServer{
		health: health.NewServer(),
		stores: stores,
		logger: logrus.WithField("module", "grpc_health"),
	}
}

func (s *HealthServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.health)
}

// Refresh pings the stores once and publishes the result.
func (s *HealthServer) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	servingStatus := healthpb.HealthCheckResponse_SERVING
	for _, store := range s.stores {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := store(pingCtx)
		cancel()
		if err != nil {
			s.logger.WithError(err).Warn("Order store ping failed")
			servingStatus = healthpb.HealthCheckResponse_NOT_SERVING
			break
		}
	}

	s.health.SetServingStatus("", servingStatus)
	s.health.SetServingStatus(ServiceName, servingStatus)
	return servingStatus
}

// Watch refreshes the status on every tick until ctx is done.
func (s *HealthServer) Watch(ctx context.Context, interval time.Duration) {
	s.Refresh(ctx)
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// Shutdown flips every service to NOT_SERVING ahead of GracefulStop.
func (s *HealthServer) Shutdown() {
	s.health.Shutdown()
}
