package httpapi

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"buddypay.org/internal/obs"
)

// HealthServer exposes readiness over the standard gRPC health protocol,
// both for the whole server ("") and for serviceName.
type HealthServer struct {
	srv       *health.Server
	readiness readinessChecker
	log       *slog.Logger
}

// NewHealthServer creates the gRPC health wrapper. It reports NOT_SERVING
// until the first Refresh.
func NewHealthServer(r readinessChecker, logger *slog.Logger) *HealthServer {
	if logger == nil {
		logger = slog.Default()
	}
	h := &HealthServer{srv: health.NewServer(), readiness: r, log: logger}
	h.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Register attaches the health service to s.
func (h *HealthServer) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Refresh evaluates readiness once and publishes the result.
func (h *HealthServer) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.readiness.Check(ctx); err != nil {
		obs.SetReady(false)
		h.set(healthpb.HealthCheckResponse_NOT_SERVING)
		return err
	}
	obs.SetReady(true)
	h.set(healthpb.HealthCheckResponse_SERVING)
	return nil
}

// Run refreshes every interval until ctx ends, then marks the server as
// shutting down so watchers drain.
func (h *HealthServer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := h.Refresh(ctx); err != nil && ctx.Err() == nil {
			h.log.Warn("readiness check failed", "error", err)
		}
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return
		case <-ticker.C:
		}
	}
}

func (h *HealthServer) set(status healthpb.HealthCheckResponse_ServingStatus) {
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(serviceName, status)
}
