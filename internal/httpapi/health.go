package httpapi

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/zahash/mona/internal/obs"
)

type readinessChecker interface {
	Ready(ctx context.Context) error
}

// HealthReporter mirrors service readiness into the standard gRPC health
// service, both for the overall server ("") and for "mona".
type HealthReporter struct {
	probe readinessChecker
	srv   *health.Server
}

func NewHealthReporter(probe readinessChecker) *HealthReporter {
	return &HealthReporter{probe: probe, srv: health.NewServer()}
}

// Register attaches the health service to s.
func (h *HealthReporter) Register(s *grpc.Server) {
	healthpb.RegisterHealthServer(s, h.srv)
}

// Check runs the readiness probe once and publishes the result.
func (h *HealthReporter) Check(ctx context.Context) error {
	err := h.probe.Ready(ctx)
	status := healthpb.HealthCheckResponse_SERVING
	if err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(serviceName, status)
	obs.SetReady(err == nil)
	return err
}

// Run probes every interval until ctx is done, then marks the service as
// shutting down.
func (h *HealthReporter) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		probeCtx, cancel := context.WithTimeout(ctx, interval)
		if err := h.Check(probeCtx); err != nil && ctx.Err() == nil {
			obs.Logger().WarnContext(ctx, "readiness_probe_failed", "error", err.Error())
		}
		cancel()
		select {
		case <-ctx.Done():
			h.srv.Shutdown()
			return nil
		case <-ticker.C:
		}
	}
}
