package health

import (
	"github.com/eleven-am/see-server/internal/sidewalk"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const SidewalkService = "see.sidewalk"

// NewGRPCServer returns a gRPC health service for the process. The sidewalk
// service is reported as serving while its detector subprocess is running.
func NewGRPCServer(bridge *sidewalk.Bridge) *grpchealth.Server {
	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	if bridge == nil || !bridge.Enabled() {
		hs.SetServingStatus(SidewalkService, healthpb.HealthCheckResponse_SERVICE_UNKNOWN)
		return hs
	}

	SyncSidewalk(hs, bridge)
	bridge.OnExit(func(error) {
		hs.SetServingStatus(SidewalkService, healthpb.HealthCheckResponse_NOT_SERVING)
	})
	return hs
}

func SyncSidewalk(hs *grpchealth.Server, bridge *sidewalk.Bridge) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if bridge.Running() {
		status = healthpb.HealthCheckResponse_SERVING
	}
	hs.SetServingStatus(SidewalkService, status)
}
