package server

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// MemoryService is the health service name that reports whether the vector
// index is usable. The overall ("") status is SERVING whenever the process
// is up, since the agent keeps answering without memory.
const MemoryService = "memory"

// HealthServer is a gRPC server carrying only the standard health service.
type HealthServer struct {
	grpc   *grpc.Server
	health *health.Server
}

// NewHealthServer creates a health server reporting the index as
// available or not.
func NewHealthServer(indexAvailable bool) *HealthServer {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)

	h := &HealthServer{grpc: gs, health: hs}
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	h.SetIndexAvailable(indexAvailable)
	return h
}

// SetIndexAvailable updates the memory service status.
func (h *HealthServer) SetIndexAvailable(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(MemoryService, status)
}

// Serve blocks serving on lis until Stop.
func (h *HealthServer) Serve(lis net.Listener) error {
	return h.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains the server.
func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.grpc.GracefulStop()
}
