package transport

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/project-tsurugi/sqlengine/pkg/log"
)

// HealthServer is the narrow gRPC surface this engine exposes: the
// standard grpc_health_v1 service, registered on a grpc.Server the same
// way any gRPC service is registered (spec §6
// scopes the rest of the physical transport out - see this package's
// doc comment).
type HealthServer struct {
	grpcServer *grpc.Server
	health     *health.Server
}

// NewHealthServer builds an unstarted gRPC server exposing only health
// checking. SetServingStatus lets the caller (cmd/sqlengine) flip the
// reported status once pkg/kv and pkg/scheduler have finished starting.
func NewHealthServer() *HealthServer {
	hs := health.NewServer()
	s := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(s, hs)
	return &HealthServer{grpcServer: s, health: hs}
}

// SetServingStatus reports service as either serving or not-serving, the
// same status grpc_health_v1 clients (e.g. a Kubernetes readiness probe)
// poll for.
func (h *HealthServer) SetServingStatus(service string, serving bool) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(service, status)
}

// Serve blocks, accepting connections on addr until the listener or
// server is stopped.
func (h *HealthServer) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Logger.Info().Str("addr", addr).Msg("grpc health server listening")
	return h.grpcServer.Serve(lis)
}

// Stop gracefully stops the gRPC server.
func (h *HealthServer) Stop() {
	h.grpcServer.GracefulStop()
}
