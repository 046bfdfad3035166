// Package health reports whether the tracker is ticking over the standard
// gRPC health checking protocol (grpc.health.v1.Health), so process
// supervisors can probe it next to the HTTP status API.
package health

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/facelock/internal/monitoring"
)

// Service is the service name whose status follows the tracking loop. The
// overall server status (empty service name) follows it as well.
const Service = "facelock.Tracker"

// Server serves the health service. It starts NOT_SERVING; the caller marks
// it serving once the pipeline is ticking.
type Server struct {
	addr string

	health   *health.Server
	server   *grpc.Server
	listener net.Listener
	running  atomic.Bool
	wg       sync.WaitGroup
}

// NewServer creates a server for addr. Nothing listens until Start.
func NewServer(addr string) *Server {
	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{addr: addr, health: hs}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("health server already running")
	}

	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = lis
	s.server = grpc.NewServer()
	healthpb.RegisterHealthServer(s.server, s.health)
	s.running.Store(true)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			monitoring.Logf("health server: %v", err)
		}
	}()
	monitoring.Logf("gRPC health server listening on %s", lis.Addr())
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// SetTracking reports the tracking loop as running or stopped.
func (s *Server) SetTracking(tracking bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if tracking {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(Service, status)
}

// Stop marks every service NOT_SERVING, which also ends open Watch streams
// with that status, and stops the server gracefully.
func (s *Server) Stop() {
	s.health.Shutdown()
	if !s.running.Load() {
		return
	}
	s.running.Store(false)
	s.server.GracefulStop()
	s.wg.Wait()
	monitoring.Logf("gRPC health server stopped")
}
