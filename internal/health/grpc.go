package health

import (
	"net"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName имя сервиса в gRPC health
const ServiceName = "cleaningstatusfilter"

// Server gRPC сервер с сервисом health
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	logger     *logrus.Logger
}

// NewServer создает сервер; до вызова SetServing(true) стадия считается неготовой
func NewServer(logger *logrus.Logger) *Server {
	s := &Server{
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
		logger:     logger,
	}
	healthpb.RegisterHealthServer(s.grpcServer, s.health)
	s.SetServing(false)
	return s
}

// SetServing переключает статус стадии
func (s *Server) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
	s.logger.Debugf("gRPC health: %s", status)
}

// Serve обслуживает запросы до остановки
func (s *Server) Serve(lis net.Listener) error {
	return s.grpcServer.Serve(lis)
}

// Stop переводит сервис в NOT_SERVING и останавливает сервер
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
