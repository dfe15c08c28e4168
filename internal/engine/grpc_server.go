package engine

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName - имя сервиса в grpc.health.v1 для проверок балансировщика.
const ServiceName = "waf.Gateway"

// ReadinessCheck возвращает false, пока шлюз не готов принимать трафик.
type ReadinessCheck func(ctx context.Context) bool

// HealthServer публикует готовность шлюза по стандартному протоколу grpc.health.v1.
type HealthServer struct {
	hs     *health.Server
	checks []ReadinessCheck
}

func NewHealthServer(checks ...ReadinessCheck) *HealthServer {
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &HealthServer{hs: hs, checks: checks}
}

// Register вешает health сервис на grpc сервер.
func (s *HealthServer) Register(srv *grpc.Server) {
	healthpb.RegisterHealthServer(srv, s.hs)
}

// Refresh пересчитывает статус по всем проверкам.
func (s *HealthServer) Refresh(ctx context.Context) bool {
	ok := true
	for _, check := range s.checks {
		if !check(ctx) {
			ok = false
			break
		}
	}
	st := healthpb.HealthCheckResponse_SERVING
	if !ok {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.hs.SetServingStatus(ServiceName, st)
	s.hs.SetServingStatus("", st)
	return ok
}

// Run периодически обновляет статус. Блокирует до отмены ctx, затем переводит в NOT_SERVING.
func (s *HealthServer) Run(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	s.Refresh(ctx)
	for {
		select {
		case <-ctx.Done():
			s.hs.Shutdown()
			return
		case <-ticker.C:
			s.Refresh(ctx)
		}
	}
}

// Check - проверка статуса без сети (для тестов и HTTP /health).
func (s *HealthServer) Check(ctx context.Context) (healthpb.HealthCheckResponse_ServingStatus, error) {
	resp, err := s.hs.Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return healthpb.HealthCheckResponse_UNKNOWN, err
	}
	return resp.GetStatus(), nil
}
