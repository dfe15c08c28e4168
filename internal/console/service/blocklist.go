package service

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/xela07ax/intervention-gateway/internal/infra"
	"go.uber.org/zap"
)

// ErrInvalidAddr - адрес клиента не является IP.
var ErrInvalidAddr = errors.New("invalid client address")

type BlocklistRepository interface {
	SetBlocked(ctx context.Context, clientAddr string, blocked bool) error
}

type BlocklistService struct {
	repo     BlocklistRepository
	notifier Notifier
	logger   *zap.Logger
}

func NewBlocklistService(repo BlocklistRepository, notifier Notifier, logger *zap.Logger) *BlocklistService {
	return &BlocklistService{
		repo:     repo,
		notifier: notifier,
		logger:   logger.Named("blocklist-service"),
	}
}

func (s *BlocklistService) Block(ctx context.Context, addr string) error {
	return s.updateState(ctx, addr, true)
}

func (s *BlocklistService) Unblock(ctx context.Context, addr string) error {
	return s.updateState(ctx, addr, false)
}

// updateState - унифицированный механизм переключения: БД, затем сигнал шлюзам.
func (s *BlocklistService) updateState(ctx context.Context, addr string, blocked bool) error {
	ip := net.ParseIP(addr)
	if ip == nil {
		return fmt.Errorf("%w: %q", ErrInvalidAddr, addr)
	}
	// канонический вид: шлюз сравнивает адреса строками
	addr = ip.String()

	// 1. Persistence Layer
	if err := s.repo.SetBlocked(ctx, addr, blocked); err != nil {
		s.logger.Error("failed to update blocklist in DB",
			zap.String("client", addr),
			zap.Bool("blocked", blocked),
			zap.Error(err))
		return fmt.Errorf("blocklist database error: %w", err)
	}

	// 2. Real-time Signaling. Если Redis недоступен, шлюзы догонят состояние при переподключении (Init)
	if err := s.notifier.Notify(ctx, infra.RedisChanBlocklist, infra.Signal(addr, blocked)); err != nil {
		s.logger.Warn("runtime signal delivery failed",
			zap.String("channel", infra.RedisChanBlocklist),
			zap.Error(err))
		return nil
	}

	s.logger.Info("blocklist updated", zap.String("client", addr), zap.Bool("blocked", blocked))
	return nil
}
