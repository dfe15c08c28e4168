package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/xela07ax/intervention-gateway/internal/domain"
	"github.com/xela07ax/intervention-gateway/internal/infra"
	"go.uber.org/zap"
)

// BlocklistProvider - источник истины (PostgreSQL) для прогрева блоклиста.
type BlocklistProvider interface {
	GetBlockedClients(ctx context.Context) ([]string, error)
}

// BlocklistManager - мгновенная блокировка клиентов по адресу.
// L1 - мапа в RAM (горячий путь), L2 - Redis set, сигналы ip:on / ip:off через Pub/Sub.
type BlocklistManager struct {
	mu      sync.RWMutex
	blocked map[string]struct{}

	repo   BlocklistProvider
	rdb    *redis.Client
	logger *zap.Logger

	status int
}

func NewBlocklistManager(rdb *redis.Client, repo BlocklistProvider, logger *zap.Logger) *BlocklistManager {
	return &BlocklistManager{
		blocked: make(map[string]struct{}),
		repo:    repo,
		rdb:     rdb,
		logger:  logger.With(zap.String("mod", "blocklist")),
		status:  domain.DefaultAbortStatus,
	}
}

// Init загружает текущее состояние блокировок при старте шлюза и при переподключении к Redis.
func (m *BlocklistManager) Init(ctx context.Context) error {
	ids, err := m.repo.GetBlockedClients(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch blocked clients from DB: %w", err)
	}

	return SyncState(ctx, m.rdb, m.logger, ids, infra.RedisKeyBlockedClients, infra.RedisKeyLockBlockedClients, m.Replace)
}

// Replace подменяет L1 целиком: удалённые в БД адреса не должны "залипать" в памяти.
func (m *BlocklistManager) Replace(addrs []string) {
	next := make(map[string]struct{}, len(addrs))
	for _, a := range addrs {
		next[a] = struct{}{}
	}
	m.mu.Lock()
	m.blocked = next
	m.mu.Unlock()
}

// StartListener подписывается на сигналы блокировки. Блокирует до отмены ctx.
func (m *BlocklistManager) StartListener(ctx context.Context) {
	ListenStateResilient(ctx, m.rdb, m.logger, infra.RedisChanBlocklist,
		func() error { return m.Init(ctx) }, // Переподключение
		m.Set,
	)
}

// Set - обновление одного адреса (сигнал из Redis или ручной вызов).
func (m *BlocklistManager) Set(addr string, blocked bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if blocked {
		m.blocked[addr] = struct{}{}
		m.logger.Info("client blocked", zap.String("client", addr))
		return
	}
	delete(m.blocked, addr)
	m.logger.Info("client unblocked", zap.String("client", addr))
}

// MarkAsBlocked - локальная блокировка без сигнала (автобан от анализатора).
func (m *BlocklistManager) MarkAsBlocked(addr string) { m.Set(addr, true) }

// IsBlocked - максимально быстрый метод для проверки в Hot Path
func (m *BlocklistManager) IsBlocked(addr string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blocked[addr]
	return ok
}

func (m *BlocklistManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.blocked)
}

// Evaluate - на фазе connection заблокированный клиент получает abort 403.
func (m *BlocklistManager) Evaluate(_ context.Context, tx *domain.Transaction, phase domain.Phase) ([]domain.Candidate, error) {
	if phase != domain.PhaseConnection || !m.IsBlocked(tx.ClientAddr) {
		return nil, nil
	}
	return []domain.Candidate{{
		Action: domain.ActionAbort,
		Status: m.status,
		Log:    fmt.Sprintf("client %s is blocklisted", tx.ClientAddr),
	}}, nil
}
