package service

import (
	"context"
	"fmt"

	"github.com/xela07ax/intervention-gateway/internal/audit"
)

// AuditLogProvider описывает контракт для чтения журнала вмешательств.
type AuditLogProvider interface {
	FetchLogs(ctx context.Context, f audit.Filter) ([]audit.Event, error)
}

type AuditService struct {
	repo AuditLogProvider
}

func NewAuditService(repo AuditLogProvider) *AuditService {
	return &AuditService{
		repo: repo,
	}
}

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// FetchLogs запрашивает логи с фильтрацией. Лимит зажимается в [1, 1000].
func (s *AuditService) FetchLogs(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	switch {
	case f.Limit <= 0:
		f.Limit = defaultAuditLimit
	case f.Limit > maxAuditLimit:
		f.Limit = maxAuditLimit
	}
	logs, err := s.repo.FetchLogs(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("audit_service: failed to fetch logs: %w", err)
	}
	if logs == nil {
		logs = []audit.Event{}
	}
	return logs, nil
}
