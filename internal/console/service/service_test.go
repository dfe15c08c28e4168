package service

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/intervention-gateway/internal/audit"
	"github.com/xela07ax/intervention-gateway/internal/domain"
	"github.com/xela07ax/intervention-gateway/internal/infra"
	"github.com/xela07ax/intervention-gateway/internal/infra/auth"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type sentSignal struct{ channel, payload string }

type fakeNotifier struct {
	sent []sentSignal
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, channel, payload string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentSignal{channel, payload})
	return nil
}

type memRuleRepo struct {
	rules map[string]domain.Rule
}

func (m *memRuleRepo) GetRuleByID(_ context.Context, id string) (*domain.Rule, error) {
	r, ok := m.rules[id]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (m *memRuleRepo) GetAllRules(context.Context) ([]domain.Rule, error) {
	var out []domain.Rule
	for _, r := range m.rules {
		out = append(out, r)
	}
	return out, nil
}

func (m *memRuleRepo) CreateRule(_ context.Context, r *domain.Rule) error {
	m.rules[r.ID] = *r
	return nil
}

func (m *memRuleRepo) UpdateRule(_ context.Context, r *domain.Rule) error {
	if _, ok := m.rules[r.ID]; !ok {
		return domain.ErrNotFound
	}
	m.rules[r.ID] = *r
	return nil
}

func (m *memRuleRepo) DeleteRule(_ context.Context, id string) error {
	if _, ok := m.rules[id]; !ok {
		return domain.ErrNotFound
	}
	delete(m.rules, id)
	return nil
}

func TestRuleService_NotifiesGateways(t *testing.T) {
	repo := &memRuleRepo{rules: map[string]domain.Rule{}}
	n := &fakeNotifier{}
	s := NewRuleService(repo, n, zap.NewNop())
	ctx := context.Background()

	all, err := s.GetAll(ctx)
	require.NoError(t, err)
	assert.NotNil(t, all)

	rule := &domain.Rule{ID: "r1", Phase: domain.PhaseURI, Candidate: domain.Candidate{Action: domain.ActionAbort}}
	require.NoError(t, s.Create(ctx, rule))
	rule.Log = "changed"
	require.NoError(t, s.Update(ctx, rule))
	require.NoError(t, s.Delete(ctx, "r1"))

	require.Len(t, n.sent, 3)
	for _, sig := range n.sent {
		assert.Equal(t, infra.RedisChanRulesUpdate, sig.channel)
		assert.Equal(t, "refresh", sig.payload)
	}

	assert.ErrorIs(t, s.Delete(ctx, "r1"), domain.ErrNotFound)
	assert.Len(t, n.sent, 3)
}

func TestRuleService_RejectsInvalid(t *testing.T) {
	n := &fakeNotifier{}
	s := NewRuleService(&memRuleRepo{rules: map[string]domain.Rule{}}, n, zap.NewNop())

	err := s.Create(context.Background(), &domain.Rule{ID: "r", Candidate: domain.Candidate{Action: domain.ActionRedirect}})
	assert.ErrorIs(t, err, ErrInvalidRule)
	assert.Empty(t, n.sent)
}

func TestRuleService_SignalFailure(t *testing.T) {
	n := &fakeNotifier{err: errors.New("redis down")}
	repo := &memRuleRepo{rules: map[string]domain.Rule{}}
	s := NewRuleService(repo, n, zap.NewNop())

	err := s.Create(context.Background(), &domain.Rule{ID: "r", Phase: domain.PhaseURI})
	assert.Error(t, err)
	assert.Contains(t, repo.rules, "r", "rule is persisted even if the signal is lost")
}

type memBlocklistRepo struct{ state map[string]bool }

func (m *memBlocklistRepo) SetBlocked(_ context.Context, addr string, blocked bool) error {
	m.state[addr] = blocked
	return nil
}

func TestBlocklistService(t *testing.T) {
	repo := &memBlocklistRepo{state: map[string]bool{}}
	n := &fakeNotifier{}
	s := NewBlocklistService(repo, n, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, s.Block(ctx, "2001:0db8:0000:0000:0000:0000:0000:0001"))
	require.NoError(t, s.Unblock(ctx, "10.0.0.1"))
	assert.ErrorIs(t, s.Block(ctx, "not-an-ip"), ErrInvalidAddr)

	assert.True(t, repo.state["2001:db8::1"])
	assert.False(t, repo.state["10.0.0.1"])
	require.Len(t, n.sent, 2)
	assert.Equal(t, sentSignal{infra.RedisChanBlocklist, "2001:db8::1:on"}, n.sent[0])
	assert.Equal(t, sentSignal{infra.RedisChanBlocklist, "10.0.0.1:off"}, n.sent[1])

	// Redis недоступен - изменение в БД всё равно успешно
	n.err = errors.New("redis down")
	assert.NoError(t, s.Block(ctx, "10.0.0.2"))
	assert.True(t, repo.state["10.0.0.2"])
}

type stubAuditRepo struct{ got audit.Filter }

func (s *stubAuditRepo) FetchLogs(_ context.Context, f audit.Filter) ([]audit.Event, error) {
	s.got = f
	return nil, nil
}

func TestAuditService_ClampsLimit(t *testing.T) {
	repo := &stubAuditRepo{}
	s := NewAuditService(repo)

	logs, err := s.FetchLogs(context.Background(), audit.Filter{})
	require.NoError(t, err)
	assert.NotNil(t, logs)
	assert.Equal(t, defaultAuditLimit, repo.got.Limit)

	_, _ = s.FetchLogs(context.Background(), audit.Filter{Limit: 1 << 20})
	assert.Equal(t, maxAuditLimit, repo.got.Limit)
}

func TestAuthService_GenerateToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	s := NewAuthService([]domain.Operator{{
		Username:     "alice",
		PasswordHash: string(hash),
		Scopes:       []string{domain.ScopeRulesRead, domain.ScopeAuditRead},
	}}, key, time.Hour)
	ctx := context.Background()

	_, err = s.GenerateToken(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.GenerateToken(ctx, "bob", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	resp, err := s.GenerateToken(ctx, "alice", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(3600), resp.ExpiresIn)

	// токен проходит тот же валидатор, что и в middleware консоли
	claims, err := auth.NewBaseValidator(&key.PublicKey).VerifyToken("Bearer " + resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
	assert.True(t, claims.Scopes[domain.ScopeAuditRead])
	assert.False(t, claims.Scopes[domain.ScopeRulesWrite])
	assert.Equal(t, auth.Issuer, claims.Issuer)

	_, err = NewAuthService(nil, nil, 0).GenerateToken(ctx, "alice", "s3cret")
	assert.Error(t, err)
}
