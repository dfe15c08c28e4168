package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/intervention-gateway/internal/domain"
	"github.com/xela07ax/intervention-gateway/internal/infra"
	"go.uber.org/zap"
)

type stubBlocklistRepo struct {
	ids []string
	err error
}

func (s *stubBlocklistRepo) GetBlockedClients(context.Context) ([]string, error) { return s.ids, s.err }

func TestBlocklist_InitWithoutRedis(t *testing.T) {
	repo := &stubBlocklistRepo{ids: []string{"10.0.0.1", "10.0.0.2"}}
	m := NewBlocklistManager(nil, repo, zap.NewNop())

	require.NoError(t, m.Init(context.Background()))
	assert.Equal(t, 2, m.Len())
	assert.True(t, m.IsBlocked("10.0.0.1"))

	// повторный Init после удаления в БД не оставляет "залипших" адресов
	repo.ids = []string{"10.0.0.2"}
	require.NoError(t, m.Init(context.Background()))
	assert.False(t, m.IsBlocked("10.0.0.1"))

	repo.err = errors.New("db down")
	assert.Error(t, m.Init(context.Background()))
	assert.True(t, m.IsBlocked("10.0.0.2"))
}

func TestBlocklist_Evaluate(t *testing.T) {
	m := NewBlocklistManager(nil, &stubBlocklistRepo{}, zap.NewNop())
	m.Set("192.0.2.10", true)
	ctx := context.Background()

	cs, err := m.Evaluate(ctx, &domain.Transaction{ClientAddr: "192.0.2.10"}, domain.PhaseConnection)
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, domain.ActionAbort, cs[0].Action)
	assert.Equal(t, 403, cs[0].Status)

	cs, _ = m.Evaluate(ctx, &domain.Transaction{ClientAddr: "192.0.2.10"}, domain.PhaseURI)
	assert.Empty(t, cs)

	m.Set("192.0.2.10", false)
	cs, _ = m.Evaluate(ctx, &domain.Transaction{ClientAddr: "192.0.2.10"}, domain.PhaseConnection)
	assert.Empty(t, cs)
}

func TestParseSignal(t *testing.T) {
	cases := []struct {
		payload string
		id      string
		status  bool
		ok      bool
	}{
		{"10.0.0.1:on", "10.0.0.1", true, true},
		{"10.0.0.1:off", "10.0.0.1", false, true},
		{"2001:db8::1:on", "2001:db8::1", true, true},
		{"client:true", "client", true, true},
		{"10.0.0.1", "", false, false},
		{"10.0.0.1:maybe", "", false, false},
		{":on", "", false, false},
		{"10.0.0.1:", "", false, false},
	}
	for _, tc := range cases {
		id, status, ok := ParseSignal(tc.payload)
		assert.Equal(t, tc.ok, ok, tc.payload)
		assert.Equal(t, tc.id, id, tc.payload)
		assert.Equal(t, tc.status, status, tc.payload)
	}

	id, status, ok := ParseSignal(infra.Signal("2001:db8::7", false))
	assert.True(t, ok)
	assert.Equal(t, "2001:db8::7", id)
	assert.False(t, status)
}
