package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/intervention-gateway/internal/audit"
	"github.com/xela07ax/intervention-gateway/internal/domain"
	"github.com/xela07ax/intervention-gateway/internal/intervention"
	"go.uber.org/zap"
)

type memAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

func (a *memAuditor) Log(e audit.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, e)
}

func (a *memAuditor) all() []audit.Event {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]audit.Event(nil), a.events...)
}

// phaseEvaluator отдаёт заданных кандидатов на одной фазе и считает вызовы.
type phaseEvaluator struct {
	phase domain.Phase
	out   []domain.Candidate
	err   error
	calls int
}

func (p *phaseEvaluator) Evaluate(_ context.Context, _ *domain.Transaction, phase domain.Phase) ([]domain.Candidate, error) {
	if phase != p.phase {
		return nil, nil
	}
	p.calls++
	return p.out, p.err
}

func newTestCore(failClosed bool) (*Core, *intervention.Manager, *memAuditor) {
	mgr := intervention.NewManager(intervention.NewBudget(0), intervention.DefaultOptions(), nil)
	aud := &memAuditor{}
	return NewCore(mgr, aud, nil, zap.NewNop(), failClosed), mgr, aud
}

func TestCore_ScenarioAcrossEvaluators(t *testing.T) {
	core, mgr, aud := newTestCore(false)
	core.Register("a", &phaseEvaluator{phase: domain.PhaseURI, out: []domain.Candidate{{Log: "ruleA matched"}}})
	core.Register("b", &phaseEvaluator{phase: domain.PhaseURI, out: []domain.Candidate{
		{Action: domain.ActionRedirect, Status: 302, URL: "/blocked", Log: "ruleB matched"},
	}})
	core.Register("c", &phaseEvaluator{phase: domain.PhaseURI, out: []domain.Candidate{{PauseMs: 500}}})

	in, err := core.Begin(&domain.Transaction{ClientAddr: "1.2.3.4", Method: "GET", URI: "/x"})
	require.NoError(t, err)
	assert.NotEmpty(t, in.Transaction().ID)

	stop, err := in.Process(context.Background(), domain.PhaseConnection)
	require.NoError(t, err)
	assert.False(t, stop)

	stop, err = in.Process(context.Background(), domain.PhaseURI)
	require.NoError(t, err)
	assert.True(t, stop)

	iv, err := in.Finalize()
	require.NoError(t, err)
	assert.Equal(t, domain.ActionRedirect, iv.Action())
	assert.Equal(t, 302, iv.Status())
	url, _ := iv.URL()
	assert.Equal(t, "/blocked", url)
	msg, _ := iv.Log()
	assert.Equal(t, "ruleA matched; ruleB matched", msg)
	assert.Equal(t, int64(500), iv.PauseMs())

	in.Close()
	in.Close()
	assert.Zero(t, mgr.Live())

	events := aud.all()
	require.Len(t, events, 1)
	assert.Equal(t, "redirect", events[0].Action)
	assert.Equal(t, "uri", events[0].Phase)
	assert.Equal(t, "1.2.3.4", events[0].ClientAddr)
}

func TestCore_AbortShortCircuits(t *testing.T) {
	core, mgr, _ := newTestCore(false)
	first := &phaseEvaluator{phase: domain.PhaseConnection, out: []domain.Candidate{{Action: domain.ActionAbort}}}
	second := &phaseEvaluator{phase: domain.PhaseConnection, out: []domain.Candidate{{Log: "never"}}}
	later := &phaseEvaluator{phase: domain.PhaseURI}
	core.Register("first", first)
	core.Register("second", second)
	core.Register("later", later)

	in, err := core.Begin(&domain.Transaction{})
	require.NoError(t, err)
	defer in.Close()

	stop, _ := in.Process(context.Background(), domain.PhaseConnection)
	assert.True(t, stop)
	stop, _ = in.Process(context.Background(), domain.PhaseURI)
	assert.True(t, stop)

	assert.Equal(t, 1, first.calls)
	assert.Zero(t, second.calls)
	assert.Zero(t, later.calls)
	assert.Equal(t, 403, in.Current().Status())
	assert.Equal(t, int64(1), mgr.Live())
}

func TestCore_EvaluatorErrorFailOpen(t *testing.T) {
	core, _, aud := newTestCore(false)
	core.Register("broken", &phaseEvaluator{phase: domain.PhaseRequestHeaders, err: errors.New("boom")})

	in, err := core.Begin(&domain.Transaction{})
	require.NoError(t, err)

	stop, err := in.Process(context.Background(), domain.PhaseRequestHeaders)
	assert.False(t, stop)
	assert.ErrorContains(t, err, "boom")
	in.Close()

	// ошибка попадает в аудит даже при чистом решении
	events := aud.all()
	require.Len(t, events, 1)
	assert.Equal(t, "allow", events[0].Action)
	assert.Contains(t, events[0].Error, "boom")
}

func TestCore_EvaluatorErrorFailClosed(t *testing.T) {
	core, _, _ := newTestCore(true)
	core.Register("broken", &phaseEvaluator{phase: domain.PhaseRequestHeaders, err: errors.New("boom")})

	in, err := core.Begin(&domain.Transaction{})
	require.NoError(t, err)
	defer in.Close()

	stop, _ := in.Process(context.Background(), domain.PhaseRequestHeaders)
	assert.True(t, stop)
	assert.Equal(t, domain.ActionAbort, in.Current().Action())
	assert.Equal(t, FailClosedStatus, in.Current().Status())
}

func TestCore_CleanTransactionIsNotAudited(t *testing.T) {
	core, mgr, aud := newTestCore(false)

	in, err := core.Begin(&domain.Transaction{})
	require.NoError(t, err)
	for p := domain.PhaseConnection; p <= domain.PhaseLogging; p++ {
		_, err := in.Process(context.Background(), p)
		require.NoError(t, err)
	}
	in.Close()

	assert.Empty(t, aud.all())
	assert.Zero(t, mgr.Live())
}

func TestCore_BeginAllocationFailure(t *testing.T) {
	mgr := intervention.NewManager(intervention.NewBudget(1), intervention.DefaultOptions(), nil)
	core := NewCore(mgr, nil, nil, nil, false)

	in, err := core.Begin(&domain.Transaction{})
	assert.Nil(t, in)
	assert.ErrorIs(t, err, intervention.ErrAllocationFailed)
}

func newLimitedCore(failClosed bool, maxLog, maxURL int) (*Core, *intervention.Manager) {
	opts := intervention.DefaultOptions()
	opts.MaxLogBytes = maxLog
	opts.MaxURLBytes = maxURL
	mgr := intervention.NewManager(intervention.NewBudget(0), opts, nil)
	return NewCore(mgr, nil, nil, nil, failClosed), mgr
}

func TestCore_OversizedLogKeepsBlock(t *testing.T) {
	const maxLog = 64 << 10
	for _, failClosed := range []bool{false, true} {
		core, mgr := newLimitedCore(failClosed, maxLog, 0)
		noisy := strings.Repeat("n", maxLog-10)
		core.Register("noisy", &phaseEvaluator{phase: domain.PhaseURI, out: []domain.Candidate{{Log: noisy}}})
		core.Register("sqli", &phaseEvaluator{phase: domain.PhaseURI, out: []domain.Candidate{
			{Action: domain.ActionAbort, Status: 403, Log: "sqli detected"},
		}})

		in, err := core.Begin(&domain.Transaction{})
		require.NoError(t, err)

		stop, err := in.Process(context.Background(), domain.PhaseURI)
		assert.True(t, stop, "fail_closed=%v", failClosed)
		assert.ErrorIs(t, err, intervention.ErrAllocationFailed)

		cur := in.Current()
		assert.Equal(t, domain.ActionAbort, cur.Action())
		assert.Equal(t, 403, cur.Status())
		msg, _ := cur.Log()
		assert.Equal(t, noisy, msg)

		in.Close()
		assert.Zero(t, mgr.Live())
	}
}

func TestCore_OversizedRedirect(t *testing.T) {
	cases := []struct {
		failClosed bool
		action     domain.Action
		status     int
	}{
		{false, domain.ActionAllow, 200},
		{true, domain.ActionAbort, FailClosedStatus},
	}
	for _, tc := range cases {
		core, _ := newLimitedCore(tc.failClosed, 0, 8)
		core.Register("redir", &phaseEvaluator{phase: domain.PhaseURI, out: []domain.Candidate{
			{Action: domain.ActionRedirect, URL: "https://example.com/too/long", Log: "moved"},
		}})

		in, err := core.Begin(&domain.Transaction{})
		require.NoError(t, err)

		stop, err := in.Process(context.Background(), domain.PhaseURI)
		assert.ErrorIs(t, err, intervention.ErrAllocationFailed)
		assert.Equal(t, tc.failClosed, stop)
		assert.Equal(t, tc.action, in.Current().Action())
		assert.Equal(t, tc.status, in.Current().Status())
		_, hasURL := in.Current().URL()
		assert.False(t, hasURL)
		in.Close()
	}
}

func TestCore_ProcessAfterClose(t *testing.T) {
	core, mgr := newLimitedCore(false, 0, 0)
	in, err := core.Begin(&domain.Transaction{})
	require.NoError(t, err)

	in.Close()
	_, err = in.Process(context.Background(), domain.PhaseLogging)
	assert.ErrorIs(t, err, intervention.ErrInvalidState)
	assert.Zero(t, mgr.Live())
}

func TestCore_LoggingPhase(t *testing.T) {
	core, _, aud := newTestCore(false)
	core.Register("block", &phaseEvaluator{phase: domain.PhaseURI, out: []domain.Candidate{
		{Action: domain.ActionAbort, Status: 403, Log: "blocked"},
	}})
	late := &phaseEvaluator{phase: domain.PhaseLogging, out: []domain.Candidate{
		{Action: domain.ActionRedirect, URL: "/x", Log: "late"},
	}}
	core.Register("late", late)

	// не исполненное решение: logging дописывает только лог
	in, err := core.Begin(&domain.Transaction{})
	require.NoError(t, err)
	_, err = in.Process(context.Background(), domain.PhaseLogging)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionAllow, in.Current().Action())
	msg, _ := in.Current().Log()
	assert.Equal(t, "late", msg)
	in.Close()

	// исполненное решение: logging не запускается, аудит без ошибок
	in, err = core.Begin(&domain.Transaction{})
	require.NoError(t, err)
	stop, _ := in.Process(context.Background(), domain.PhaseURI)
	require.True(t, stop)
	_, err = in.Finalize()
	require.NoError(t, err)

	_, err = in.Process(context.Background(), domain.PhaseLogging)
	assert.NoError(t, err)
	assert.Equal(t, 1, late.calls)
	in.Close()

	events := aud.all()
	require.Len(t, events, 2)
	assert.Equal(t, "allow", events[0].Action)
	assert.Equal(t, "abort", events[1].Action)
	assert.Equal(t, "blocked", events[1].Log)
	assert.Empty(t, events[1].Error)
}
