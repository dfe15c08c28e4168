package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/intervention-gateway/internal/domain"
)

func TestDetector_ReturnsCandidates(t *testing.T) {
	var got detectorRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		assert.Equal(t, "tx-1", r.Header.Get("X-Transaction-ID"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"action":"abort","status":406,"log":"scanner"}]}`))
	}))
	defer srv.Close()

	d := NewDetector(srv.URL, time.Second)
	tx := &domain.Transaction{
		ID:             "tx-1",
		Method:         "POST",
		URI:            "/login",
		RequestHeaders: http.Header{"User-Agent": []string{"sqlmap"}},
		RequestBody:    []byte("user=admin"),
	}

	cs, err := d.Evaluate(context.Background(), tx, domain.PhaseRequestBody)
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, domain.ActionAbort, cs[0].Action)
	assert.Equal(t, 406, cs[0].Status)

	assert.Equal(t, domain.PhaseRequestBody, got.Phase)
	assert.Equal(t, "user=admin", got.Body)
	assert.Equal(t, []string{"sqlmap"}, got.Headers["User-Agent"])
}

func TestDetector_SkipsOtherPhases(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	d := NewDetector(srv.URL, time.Second)
	cs, err := d.Evaluate(context.Background(), &domain.Transaction{}, domain.PhaseConnection)
	assert.NoError(t, err)
	assert.Nil(t, cs)
	assert.False(t, called)
}

func TestDetector_Throttled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := NewDetector(srv.URL, time.Second)
	_, err := d.Evaluate(context.Background(), &domain.Transaction{}, domain.PhaseRequestHeaders)

	var tErr *ThrottleError
	require.True(t, errors.As(err, &tErr))
	assert.Equal(t, 3*time.Second, tErr.RetryAfter)
}

func TestDetector_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	d := NewDetector(srv.URL, time.Second)
	_, err := d.Evaluate(context.Background(), &domain.Transaction{}, domain.PhaseRequestHeaders)
	assert.ErrorIs(t, err, ErrDetectorUnavailable)
}

func TestDetector_NoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cs, err := NewDetector(srv.URL, time.Second).Evaluate(context.Background(), &domain.Transaction{}, domain.PhaseRequestHeaders)
	assert.NoError(t, err)
	assert.Empty(t, cs)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, defaultRetryAfter, parseRetryAfter(""))
	assert.Equal(t, 10*time.Second, parseRetryAfter("10"))
	assert.Equal(t, defaultRetryAfter, parseRetryAfter("soon"))
	assert.Zero(t, parseRetryAfter(time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat)))
}
