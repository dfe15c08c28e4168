package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/intervention-gateway/internal/domain"
	"go.uber.org/zap"
)

func signToken(t *testing.T, key *rsa.PrivateKey, scopes map[string]bool, exp time.Time) string {
	t.Helper()
	claims := &domain.CustomClaims{
		UserID: "op-1",
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestValidatorAndMiddleware(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	require.NoError(t, err)
	pub, err := ParseRSAPublicKey(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))
	require.NoError(t, err)

	v := NewBaseValidator(pub)
	var seenUser string
	h := NewMiddleware(v, zap.NewNop())(RequireScope(domain.ScopeRulesWrite)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seenUser = UserID(r.Context())
			w.WriteHeader(http.StatusNoContent)
		})))

	call := func(header string) int {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	future := time.Now().Add(time.Hour)
	assert.Equal(t, http.StatusUnauthorized, call(""))
	assert.Equal(t, http.StatusUnauthorized, call("Bearer garbage"))
	assert.Equal(t, http.StatusUnauthorized, call("Bearer "+signToken(t, key, nil, time.Now().Add(-time.Minute))))
	assert.Equal(t, http.StatusForbidden, call("Bearer "+signToken(t, key, map[string]bool{domain.ScopeRulesRead: true}, future)))
	assert.Equal(t, http.StatusNoContent, call("Bearer "+signToken(t, key, map[string]bool{domain.ScopeRulesWrite: true}, future)))
	assert.Equal(t, "op-1", seenUser)

	_, err = ParseRSAPublicKey(nil)
	assert.Error(t, err)
}
