package service

import (
	"context"
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/intervention-gateway/internal/domain"
	"github.com/xela07ax/intervention-gateway/internal/infra/auth"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

type AuthService struct {
	operators  map[string]domain.Operator
	privateKey *rsa.PrivateKey
	ttl        time.Duration
	now        func() time.Time
}

func NewAuthService(operators []domain.Operator, privateKey *rsa.PrivateKey, ttl time.Duration) *AuthService {
	m := make(map[string]domain.Operator, len(operators))
	for _, op := range operators {
		m[op.Username] = op
	}
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &AuthService{
		operators:  m,
		privateKey: privateKey,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Enabled - консоль сама выпускает токены, только если задан приватный ключ.
func (s *AuthService) Enabled() bool { return s.privateKey != nil }

func (s *AuthService) GenerateToken(_ context.Context, username, password string) (*domain.TokenResponse, error) {
	if s.privateKey == nil {
		return nil, errors.New("token issuing is disabled: no private key configured")
	}

	// 1. Аутентификация (источник правды - конфиг операторов)
	op, ok := s.operators[username]
	if !ok {
		return nil, ErrInvalidCredentials
	}

	// 2. Проверка пароля (используем bcrypt)
	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	// 3. Формирование Claims
	now := s.now()
	expiresAt := now.Add(s.ttl)
	scopes := make(map[string]bool, len(op.Scopes))
	for _, sc := range op.Scopes {
		scopes[sc] = true
	}
	claims := &domain.CustomClaims{
		UserID: op.Username,
		Scopes: scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    auth.Issuer,
			Subject:   op.Username,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	// 4. Подпись токена ЗАКРЫТЫМ КЛЮЧОМ (RS256)
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	signedToken, err := token.SignedString(s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign token: %w", err)
	}

	return &domain.TokenResponse{
		AccessToken: signedToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.ttl.Seconds()),
	}, nil
}
