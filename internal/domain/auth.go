package domain

import (
	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims - claims токена операторов консоли.
type CustomClaims struct {
	UserID string          `json:"user_id"`
	Scopes map[string]bool `json:"scopes"` // "rules.write": true, "blocklist.write": true
	jwt.RegisteredClaims
}

// Scopes консоли
const (
	ScopeRulesRead      = "rules.read"
	ScopeRulesWrite     = "rules.write"
	ScopeBlocklistWrite = "blocklist.write"
	ScopeAuditRead      = "audit.read"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}

// Operator - учётка оператора консоли. Хранится в конфиге, пароль только как bcrypt-хэш.
type Operator struct {
	Username     string   `mapstructure:"username" json:"username"`
	PasswordHash string   `mapstructure:"password_hash" json:"-"` // Никогда не отправляем на фронт
	Scopes       []string `mapstructure:"scopes" json:"scopes"`
}
