package identity

import (
	"errors"
	"time"

	"ringlink/internal/core/domain"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Claims carried by a session token.
type Claims struct {
	UserID      domain.UserID `json:"user_id"`
	DisplayName string        `json:"display_name,omitempty"`
	jwt.RegisteredClaims
}

// Provider resolves the local identity from session tokens. The call
// service needs nothing more than a stable user id; everything else on
// the token is passed through for display purposes.
type Provider struct {
	secret   []byte
	tokenTTL time.Duration
}

// NewProvider creates a provider validating HS256 tokens with secret.
func NewProvider(secret string, tokenTTL time.Duration) *Provider {
	return &Provider{secret: []byte(secret), tokenTTL: tokenTTL}
}

// IssueToken mints a session token. Used by tests and the example
// wiring; production tokens come from the account backend.
func (p *Provider) IssueToken(userID domain.UserID, displayName string) (string, error) {
	claims := &Claims{
		UserID:      userID,
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(p.tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}

// Resolve validates tokenString and returns its claims.
func (p *Provider) Resolve(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return p.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, ErrInvalidToken
}
