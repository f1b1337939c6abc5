// Package identity resolves credential tokens into caller identities.
// Two gates exist: local JWT verification and remote introspection
// against a user service.
package identity

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/akazancev/bankcore/internal/domain"
	"github.com/akazancev/bankcore/internal/port"
)

// JWTGate verifies HS256 tokens locally against a shared secret.
type JWTGate struct {
	secret []byte
}

var _ port.IdentityGate = (*JWTGate)(nil)

// NewJWTGate creates a gate verifying tokens with the given secret.
func NewJWTGate(secret string) *JWTGate {
	return &JWTGate{secret: []byte(secret)}
}

type tokenClaims struct {
	Role   string `json:"role"`
	Status string `json:"status"`
	jwt.RegisteredClaims
}

// Authenticate parses and verifies the token. Any parse or signature
// failure maps to ErrUnauthorized; the caller never learns which.
func (g *JWTGate) Authenticate(ctx context.Context, token string) (*domain.Identity, error) {
	claims := &tokenClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, &domain.ErrUnauthorized{Message: "invalid token"}
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, &domain.ErrUnauthorized{Message: "invalid token subject"}
	}

	return &domain.Identity{
		UserID: userID,
		Role:   domain.Role(claims.Role),
		Status: domain.UserStatus(claims.Status),
	}, nil
}
