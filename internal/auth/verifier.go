// Package auth resolves the caller's identity from a bearer token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/example/oralscan/internal/config"
)

var (
	// ErrMissingToken means the request carried no usable Authorization header.
	ErrMissingToken = errors.New("authorization header required")
	// ErrInvalidToken means the token failed verification.
	ErrInvalidToken = errors.New("invalid token")
)

// Identity is the verified caller.
type Identity struct {
	UserID string
	Email  string
}

// Verifier checks a bearer token against the identity provider.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

type identityClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 tokens signed with the identity provider's secret.
type JWTVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewJWTVerifier builds a verifier from the auth configuration.
func NewJWTVerifier(cfg config.Auth) (*JWTVerifier, error) {
	secret := strings.TrimSpace(cfg.JWTSecret)
	if secret == "" {
		return nil, errors.New("auth: JWT secret is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if aud := strings.TrimSpace(cfg.Audience); aud != "" {
		opts = append(opts, jwt.WithAudience(aud))
	}
	if iss := strings.TrimSpace(cfg.Issuer); iss != "" {
		opts = append(opts, jwt.WithIssuer(iss))
	}

	return &JWTVerifier{secret: []byte(secret), parser: jwt.NewParser(opts...)}, nil
}

// Verify implements Verifier.
func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (*Identity, error) {
	claims := &identityClaims{}
	token, err := v.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return &Identity{UserID: claims.Subject, Email: strings.TrimSpace(claims.Email)}, nil
}

func extractBearerToken(header string) (string, error) {
	if header == "" {
		return "", ErrMissingToken
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("%w: malformed authorization header", ErrInvalidToken)
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", fmt.Errorf("%w: token missing", ErrInvalidToken)
	}
	return token, nil
}
