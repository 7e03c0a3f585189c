// Package auth verifies the HS256 access tokens issued by the accounts
// service. Issue exists for tests and local tooling.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/lmdrive/drive-backend/pkg/config"
	"github.com/lmdrive/drive-backend/pkg/enums"
)

var (
	ErrNoSubject      = errors.New("token has no user id")
	ErrRoleNotAllowed = errors.New("token role not allowed")
)

// Claims is the access token body. StoreID scopes a staff token to one drive.
type Claims struct {
	UserID  uuid.UUID       `json:"user_id"`
	Role    enums.ActorRole `json:"role"`
	StoreID *uuid.UUID      `json:"store_id,omitempty"`
	jwt.RegisteredClaims
}

// Grant describes a token to issue. A blank ID gets a random jti.
type Grant struct {
	UserID  uuid.UUID
	Role    enums.ActorRole
	StoreID *uuid.UUID
	TTL     time.Duration
	ID      string
}

func Issue(cfg config.JWTConfig, now time.Time, g Grant) (string, error) {
	switch {
	case cfg.Secret == "" || cfg.Issuer == "":
		return "", errors.New("auth: jwt secret and issuer are required")
	case g.TTL <= 0:
		return "", errors.New("auth: token ttl must be positive")
	case !g.Role.IsTokenRole():
		return "", fmt.Errorf("auth: %w: %q", ErrRoleNotAllowed, g.Role)
	}
	if g.ID == "" {
		g.ID = uuid.NewString()
	}

	claims := Claims{
		UserID:  g.UserID,
		Role:    g.Role,
		StoreID: g.StoreID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        g.ID,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(g.TTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("auth: sign: %w", err)
	}
	return signed, nil
}

// Verify checks signature, issuer and expiry, then the claims themselves.
// A token claiming the system role is rejected even when correctly signed.
func Verify(cfg config.JWTConfig, raw string) (*Claims, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
	)
	claims := new(Claims)
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	}); err != nil {
		return nil, err
	}

	if claims.UserID == uuid.Nil {
		return nil, ErrNoSubject
	}
	if !claims.Role.IsTokenRole() {
		return nil, fmt.Errorf("%w: %q", ErrRoleNotAllowed, claims.Role)
	}
	return claims, nil
}
