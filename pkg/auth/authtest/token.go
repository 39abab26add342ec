// Package authtest signs shopper tokens for handler tests.
package authtest

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-payments/pkg/auth"
	"github.com/angelmondragon/storefront-payments/pkg/config"
)

// Token describes what to sign. Zero fields get usable defaults: a random
// user, issued now, valid for an hour.
type Token struct {
	UserID   uuid.UUID
	Email    string
	IssuedAt time.Time
	TTL      time.Duration
	Audience string
}

// Sign returns tok signed with cfg's secret and issuer.
func Sign(t testing.TB, cfg config.JWTConfig, tok Token) string {
	t.Helper()
	if tok.UserID == uuid.Nil {
		tok.UserID = uuid.New()
	}
	if tok.IssuedAt.IsZero() {
		tok.IssuedAt = time.Now()
	}
	if tok.TTL == 0 {
		tok.TTL = time.Hour
	}
	claims := auth.Claims{
		UserID: tok.UserID,
		Email:  tok.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   tok.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(tok.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(tok.IssuedAt.Add(tok.TTL)),
			ID:        uuid.NewString(),
		},
	}
	if tok.Audience != "" {
		claims.Audience = jwt.ClaimStrings{tok.Audience}
	}
	signed, err := jwt.NewWithClaims(auth.SigningMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}
