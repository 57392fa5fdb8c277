package usecase

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultJWTTTL = 24 * time.Hour

	// AdminScope is the only scope the admin API accepts.
	AdminScope = "post_race:admin"
)

var ErrInvalidOperator = errors.New("operator name is required")

// TokenIssuer mints bearer tokens for operators of the admin API. There is no
// user store: whoever holds JWT_SECRET can issue tokens, and the operator name
// only ends up in logs.
type TokenIssuer struct {
	jwtKey []byte
	jwtTTL time.Duration
	now    func() time.Time
}

func NewTokenIssuer(jwtKey []byte) *TokenIssuer {
	return &TokenIssuer{jwtKey: jwtKey, jwtTTL: defaultJWTTTL, now: time.Now}
}

// Issue returns a signed HS256 token for operator. ttl <= 0 uses the default.
func (u *TokenIssuer) Issue(operator string, ttl time.Duration) (string, error) {
	if operator == "" {
		return "", ErrInvalidOperator
	}
	if ttl <= 0 {
		ttl = u.jwtTTL
	}

	now := u.now()
	claims := jwt.MapClaims{
		"sub":   operator,
		"scope": AdminScope,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := t.SignedString(u.jwtKey)
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}
