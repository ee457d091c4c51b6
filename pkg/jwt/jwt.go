package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenInfo is the subset of access-token claims the engine cares about.
// Tokens are issued and signed by the cloud API; the engine never holds
// the signing key, so claims are read without signature verification and
// used only for refresh scheduling, never for authorization decisions.
type TokenInfo struct {
	UserID    string
	ExpiresAt time.Time
}

var ErrNoExpiry = errors.New("token has no expiry claim")

func Inspect(token string) (*TokenInfo, error) {
	parser := jwt.NewParser()

	claims := jwt.RegisteredClaims{}
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if claims.ExpiresAt == nil {
		return nil, ErrNoExpiry
	}

	return &TokenInfo{
		UserID:    claims.Subject,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Expired reports whether the token is unusable now or will be within
// the leeway window. Malformed tokens count as expired.
func Expired(token string, leeway time.Duration) bool {
	info, err := Inspect(token)
	if err != nil {
		return true
	}
	return time.Now().Add(leeway).After(info.ExpiresAt)
}
