package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the local user derived from the access token. The client does
// not hold the signing secret, so claims are read without verification; the
// server remains the authority and rejects bad tokens at the handshake.
type Identity struct {
	UserID    string
	ExpiresAt time.Time
}

// FromToken extracts the identity from a bearer token.
func FromToken(tokenString string) (*Identity, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	if tokenString == "" {
		return nil, fmt.Errorf("token is required")
	}

	token, _, err := jwt.NewParser().ParseUnverified(tokenString, jwt.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("parsing token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	id := &Identity{}
	switch v := claims["user_id"].(type) {
	case string:
		id.UserID = v
	case float64:
		id.UserID = fmt.Sprintf("%.0f", v)
	default:
		if sub, _ := claims["sub"].(string); sub != "" {
			id.UserID = sub
		}
	}
	if id.UserID == "" {
		return nil, fmt.Errorf("no user ID in token")
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		id.ExpiresAt = exp.Time
	}
	return id, nil
}

// Expired reports whether the token carried an expiry that has passed.
func (i *Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}
