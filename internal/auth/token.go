package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"ridechat/internal/models"
)

var (
	ErrNoToken      = errors.New("no access token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
)

// Claims is what the ride-sharing backend puts into its access tokens:
// the subject is the user's email, userId the numeric account id.
type Claims struct {
	UserID models.ID `json:"userId"`
	jwt.RegisteredClaims
}

// Identity is the signed-in user as far as the client can tell from the
// token alone.
type Identity struct {
	Token     string
	UserID    string
	Email     string
	ExpiresAt time.Time
}

// ParseToken reads the identity out of an access token. The signature is
// not checked; the server does that on every request.
func ParseToken(raw string) (Identity, error) {
	raw = strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if raw == "" {
		return Identity{}, ErrNoToken
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.UserID == "" {
		return Identity{}, fmt.Errorf("%w: no userId claim", ErrInvalidToken)
	}

	id := Identity{
		Token:  raw,
		UserID: claims.UserID.String(),
		Email:  claims.Subject,
	}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}

// Valid reports whether the identity can still be used at now.
func (id Identity) Valid(now time.Time) error {
	if id.Token == "" || id.UserID == "" {
		return ErrNoToken
	}
	if !id.ExpiresAt.IsZero() && !now.Before(id.ExpiresAt) {
		return ErrExpiredToken
	}
	return nil
}
