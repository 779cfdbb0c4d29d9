package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"maintenance-portal/service-desk-backend/internal/workflow"
)

// ErrInvalidToken is returned for malformed, expired or wrongly signed tokens
var ErrInvalidToken = errors.New("invalid or expired token")

// Claims are the JWT claims carried by access tokens; Subject holds the user ID
type Claims struct {
	Username    string   `json:"username"`
	Groups      []string `json:"groups,omitempty"`
	IsSuperuser bool     `json:"is_superuser"`
	jwt.RegisteredClaims
}

// Actor converts the claims to the workflow identity
func (c *Claims) Actor() (workflow.Actor, error) {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return workflow.Actor{}, fmt.Errorf("%w: bad subject", ErrInvalidToken)
	}
	return workflow.Actor{
		UserID:      id,
		Username:    c.Username,
		Groups:      c.Groups,
		IsSuperuser: c.IsSuperuser,
	}, nil
}

// TokenIssuer signs and verifies HS256 access tokens
type TokenIssuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenIssuer creates a token issuer
func NewTokenIssuer(secret string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs an access token for user
func (i *TokenIssuer) Issue(user *workflow.User) (string, time.Time, error) {
	now := i.now()
	expires := now.Add(i.ttl)
	claims := Claims{
		Username:    user.Username,
		Groups:      []string(user.Groups),
		IsSuperuser: user.IsSuperuser,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.New().String(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies a token and returns its claims
func (i *TokenIssuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
