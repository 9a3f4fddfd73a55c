package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nexusflow/backend/pkg/utils"
)

// TokenTTL is the lifetime of issued tokens
const TokenTTL = 24 * time.Hour

// UserSession represents the user session data stored in JWT
type UserSession struct {
	ID             string `json:"id"`
	OrganizationID string `json:"organization_id"`
	Name           string `json:"name,omitempty"`
	Email          string `json:"email,omitempty"`
	Role           string `json:"role,omitempty"`
}

// Claims represents JWT claims
type Claims struct {
	User UserSession `json:"user"`
	jwt.RegisteredClaims
}

// Authenticator signs and validates tokens with one shared secret
type Authenticator struct {
	secret []byte
	ttl    time.Duration
}

// NewAuthenticator creates an authenticator for the given HMAC secret
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret), ttl: TokenTTL}
}

// WithTTL returns a copy issuing tokens with the given lifetime
func (a *Authenticator) WithTTL(ttl time.Duration) *Authenticator {
	if ttl <= 0 {
		ttl = TokenTTL
	}
	return &Authenticator{secret: a.secret, ttl: ttl}
}

// GenerateToken creates a JWT token for a user session
func (a *Authenticator) GenerateToken(session UserSession) (string, error) {
	if session.ID == "" || session.OrganizationID == "" {
		return "", errors.New("session requires user and organization")
	}

	now := time.Now()
	claims := &Claims{
		User: session,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.ID,
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        utils.GenerateID(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// ValidateToken validates and parses a JWT token
func (a *Authenticator) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.secret, nil
	})

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.User.OrganizationID == "" {
		return nil, errors.New("token carries no organization")
	}
	return claims, nil
}
