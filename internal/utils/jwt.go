package utils

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenTypeServiceAccess marks the short-lived tokens minted by the access gate.
const TokenTypeServiceAccess = "service_access"

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the portal token payload. Subject carries the user email.
type Claims struct {
	UserID    int64  `json:"user_id,omitempty"`
	Type      string `json:"type,omitempty"`
	ServiceID string `json:"service_id,omitempty"`
	jwt.RegisteredClaims
}

// TokenService signs and verifies HS256 bearer tokens with a single shared secret.
type TokenService struct {
	secret []byte
	now    func() time.Time
}

// NewTokenService fails when secret is empty; callers treat that as fatal at startup.
func NewTokenService(secret string) (*TokenService, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("JWT secret not configured")
	}
	return &TokenService{secret: []byte(secret), now: time.Now}, nil
}

// Issue signs a token for subject. Optional claims fill user_id, type,
// service_id and the token id.
func (s *TokenService) Issue(subject string, extra Claims, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("token subject required")
	}
	now := s.now()
	claims := extra
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        extra.ID,
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify returns the claims of a valid token or ErrInvalidToken.
func (s *TokenService) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		// Ensure the signing method is HMAC
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return claims, nil
}
