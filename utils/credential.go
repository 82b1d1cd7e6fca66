package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
)

var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrRevokedCredential = errors.New("credential revoked")
)

// revokedPrefix is the redis key space the identity service writes logouts to.
const revokedPrefix = "jwt:blacklist:"

// Claims defines the bearer credential claims issued by the identity service.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Identity returns the user id carried by the claims, preferring user_id over sub.
func (c *Claims) Identity() string {
	if id := strings.TrimSpace(c.UserID); id != "" {
		return id
	}
	return strings.TrimSpace(c.Subject)
}

// GenerateToken issues an HS256 credential. Production credentials come from the identity
// service; this exists for local tooling and tests.
func GenerateToken(secret, userID string, duration time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseToken validates an HS256 credential and returns its claims.
func ParseToken(secret, tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Identity() == "" {
		return nil, fmt.Errorf("%w: missing identity", ErrInvalidCredential)
	}
	return claims, nil
}

// JWTResolver turns a bearer credential into a user id.
type JWTResolver struct {
	Secret string
	// Revoked is consulted for logged-out credentials; nil disables the check.
	Revoked redis.Cmdable
}

// Resolve validates the credential and checks the revocation list.
func (r JWTResolver) Resolve(ctx context.Context, token string) (string, error) {
	if r.isRevoked(ctx, token) {
		return "", ErrRevokedCredential
	}
	claims, err := ParseToken(r.Secret, token)
	if err != nil {
		return "", err
	}
	return claims.Identity(), nil
}

func (r JWTResolver) isRevoked(ctx context.Context, token string) bool {
	if r.Revoked == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	n, err := r.Revoked.Exists(ctx, revokedPrefix+token).Result()
	if err != nil {
		// fail open
		Sugar.Warnf("revocation check failed: %v", err)
		return false
	}
	return n > 0
}

// RevokeToken adds token to the revocation list until expiresAt.
func RevokeToken(ctx context.Context, rc redis.Cmdable, token string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return rc.Set(ctx, revokedPrefix+token, "1", ttl).Err()
}
