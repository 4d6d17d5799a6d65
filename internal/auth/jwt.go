package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessTokenDuration is the lifetime of tokens minted by GenerateAccessToken
// when no explicit lifetime is given.
const AccessTokenDuration = 15 * time.Minute

const tokenTypeAccess = "access"

type Claims struct {
	LearnerID string `json:"learnerId"`
	TokenType string `json:"type"`
	jwt.RegisteredClaims
}

// GenerateAccessToken mints a learner access token. Real tokens come from the
// identity service; this exists for development and tests.
func GenerateAccessToken(secret, learnerID string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = AccessTokenDuration
	}
	now := time.Now()
	claims := &Claims{
		LearnerID: learnerID,
		TokenType: tokenTypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   learnerID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ValidateToken(secret string, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if claims.LearnerID == "" {
		claims.LearnerID = claims.Subject
	}
	return claims, nil
}
