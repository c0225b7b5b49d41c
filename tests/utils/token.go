package testutil

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"order-board/api"
)

// TestToken returns a signed JWT accepted by board-api in test mode.
func TestToken(tenantID, userID string) (string, error) {
	secret := os.Getenv("TEST_JWT_SECRET")
	if secret == "" {
		return "", errors.New("TEST_JWT_SECRET must be set")
	}
	return SignToken(secret, tenantID, userID, time.Hour)
}

// SignToken signs an HS256 token carrying the tenant claim.
func SignToken(secret, tenantID, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":           userID,
		api.TenantClaim: tenantID,
		"iat":           now.Unix(),
		"exp":           now.Add(ttl).Unix(),
	})
	return token.SignedString([]byte(secret))
}
