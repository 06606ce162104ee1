package controllers

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// GenerateAdminToken signs an HS256 token accepted by the /admin group.
func GenerateAdminToken(subject, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   subject,
		"admin": true,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	})
	return token.SignedString([]byte(secret))
}
