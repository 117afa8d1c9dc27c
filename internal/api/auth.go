package api

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// issueToken signs a device token. Tokens are HS256 with the device id as
// subject; the replica trusts any bearer whose signature and expiry check out.
func (s *Server) issueToken(deviceID string, now time.Time) (string, time.Time, error) {
	expires := now.Add(s.config.TokenTTL)
	claims := jwt.MapClaims{
		"sub": deviceID,
		"iat": now.Unix(),
		"exp": expires.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.config.JWTSecret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// verifyToken validates a bearer token and returns its device id.
func (s *Server) verifyToken(tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.config.JWTSecret, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token claims")
	}
	deviceID, ok := claims["sub"].(string)
	if !ok || deviceID == "" {
		return "", fmt.Errorf("token missing device id")
	}
	return deviceID, nil
}
