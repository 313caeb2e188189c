package sdk

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/mitchellh/mapstructure"
)

// AccessTokenClaims are the access-token claims the client cares about. The
// server signs the token; the client only reads it to schedule refreshes.
type AccessTokenClaims struct {
	Subject   string  `mapstructure:"sub"`
	IssuedAt  float64 `mapstructure:"iat"`
	ExpiresAt float64 `mapstructure:"exp"`
}

// Expiry returns the expiration time, zero when the token has no exp claim.
func (c AccessTokenClaims) Expiry() time.Time {
	if c.ExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(int64(c.ExpiresAt), 0)
}

// ParseAccessTokenClaims decodes the claims of a JWT without verifying its
// signature.
func ParseAccessTokenClaims(token string) (AccessTokenClaims, error) {
	var claims AccessTokenClaims

	mapClaims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, mapClaims); err != nil {
		return claims, fmt.Errorf("parse access token: %w", err)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &claims,
	})
	if err != nil {
		return claims, fmt.Errorf("create claims decoder: %w", err)
	}
	if err := decoder.Decode(map[string]interface{}(mapClaims)); err != nil {
		return claims, fmt.Errorf("decode access token claims: %w", err)
	}
	return claims, nil
}
