// Package token extracts metadata from access tokens without verifying
// them. Signature verification belongs to the issuing backend; local
// processes only need the embedded expiry claim to schedule refreshes.
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoExpiry indicates the access token carries no exp claim.
var ErrNoExpiry = errors.New("access token has no exp claim")

// ExpiryFromAccessToken decodes the exp claim of a JWT access token.
// The token is parsed unverified: a token we cannot decode is unusable
// for scheduling regardless of whether its signature holds.
func ExpiryFromAccessToken(accessToken string) (time.Time, error) {
	if accessToken == "" {
		return time.Time{}, errors.New("access token is empty")
	}

	claims := &jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse access token: %w", err)
	}

	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}

	return claims.ExpiresAt.Time, nil
}
