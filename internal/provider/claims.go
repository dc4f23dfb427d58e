package provider

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the access token claims issued by the identity provider.
type Claims struct {
	jwt.RegisteredClaims
	Email     string `json:"email,omitempty"`
	Role      string `json:"role,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	AAL       string `json:"aal,omitempty"`
}

// ParseClaims decodes the access token claims without verifying the signature.
// Verification is the provider's job; the claims are only used to schedule refreshes.
func ParseClaims(accessToken string) (*Claims, error) {
	if accessToken == "" {
		return nil, ErrMissingToken
	}

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return nil, fmt.Errorf("failed to parse access token: %w", err)
	}

	return claims, nil
}
