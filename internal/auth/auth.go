// Package auth verifies the bearer tokens presented to the control plane
// and carries the resulting identity through request contexts.
package auth

import (
	"context"
	"errors"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
	ErrUnauthorized = errors.New("unauthorized")
)

// Identity represents an authenticated caller's claims.
type Identity struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	// Company is the name of the caller's tenant. It may arrive encrypted
	// by the upstream identity provider.
	Company       string   `json:"company"`
	Email         string   `json:"email"`
	Roles         []string `json:"roles"`
	PlatformAdmin bool     `json:"platform_admin"`
	TokenType     string   `json:"token_type"`
}

type identityContextKey struct{}

// WithIdentity returns a copy of ctx carrying identity.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// GetIdentity retrieves the authenticated identity from the request context.
func GetIdentity(ctx context.Context) *Identity {
	identity, _ := ctx.Value(identityContextKey{}).(*Identity)
	return identity
}
