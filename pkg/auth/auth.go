// Package auth checks the shared API key and names the calling principal.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
)

var (
	ErrMissingKey    = errors.New("API key is required. Use X-API-Key header or Authorization: Bearer <api_key>")
	ErrInvalidKey    = errors.New("invalid API key")
	ErrNotConfigured = errors.New("server API key not configured")
)

// Principal is the authenticated caller. Subject is a masked form of the key
// and is safe to log and persist.
type Principal struct {
	Subject string
}

type Authenticator interface {
	Authenticate(r *http.Request) (Principal, error)
}

// KeyAuthenticator accepts one static API key.
type KeyAuthenticator struct {
	Key string
}

func NewKeyAuthenticator(key string) *KeyAuthenticator {
	return &KeyAuthenticator{Key: strings.TrimSpace(key)}
}

func (a *KeyAuthenticator) Authenticate(r *http.Request) (Principal, error) {
	if a.Key == "" {
		return Principal{}, ErrNotConfigured
	}
	provided := extractAPIKey(r)
	if provided == "" {
		return Principal{}, ErrMissingKey
	}
	if subtle.ConstantTimeCompare([]byte(a.Key), []byte(provided)) != 1 {
		return Principal{}, ErrInvalidKey
	}
	return Principal{Subject: Mask(provided)}, nil
}

// Mask keeps the first eight characters of a key.
func Mask(key string) string {
	if len(key) <= 8 {
		return key[:len(key)/2] + "..."
	}
	return key[:8] + "..."
}

func extractAPIKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get("X-API-Key")); key != "" {
		return key
	}
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > len("Bearer ") && strings.EqualFold(auth[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	return ""
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
