// Package identity resolves bearer credentials presented by the mobile app
// into an authenticated user identity.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Identity is the authenticated caller of a request
type Identity struct {
	// UserID is the stable user identifier (the token subject)
	UserID string
	// Email may be empty when the identity provider omits the claim
	Email string
}

// Verifier validates a raw bearer credential and resolves the caller
type Verifier interface {
	Verify(ctx context.Context, rawToken string) (*Identity, error)
}

// ErrInvalidToken indicates the credential failed verification
var ErrInvalidToken = errors.New("invalid token")

// ParseBearer extracts the credential from an Authorization header value.
// Returns an empty string when the header is missing or not a Bearer scheme.
func ParseBearer(authHeader string) string {
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

type contextKey struct{}

// NewContext returns a context carrying the authenticated identity
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the authenticated identity, if any
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	return id, ok && id != nil
}

// VerifierFunc adapts a function to the Verifier interface
type VerifierFunc func(ctx context.Context, rawToken string) (*Identity, error)

// Verify implements Verifier
func (f VerifierFunc) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	return f(ctx, rawToken)
}

func invalidToken(err error) error {
	return fmt.Errorf("%w: %v", ErrInvalidToken, err)
}
