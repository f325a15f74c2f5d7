package identity

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDCVerifier verifies ID tokens against an OIDC issuer
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers the issuer's configuration and builds a verifier
// for tokens issued to the given client
func NewOIDCVerifier(ctx context.Context, issuerURL, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}

	verifier := provider.Verifier(&oidc.Config{
		ClientID: clientID,
	})

	return &OIDCVerifier{verifier: verifier}, nil
}

// Verify validates the raw token's signature, issuer, audience and expiry,
// then maps it to an Identity
func (v *OIDCVerifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	if rawToken == "" {
		return nil, ErrInvalidToken
	}

	idToken, err := v.verifier.Verify(ctx, rawToken)
	if err != nil {
		return nil, invalidToken(err)
	}

	var claims struct {
		Email string `json:"email"`
	}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("failed to parse claims: %w", err)
	}

	if idToken.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}

	return &Identity{
		UserID: idToken.Subject,
		Email:  claims.Email,
	}, nil
}
