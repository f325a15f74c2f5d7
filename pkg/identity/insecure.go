package identity

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// InsecureVerifier parses JWT claims without verifying the signature.
// Local development only; it lets the service run without a reachable
// OIDC issuer.
type InsecureVerifier struct{}

// NewInsecureVerifier creates a verifier that trusts any well-formed JWT
func NewInsecureVerifier() *InsecureVerifier {
	return &InsecureVerifier{}
}

// Verify decodes the token payload and maps it to an Identity
func (v *InsecureVerifier) Verify(ctx context.Context, rawToken string) (*Identity, error) {
	if rawToken == "" {
		return nil, ErrInvalidToken
	}

	parts := strings.Split(rawToken, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: malformed JWT", ErrInvalidToken)
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, invalidToken(err)
	}

	var claims struct {
		Subject string `json:"sub"`
		Email   string `json:"email"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, invalidToken(err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", ErrInvalidToken)
	}

	return &Identity{
		UserID: claims.Subject,
		Email:  claims.Email,
	}, nil
}
