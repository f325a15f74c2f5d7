// Package middleware provides HTTP middleware for authentication and
// rate limiting on the API surface.
package middleware

import (
	"net/http"

	"github.com/garagebook/billing-api/pkg/httputil"
	"github.com/garagebook/billing-api/pkg/identity"
	"github.com/garagebook/billing-api/pkg/observability"
)

// AuthMiddleware verifies the bearer token on every request and places the
// resolved identity on the request context. Requests without a valid token
// are rejected with 401.
func AuthMiddleware(verifier identity.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := identity.ParseBearer(r.Header.Get("Authorization"))
			if token == "" {
				httputil.WriteUnauthorized(w, "missing or malformed authorization header")
				return
			}

			caller, err := verifier.Verify(r.Context(), token)
			if err != nil {
				logger := observability.FromContext(r.Context())
				logger.WithError(err).Warn("Token verification failed")
				httputil.WriteUnauthorized(w, "invalid token")
				return
			}

			ctx := identity.NewContext(r.Context(), caller)
			ctx = observability.WithUserID(ctx, caller.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
