// Package api assembles the HTTP server: routing, middleware ordering, and
// the /api/v1 surface.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/garagebook/billing-api/pkg/checkout"
	"github.com/garagebook/billing-api/pkg/httputil"
	"github.com/garagebook/billing-api/pkg/identity"
	"github.com/garagebook/billing-api/pkg/middleware"
	"github.com/garagebook/billing-api/pkg/observability"
	"github.com/garagebook/billing-api/pkg/webhooks"
)

// Options carries the collaborators the server routes to
type Options struct {
	Checkout *checkout.Handler
	Webhooks *webhooks.Handler
	Verifier identity.Verifier
	// RateLimiter is optional; nil disables rate limiting.
	RateLimiter *middleware.RateLimiter
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	// MaxBodyBytes caps request bodies. Zero means no cap.
	MaxBodyBytes int64
}

// Server is the public HTTP API
type Server struct {
	router *mux.Router
	logger *observability.Logger
}

// NewServer wires the routing table and middleware chain
func NewServer(opts Options) *Server {
	s := &Server{
		router: mux.NewRouter(),
		logger: opts.Logger,
	}

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteErrorMessage(w, http.StatusNotFound, "not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteMethodNotAllowed(w, "method not allowed")
	})

	s.router.Use(httputil.RequestIDMiddleware)
	s.router.Use(httputil.RecoveryMiddleware(opts.Logger))
	s.router.Use(httputil.LoggingMiddleware(opts.Logger))
	if opts.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(opts.Metrics))
	}
	if opts.MaxBodyBytes > 0 {
		s.router.Use(httputil.MaxBytesMiddleware(opts.MaxBodyBytes))
	}

	v1 := s.router.PathPrefix("/api/v1").Subrouter()

	// The webhook route authenticates by payload signature, not bearer
	// token, so it stays outside the auth chain.
	opts.Webhooks.RegisterRoutes(v1)

	authed := v1.NewRoute().Subrouter()
	authed.Use(middleware.AuthMiddleware(opts.Verifier))
	if opts.RateLimiter != nil {
		authed.Use(opts.RateLimiter.Middleware)
	}
	opts.Checkout.RegisterRoutes(authed)

	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// HTTPServer builds an http.Server with the given listen address and timeouts
func (s *Server) HTTPServer(host, port string, readTimeout, writeTimeout, idleTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%s", host, port),
		Handler:      s,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
}
