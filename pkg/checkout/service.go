// Package checkout orchestrates subscription checkout: it resolves the
// caller's billing customer, creating one on first purchase, and opens a
// provider-hosted checkout session.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garagebook/billing-api/pkg/identity"
	"github.com/garagebook/billing-api/pkg/observability"
	"github.com/garagebook/billing-api/pkg/payments"
	"github.com/garagebook/billing-api/pkg/plans"
	"github.com/garagebook/billing-api/pkg/profile"
)

// ErrInvalidRequest indicates the request is malformed or references an
// unknown plan. Surfaces as 400.
var ErrInvalidRequest = errors.New("invalid request")

// Request is the checkout session request body. Either priceId or plan is
// required; plan names resolve through the catalog.
type Request struct {
	PriceID    string `json:"priceId"`
	Plan       string `json:"plan"`
	SuccessURL string `json:"successUrl,omitempty"`
	CancelURL  string `json:"cancelUrl,omitempty"`
}

// Result is the created checkout session
type Result struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
}

// URLDefaults are the configured success/cancel URLs used when the request
// omits them
type URLDefaults struct {
	SuccessURL string
	CancelURL  string
}

// Service orchestrates checkout session creation
type Service struct {
	store    profile.Store
	provider payments.Provider
	catalog  *plans.Catalog
	defaults URLDefaults
	metrics  *observability.Metrics
}

// NewService creates the checkout service. Metrics may be nil.
func NewService(store profile.Store, provider payments.Provider, catalog *plans.Catalog, defaults URLDefaults, metrics *observability.Metrics) *Service {
	return &Service{
		store:    store,
		provider: provider,
		catalog:  catalog,
		defaults: defaults,
		metrics:  metrics,
	}
}

// CreateSession runs the checkout flow for an authenticated caller:
// resolve the price, ensure a billing customer exists, create the session.
//
// Customer creation and the profile write are not transactional with
// session creation. The profile write is fill-once; when two requests race,
// the first write wins and the loser re-reads the winning customer id. A
// losing request leaves its freshly created provider customer orphaned,
// which the reconcile sweep picks up later.
func (s *Service) CreateSession(ctx context.Context, caller *identity.Identity, req Request) (*Result, error) {
	start := time.Now()

	result, err := s.createSession(ctx, caller, req)
	s.record(start, err)
	return result, err
}

func (s *Service) createSession(ctx context.Context, caller *identity.Identity, req Request) (*Result, error) {
	priceID, err := s.resolvePrice(req)
	if err != nil {
		return nil, err
	}

	customerID, err := s.resolveCustomer(ctx, caller)
	if err != nil {
		return nil, err
	}

	successURL := req.SuccessURL
	if successURL == "" {
		successURL = s.defaults.SuccessURL
	}
	cancelURL := req.CancelURL
	if cancelURL == "" {
		cancelURL = s.defaults.CancelURL
	}

	session, err := s.provider.CreateCheckoutSession(ctx, payments.SessionParams{
		CustomerID: customerID,
		PriceID:    priceID,
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		UserID:     caller.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	return &Result{
		SessionID: session.ID,
		URL:       session.URL,
	}, nil
}

func (s *Service) resolvePrice(req Request) (string, error) {
	if req.PriceID != "" {
		return req.PriceID, nil
	}
	if req.Plan != "" {
		priceID, err := s.catalog.ResolvePriceID(req.Plan)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		return priceID, nil
	}
	return "", fmt.Errorf("%w: priceId is required", ErrInvalidRequest)
}

// resolveCustomer returns the caller's billing customer id, creating the
// provider customer on first use.
func (s *Service) resolveCustomer(ctx context.Context, caller *identity.Identity) (string, error) {
	customerID, err := s.store.GetBillingCustomerID(ctx, caller.UserID)
	if err != nil && !errors.Is(err, profile.ErrNotFound) {
		return "", fmt.Errorf("failed to load billing profile: %w", err)
	}
	if customerID != "" {
		return customerID, nil
	}

	customer, err := s.provider.CreateCustomer(ctx, payments.CustomerParams{
		Email:  caller.Email,
		UserID: caller.UserID,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create customer: %w", err)
	}
	if s.metrics != nil {
		s.metrics.CustomersCreatedTotal.Inc()
	}

	won, err := s.store.SetBillingCustomerID(ctx, caller.UserID, customer.ID)
	if err != nil {
		return "", fmt.Errorf("failed to persist customer id: %w", err)
	}
	if won {
		return customer.ID, nil
	}

	// Lost the fill-once race: another request persisted its customer
	// first. Use the winner's id; our customer stays orphaned at the
	// provider until the reconcile sweep.
	winnerID, err := s.store.GetBillingCustomerID(ctx, caller.UserID)
	if err != nil {
		return "", fmt.Errorf("failed to re-read customer id after lost race: %w", err)
	}
	if winnerID == "" {
		return customer.ID, nil
	}
	return winnerID, nil
}

func (s *Service) record(start time.Time, err error) {
	if s.metrics == nil {
		return
	}

	outcome := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidRequest):
		outcome = "bad_request"
	default:
		outcome = "error"
	}

	s.metrics.CheckoutSessionsTotal.WithLabelValues(outcome).Inc()
	s.metrics.CheckoutSessionDuration.Observe(time.Since(start).Seconds())
}
