// Package payments abstracts the payments provider behind an interface so
// the checkout flow and webhook receiver can be tested without network calls.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Customer is a payments-provider customer
type Customer struct {
	ID    string
	Email string
	// UserID is the app user the customer was created for, carried in
	// provider metadata.
	UserID string
	// Created is the provider-side creation time.
	Created time.Time
}

// CustomerParams are the inputs for creating a customer
type CustomerParams struct {
	Email  string
	UserID string
}

// SessionParams are the inputs for creating a subscription checkout session
type SessionParams struct {
	CustomerID string
	PriceID    string
	SuccessURL string
	CancelURL  string
	UserID     string
}

// Session is a created checkout session
type Session struct {
	ID  string
	URL string
}

// Event is a verified webhook event
type Event struct {
	ID   string
	Type string
	Data json.RawMessage
}

// ErrInvalidSignature indicates a webhook payload failed signature verification
var ErrInvalidSignature = errors.New("invalid webhook signature")

// Provider is the payments backend
type Provider interface {
	// CreateCustomer creates a provider customer tagged with the app user id.
	CreateCustomer(ctx context.Context, params CustomerParams) (*Customer, error)

	// CreateCheckoutSession creates a subscription-mode checkout session.
	CreateCheckoutSession(ctx context.Context, params SessionParams) (*Session, error)

	// VerifyWebhook checks the payload signature and parses the event.
	VerifyWebhook(payload []byte, sigHeader string) (*Event, error)

	// ListCustomersSince lists customers created after the given time,
	// for reconciling profiles whose customer write was lost.
	ListCustomersSince(ctx context.Context, since time.Time) ([]Customer, error)
}
