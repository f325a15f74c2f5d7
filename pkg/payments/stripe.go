package payments

import (
	"context"
	"fmt"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/webhook"
)

// UserIDMetadataKey tags provider objects with the app user they belong to.
// Webhook reconciliation and the orphan sweep both key off it.
const UserIDMetadataKey = "app_user_id"

// StripeProvider implements Provider against the Stripe API
type StripeProvider struct {
	webhookSecret string
}

// NewStripeProvider configures the Stripe SDK with the account's secret key
func NewStripeProvider(secretKey, webhookSecret string) *StripeProvider {
	stripe.Key = secretKey
	return &StripeProvider{webhookSecret: webhookSecret}
}

// CreateCustomer creates a Stripe customer tagged with the app user id
func (p *StripeProvider) CreateCustomer(ctx context.Context, params CustomerParams) (*Customer, error) {
	if params.UserID == "" {
		return nil, fmt.Errorf("user id is required")
	}

	customerParams := &stripe.CustomerParams{
		Metadata: map[string]string{
			UserIDMetadataKey: params.UserID,
		},
	}
	if params.Email != "" {
		customerParams.Email = stripe.String(params.Email)
	}
	customerParams.Context = ctx

	stripeCustomer, err := customer.New(customerParams)
	if err != nil {
		return nil, wrapStripeError(err)
	}

	return &Customer{
		ID:      stripeCustomer.ID,
		Email:   stripeCustomer.Email,
		UserID:  params.UserID,
		Created: time.Unix(stripeCustomer.Created, 0),
	}, nil
}

// CreateCheckoutSession creates a subscription-mode checkout session. The
// app user id rides in both session and subscription metadata so webhook
// events can be traced back to the user.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, params SessionParams) (*Session, error) {
	sessionParams := buildSessionParams(params)
	sessionParams.Context = ctx

	stripeSession, err := session.New(sessionParams)
	if err != nil {
		return nil, wrapStripeError(err)
	}

	return &Session{
		ID:  stripeSession.ID,
		URL: stripeSession.URL,
	}, nil
}

func buildSessionParams(params SessionParams) *stripe.CheckoutSessionParams {
	return &stripe.CheckoutSessionParams{
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer: stripe.String(params.CustomerID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(params.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(params.SuccessURL),
		CancelURL:  stripe.String(params.CancelURL),
		Metadata: map[string]string{
			UserIDMetadataKey: params.UserID,
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{
				UserIDMetadataKey: params.UserID,
			},
		},
	}
}

// VerifyWebhook checks the Stripe signature header and parses the event.
// API version mismatches are tolerated so SDK upgrades don't drop events.
func (p *StripeProvider) VerifyWebhook(payload []byte, sigHeader string) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, p.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	return &Event{
		ID:   event.ID,
		Type: string(event.Type),
		Data: event.Data.Raw,
	}, nil
}

// ListCustomersSince lists customers created after the given time. Customers
// without an app user id tag are skipped.
func (p *StripeProvider) ListCustomersSince(ctx context.Context, since time.Time) ([]Customer, error) {
	params := &stripe.CustomerListParams{
		CreatedRange: &stripe.RangeQueryParams{
			GreaterThan: since.Unix(),
		},
	}
	params.Limit = stripe.Int64(100)
	params.Context = ctx

	var customers []Customer
	iter := customer.List(params)
	for iter.Next() {
		stripeCustomer := iter.Customer()
		userID := stripeCustomer.Metadata[UserIDMetadataKey]
		if userID == "" {
			continue
		}
		customers = append(customers, Customer{
			ID:      stripeCustomer.ID,
			Email:   stripeCustomer.Email,
			UserID:  userID,
			Created: time.Unix(stripeCustomer.Created, 0),
		})
	}
	if err := iter.Err(); err != nil {
		return nil, wrapStripeError(err)
	}

	return customers, nil
}

// StripeError carries the provider's error details
type StripeError struct {
	Message       string
	Code          string
	RequestID     string
	OriginalError error
}

func (e *StripeError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe: %s (code=%s, request=%s)", e.Message, e.Code, e.RequestID)
	}
	return fmt.Sprintf("stripe: %s", e.Message)
}

func (e *StripeError) Unwrap() error {
	return e.OriginalError
}

func wrapStripeError(err error) error {
	if err == nil {
		return nil
	}

	stripeErr, ok := err.(*stripe.Error)
	if !ok {
		return err
	}

	return &StripeError{
		Message:       stripeErr.Msg,
		Code:          string(stripeErr.Code),
		RequestID:     stripeErr.RequestID,
		OriginalError: err,
	}
}
