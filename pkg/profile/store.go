// Package profile persists billing profiles: the mapping from an app user
// to their payments customer and subscription state.
package profile

import (
	"context"
	"errors"
	"time"
)

// Profile is a user's billing state
type Profile struct {
	UserID             string
	BillingCustomerID  string
	SubscriptionID     string
	SubscriptionStatus string
	Plan               string
	CurrentPeriodEnd   *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// SubscriptionUpdate carries the subscription fields synced from webhook events
type SubscriptionUpdate struct {
	SubscriptionID   string
	Status           string
	Plan             string
	CurrentPeriodEnd *time.Time
}

// ErrNotFound indicates no billing profile exists for the lookup key
var ErrNotFound = errors.New("billing profile not found")

// Store persists billing profiles.
//
// SetBillingCustomerID is a fill-once write: the first writer for a user
// wins and later writes are no-ops. A filled customer id never changes.
type Store interface {
	// GetBillingCustomerID returns the user's payments customer id, an
	// empty string when the profile exists but has no customer yet, or
	// ErrNotFound when no profile row exists.
	GetBillingCustomerID(ctx context.Context, userID string) (string, error)

	// SetBillingCustomerID records the customer id if none is set,
	// creating the profile row when absent. Returns true when this call
	// performed the write, false when another writer filled it first.
	SetBillingCustomerID(ctx context.Context, userID, customerID string) (bool, error)

	// GetProfile returns the full billing profile or ErrNotFound.
	GetProfile(ctx context.Context, userID string) (*Profile, error)

	// UpdateSubscriptionByCustomer syncs subscription state onto the
	// profile owning the given customer id. Returns ErrNotFound when no
	// profile carries that customer id.
	UpdateSubscriptionByCustomer(ctx context.Context, customerID string, update SubscriptionUpdate) error

	// Close releases the underlying resources.
	Close() error
}
