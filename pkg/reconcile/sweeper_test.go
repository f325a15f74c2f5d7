package reconcile

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garagebook/billing-api/pkg/observability"
	"github.com/garagebook/billing-api/pkg/payments"
	"github.com/garagebook/billing-api/pkg/profile"
)

type mockProvider struct {
	listFunc func(ctx context.Context, since time.Time) ([]payments.Customer, error)
}

func (m *mockProvider) CreateCustomer(ctx context.Context, params payments.CustomerParams) (*payments.Customer, error) {
	return nil, errors.New("not implemented")
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, params payments.SessionParams) (*payments.Session, error) {
	return nil, errors.New("not implemented")
}

func (m *mockProvider) VerifyWebhook(payload []byte, sigHeader string) (*payments.Event, error) {
	return nil, errors.New("not implemented")
}

func (m *mockProvider) ListCustomersSince(ctx context.Context, since time.Time) ([]payments.Customer, error) {
	return m.listFunc(ctx, since)
}

type setCall struct {
	userID     string
	customerID string
}

type mockStore struct {
	setFunc func(ctx context.Context, userID, customerID string) (bool, error)
	calls   []setCall
}

func (m *mockStore) GetBillingCustomerID(ctx context.Context, userID string) (string, error) {
	return "", profile.ErrNotFound
}

func (m *mockStore) SetBillingCustomerID(ctx context.Context, userID, customerID string) (bool, error) {
	m.calls = append(m.calls, setCall{userID: userID, customerID: customerID})
	if m.setFunc != nil {
		return m.setFunc(ctx, userID, customerID)
	}
	return true, nil
}

func (m *mockStore) GetProfile(ctx context.Context, userID string) (*profile.Profile, error) {
	return nil, profile.ErrNotFound
}

func (m *mockStore) UpdateSubscriptionByCustomer(ctx context.Context, customerID string, update profile.SubscriptionUpdate) error {
	return errors.New("not implemented")
}

func (m *mockStore) Close() error { return nil }

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

func TestSweep(t *testing.T) {
	t.Run("back-fills tagged customers", func(t *testing.T) {
		provider := &mockProvider{
			listFunc: func(ctx context.Context, since time.Time) ([]payments.Customer, error) {
				return []payments.Customer{
					{ID: "cus_1", UserID: "u1"},
					{ID: "cus_2", UserID: "u2"},
				}, nil
			},
		}
		store := &mockStore{}

		NewSweeper(provider, store, testLogger(), 24*time.Hour).Sweep(context.Background())

		require.Len(t, store.calls, 2)
		assert.Equal(t, setCall{userID: "u1", customerID: "cus_1"}, store.calls[0])
		assert.Equal(t, setCall{userID: "u2", customerID: "cus_2"}, store.calls[1])
	})

	t.Run("skips customers without a user id", func(t *testing.T) {
		provider := &mockProvider{
			listFunc: func(ctx context.Context, since time.Time) ([]payments.Customer, error) {
				return []payments.Customer{
					{ID: "cus_manual"},
					{ID: "cus_1", UserID: "u1"},
				}, nil
			},
		}
		store := &mockStore{}

		NewSweeper(provider, store, testLogger(), 24*time.Hour).Sweep(context.Background())

		require.Len(t, store.calls, 1)
		assert.Equal(t, "u1", store.calls[0].userID)
	})

	t.Run("lost fill-once write is not an error", func(t *testing.T) {
		provider := &mockProvider{
			listFunc: func(ctx context.Context, since time.Time) ([]payments.Customer, error) {
				return []payments.Customer{{ID: "cus_1", UserID: "u1"}}, nil
			},
		}
		store := &mockStore{
			setFunc: func(ctx context.Context, userID, customerID string) (bool, error) {
				return false, nil
			},
		}

		NewSweeper(provider, store, testLogger(), 24*time.Hour).Sweep(context.Background())

		assert.Len(t, store.calls, 1)
	})

	t.Run("store failure on one customer does not stop the sweep", func(t *testing.T) {
		provider := &mockProvider{
			listFunc: func(ctx context.Context, since time.Time) ([]payments.Customer, error) {
				return []payments.Customer{
					{ID: "cus_1", UserID: "u1"},
					{ID: "cus_2", UserID: "u2"},
				}, nil
			},
		}
		store := &mockStore{
			setFunc: func(ctx context.Context, userID, customerID string) (bool, error) {
				if userID == "u1" {
					return false, errors.New("connection refused")
				}
				return true, nil
			},
		}

		NewSweeper(provider, store, testLogger(), 24*time.Hour).Sweep(context.Background())

		assert.Len(t, store.calls, 2)
	})

	t.Run("list failure aborts the sweep", func(t *testing.T) {
		provider := &mockProvider{
			listFunc: func(ctx context.Context, since time.Time) ([]payments.Customer, error) {
				return nil, errors.New("provider unavailable")
			},
		}
		store := &mockStore{}

		NewSweeper(provider, store, testLogger(), 24*time.Hour).Sweep(context.Background())

		assert.Empty(t, store.calls)
	})

	t.Run("lookback bounds the listing window", func(t *testing.T) {
		var gotSince time.Time
		provider := &mockProvider{
			listFunc: func(ctx context.Context, since time.Time) ([]payments.Customer, error) {
				gotSince = since
				return nil, nil
			},
		}

		NewSweeper(provider, &mockStore{}, testLogger(), time.Hour).Sweep(context.Background())

		assert.WithinDuration(t, time.Now().Add(-time.Hour), gotSince, time.Minute)
	})
}
