package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garagebook/billing-api/pkg/payments"
	"github.com/garagebook/billing-api/pkg/plans"
	"github.com/garagebook/billing-api/pkg/profile"
)

// mockProvider implements payments.Provider for webhook verification
type mockProvider struct {
	verifyFunc func(payload []byte, sigHeader string) (*payments.Event, error)
}

func (m *mockProvider) CreateCustomer(ctx context.Context, params payments.CustomerParams) (*payments.Customer, error) {
	return nil, errors.New("not implemented")
}

func (m *mockProvider) CreateCheckoutSession(ctx context.Context, params payments.SessionParams) (*payments.Session, error) {
	return nil, errors.New("not implemented")
}

func (m *mockProvider) VerifyWebhook(payload []byte, sigHeader string) (*payments.Event, error) {
	return m.verifyFunc(payload, sigHeader)
}

func (m *mockProvider) ListCustomersSince(ctx context.Context, since time.Time) ([]payments.Customer, error) {
	return nil, nil
}

// mockStore records subscription updates
type mockStore struct {
	updateFunc func(ctx context.Context, customerID string, update profile.SubscriptionUpdate) error
	updates    []profile.SubscriptionUpdate
	customers  []string
}

func (m *mockStore) GetBillingCustomerID(ctx context.Context, userID string) (string, error) {
	return "", profile.ErrNotFound
}

func (m *mockStore) SetBillingCustomerID(ctx context.Context, userID, customerID string) (bool, error) {
	return false, errors.New("not implemented")
}

func (m *mockStore) GetProfile(ctx context.Context, userID string) (*profile.Profile, error) {
	return nil, profile.ErrNotFound
}

func (m *mockStore) UpdateSubscriptionByCustomer(ctx context.Context, customerID string, update profile.SubscriptionUpdate) error {
	m.customers = append(m.customers, customerID)
	m.updates = append(m.updates, update)
	if m.updateFunc != nil {
		return m.updateFunc(ctx, customerID, update)
	}
	return nil
}

func (m *mockStore) Close() error { return nil }

// mockArchiver records archived payloads
type mockArchiver struct {
	archived []string
	err      error
}

func (m *mockArchiver) Archive(ctx context.Context, event *payments.Event, payload []byte) error {
	m.archived = append(m.archived, event.ID)
	return m.err
}

func verifiedEvent(event *payments.Event) *mockProvider {
	return &mockProvider{
		verifyFunc: func(payload []byte, sigHeader string) (*payments.Event, error) {
			return event, nil
		},
	}
}

func postWebhook(h *Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/webhook", strings.NewReader(body))
	req.Header.Set("Stripe-Signature", "t=1,v1=sig")
	rec := httptest.NewRecorder()
	h.HandleWebhook(rec, req)
	return rec
}

func TestHandleWebhook_InvalidSignature(t *testing.T) {
	provider := &mockProvider{
		verifyFunc: func(payload []byte, sigHeader string) (*payments.Event, error) {
			return nil, payments.ErrInvalidSignature
		},
	}
	handler := NewHandler(provider, &mockStore{}, nil, nil, nil)

	rec := postWebhook(handler, `{}`)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid signature")
}

func TestHandleWebhook_CheckoutCompleted(t *testing.T) {
	event := &payments.Event{
		ID:   "evt_1",
		Type: "checkout.session.completed",
		Data: json.RawMessage(`{"id":"cs_1","customer":"cus_1","subscription":"sub_1"}`),
	}
	store := &mockStore{}
	handler := NewHandler(verifiedEvent(event), store, nil, nil, nil)

	rec := postWebhook(handler, `{}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, store.updates, 1)
	assert.Equal(t, "cus_1", store.customers[0])
	assert.Equal(t, "sub_1", store.updates[0].SubscriptionID)
	assert.Equal(t, "active", store.updates[0].Status)
}

func TestHandleWebhook_SubscriptionUpdated(t *testing.T) {
	catalogPath := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(catalogPath, []byte(`
plans:
  - name: pro
    price_id: price_pro_monthly
    display_name: Pro
`), 0o644))
	catalog, err := plans.NewCatalog(catalogPath, nil)
	require.NoError(t, err)
	defer catalog.Close()

	event := &payments.Event{
		ID:   "evt_2",
		Type: "customer.subscription.updated",
		Data: json.RawMessage(`{
			"id": "sub_1",
			"customer": "cus_1",
			"status": "past_due",
			"items": {"data": [{"price": {"id": "price_pro_monthly"}, "current_period_end": 1789776000}]}
		}`),
	}
	store := &mockStore{}
	handler := NewHandler(verifiedEvent(event), store, catalog, nil, nil)

	rec := postWebhook(handler, `{}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, store.updates, 1)
	update := store.updates[0]
	assert.Equal(t, "sub_1", update.SubscriptionID)
	assert.Equal(t, "past_due", update.Status)
	assert.Equal(t, "pro", update.Plan)
	require.NotNil(t, update.CurrentPeriodEnd)
	assert.Equal(t, int64(1789776000), update.CurrentPeriodEnd.Unix())
}

func TestHandleWebhook_SubscriptionDeleted(t *testing.T) {
	event := &payments.Event{
		ID:   "evt_3",
		Type: "customer.subscription.deleted",
		Data: json.RawMessage(`{"id":"sub_1","customer":"cus_1","status":"canceled"}`),
	}
	store := &mockStore{}
	handler := NewHandler(verifiedEvent(event), store, nil, nil, nil)

	rec := postWebhook(handler, `{}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, store.updates, 1)
	assert.Equal(t, "canceled", store.updates[0].Status)
}

func TestHandleWebhook_UnknownCustomerAcknowledged(t *testing.T) {
	event := &payments.Event{
		ID:   "evt_4",
		Type: "checkout.session.completed",
		Data: json.RawMessage(`{"id":"cs_1","customer":"cus_orphan","subscription":"sub_1"}`),
	}
	store := &mockStore{
		updateFunc: func(ctx context.Context, customerID string, update profile.SubscriptionUpdate) error {
			return profile.ErrNotFound
		},
	}
	handler := NewHandler(verifiedEvent(event), store, nil, nil, nil)

	rec := postWebhook(handler, `{}`)

	// acknowledged so the provider stops retrying; the sweep back-fills
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleWebhook_StoreFailureTriggersRetry(t *testing.T) {
	event := &payments.Event{
		ID:   "evt_5",
		Type: "checkout.session.completed",
		Data: json.RawMessage(`{"id":"cs_1","customer":"cus_1","subscription":"sub_1"}`),
	}
	store := &mockStore{
		updateFunc: func(ctx context.Context, customerID string, update profile.SubscriptionUpdate) error {
			return errors.New("connection refused")
		},
	}
	handler := NewHandler(verifiedEvent(event), store, nil, nil, nil)

	rec := postWebhook(handler, `{}`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleWebhook_UnhandledTypeAcknowledged(t *testing.T) {
	event := &payments.Event{
		ID:   "evt_6",
		Type: "invoice.paid",
		Data: json.RawMessage(`{}`),
	}
	store := &mockStore{}
	handler := NewHandler(verifiedEvent(event), store, nil, nil, nil)

	rec := postWebhook(handler, `{}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, store.updates)
}

func TestHandleWebhook_Archiving(t *testing.T) {
	event := &payments.Event{
		ID:   "evt_7",
		Type: "invoice.paid",
		Data: json.RawMessage(`{}`),
	}

	t.Run("payload archived", func(t *testing.T) {
		archiver := &mockArchiver{}
		handler := NewHandler(verifiedEvent(event), &mockStore{}, nil, archiver, nil)

		rec := postWebhook(handler, `{}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, []string{"evt_7"}, archiver.archived)
	})

	t.Run("archive failure does not block processing", func(t *testing.T) {
		archiver := &mockArchiver{err: errors.New("bucket unavailable")}
		handler := NewHandler(verifiedEvent(event), &mockStore{}, nil, archiver, nil)

		rec := postWebhook(handler, `{}`)

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestArchiveKey(t *testing.T) {
	event := &payments.Event{ID: "evt_1"}
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "events/2026-08-23/evt_1.json", archiveKey(event, now))
}
