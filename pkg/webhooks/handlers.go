// Package webhooks receives payment-provider webhook events and syncs
// subscription state onto billing profiles.
package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/garagebook/billing-api/pkg/httputil"
	"github.com/garagebook/billing-api/pkg/observability"
	"github.com/garagebook/billing-api/pkg/payments"
	"github.com/garagebook/billing-api/pkg/plans"
	"github.com/garagebook/billing-api/pkg/profile"
)

// Archiver stores raw webhook payloads for audit and replay
type Archiver interface {
	Archive(ctx context.Context, event *payments.Event, payload []byte) error
}

// Handler exposes the webhook endpoint
type Handler struct {
	provider payments.Provider
	store    profile.Store
	catalog  *plans.Catalog
	archiver Archiver
	metrics  *observability.Metrics
}

// NewHandler creates the webhook handler. Archiver and metrics may be nil.
func NewHandler(provider payments.Provider, store profile.Store, catalog *plans.Catalog, archiver Archiver, metrics *observability.Metrics) *Handler {
	return &Handler{
		provider: provider,
		store:    store,
		catalog:  catalog,
		archiver: archiver,
		metrics:  metrics,
	}
}

// RegisterRoutes registers the webhook endpoint on the router
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/billing/webhook", h.HandleWebhook).Methods(http.MethodPost)
}

func (h *Handler) record(eventType, status string) {
	if h.metrics != nil {
		h.metrics.WebhookEventsTotal.WithLabelValues(eventType, status).Inc()
	}
}

// checkoutSessionObject is the slice of the checkout.session payload we need
type checkoutSessionObject struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
}

// subscriptionObject is the slice of the subscription payload we need
type subscriptionObject struct {
	ID               string `json:"id"`
	Customer         string `json:"customer"`
	Status           string `json:"status"`
	CurrentPeriodEnd int64  `json:"current_period_end"`
	Items            struct {
		Data []struct {
			Price struct {
				ID string `json:"id"`
			} `json:"price"`
			CurrentPeriodEnd int64 `json:"current_period_end"`
		} `json:"data"`
	} `json:"items"`
}

// HandleWebhook handles POST /billing/webhook. Signature failures return
// 400; store failures return 500 so the provider retries delivery.
func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := observability.FromContext(ctx)

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.WriteBadRequest(w, "failed to read request body")
		return
	}

	event, err := h.provider.VerifyWebhook(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.record("unknown", "invalid_signature")
		logger.WithError(err).Warn("Webhook signature verification failed")
		httputil.WriteBadRequest(w, "invalid signature")
		return
	}

	logger = logger.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
	})

	if h.archiver != nil {
		// Best effort; a failed archive must not block status sync.
		if err := h.archiver.Archive(ctx, event, payload); err != nil {
			logger.WithError(err).Warn("Failed to archive webhook payload")
		}
	}

	if err := h.processEvent(ctx, event); err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			// No profile carries this customer yet. Acknowledge; the
			// reconcile sweep back-fills orphaned customers.
			h.record(event.Type, "no_profile")
			logger.Warn("Webhook event for unknown billing customer")
			httputil.WriteSuccess(w, map[string]bool{"received": true})
			return
		}
		h.record(event.Type, "error")
		logger.WithError(err).Error("Failed to process webhook event")
		httputil.WriteInternalError(w)
		return
	}

	h.record(event.Type, "ok")
	httputil.WriteSuccess(w, map[string]bool{"received": true})
}

func (h *Handler) processEvent(ctx context.Context, event *payments.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		return h.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.created", "customer.subscription.updated":
		return h.handleSubscriptionChanged(ctx, event, "")
	case "customer.subscription.deleted":
		return h.handleSubscriptionChanged(ctx, event, "canceled")
	default:
		// Unhandled event types are acknowledged without action.
		return nil
	}
}

func (h *Handler) handleCheckoutCompleted(ctx context.Context, event *payments.Event) error {
	var session checkoutSessionObject
	if err := json.Unmarshal(event.Data, &session); err != nil {
		return err
	}
	if session.Customer == "" || session.Subscription == "" {
		return nil
	}

	return h.store.UpdateSubscriptionByCustomer(ctx, session.Customer, profile.SubscriptionUpdate{
		SubscriptionID: session.Subscription,
		Status:         "active",
	})
}

func (h *Handler) handleSubscriptionChanged(ctx context.Context, event *payments.Event, statusOverride string) error {
	var sub subscriptionObject
	if err := json.Unmarshal(event.Data, &sub); err != nil {
		return err
	}
	if sub.Customer == "" {
		return nil
	}

	status := sub.Status
	if statusOverride != "" {
		status = statusOverride
	}

	update := profile.SubscriptionUpdate{
		SubscriptionID: sub.ID,
		Status:         status,
	}

	periodEnd := sub.CurrentPeriodEnd
	if len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.CurrentPeriodEnd > 0 {
			periodEnd = item.CurrentPeriodEnd
		}
		if h.catalog != nil {
			update.Plan = h.catalog.PlanNameForPrice(item.Price.ID)
		}
	}
	if periodEnd > 0 {
		t := time.Unix(periodEnd, 0).UTC()
		update.CurrentPeriodEnd = &t
	}

	return h.store.UpdateSubscriptionByCustomer(ctx, sub.Customer, update)
}
