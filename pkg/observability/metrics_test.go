package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics_RegistersAll(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	if m == nil {
		t.Fatal("expected metrics to be created")
	}

	// Registering a second set on the same registry must panic with
	// duplicate registration.
	defer func() {
		if r := recover(); r == nil {
			t.Error("expected duplicate registration to panic")
		}
	}()
	NewMetrics(registry)
}

func TestCheckoutCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	m.CheckoutSessionsTotal.WithLabelValues("success").Inc()
	m.CheckoutSessionsTotal.WithLabelValues("success").Inc()
	m.CheckoutSessionsTotal.WithLabelValues("bad_request").Inc()
	m.CustomersCreatedTotal.Inc()

	if got := testutil.ToFloat64(m.CheckoutSessionsTotal.WithLabelValues("success")); got != 2 {
		t.Errorf("expected 2 successful sessions, got %v", got)
	}
	if got := testutil.ToFloat64(m.CheckoutSessionsTotal.WithLabelValues("bad_request")); got != 1 {
		t.Errorf("expected 1 bad_request session, got %v", got)
	}
	if got := testutil.ToFloat64(m.CustomersCreatedTotal); got != 1 {
		t.Errorf("expected 1 customer created, got %v", got)
	}
}

func TestHTTPMetricsMiddleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)

	handler := HTTPMetricsMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"ok":true}`))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/checkout/session", strings.NewReader(`{"priceId":"price_1"}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}

	got := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/api/v1/checkout/session", "201"))
	if got != 1 {
		t.Errorf("expected 1 request recorded, got %v", got)
	}
}

func TestRegisterMetricsEndpoint(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	m.WebhookEventsTotal.WithLabelValues("checkout.session.completed", "ok").Inc()

	mux := http.NewServeMux()
	RegisterMetricsEndpoint(mux, registry)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "garagebook_billing_webhook_events_total") {
		t.Error("expected webhook counter in metrics output")
	}
}
