package observability

import (
	"context"
	"database/sql"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Checkout metrics
	CheckoutSessionsTotal   *prometheus.CounterVec
	CheckoutSessionDuration prometheus.Histogram
	CustomersCreatedTotal   prometheus.Counter

	// Webhook metrics
	WebhookEventsTotal *prometheus.CounterVec

	// Profile store metrics
	ProfileOperationsTotal   *prometheus.CounterVec
	ProfileOperationDuration *prometheus.HistogramVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Rate limit metrics
	RateLimitRejectionsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		// HTTP metrics
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "garagebook_billing_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "garagebook_billing_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "garagebook_billing_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "garagebook_billing_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 6),
			},
			[]string{"method", "path"},
		),

		// Checkout metrics
		CheckoutSessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "garagebook_billing_checkout_sessions_total",
				Help: "Total number of checkout session attempts by outcome",
			},
			[]string{"outcome"},
		),
		CheckoutSessionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "garagebook_billing_checkout_session_duration_seconds",
				Help:    "End-to-end checkout session creation duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
		),
		CustomersCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "garagebook_billing_customers_created_total",
				Help: "Total number of payment customers created",
			},
		),

		// Webhook metrics
		WebhookEventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "garagebook_billing_webhook_events_total",
				Help: "Total number of webhook events received by type and status",
			},
			[]string{"event_type", "status"},
		),

		// Profile store metrics
		ProfileOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "garagebook_billing_profile_operations_total",
				Help: "Total number of billing profile store operations",
			},
			[]string{"operation", "status"},
		),
		ProfileOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "garagebook_billing_profile_operation_duration_seconds",
				Help:    "Billing profile store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),

		// Cache metrics
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "garagebook_billing_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "garagebook_billing_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache"},
		),

		// Rate limit metrics
		RateLimitRejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "garagebook_billing_ratelimit_rejections_total",
				Help: "Total number of requests rejected by rate limiting",
			},
			[]string{"scope"},
		),

		// Database metrics
		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "garagebook_billing_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "garagebook_billing_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.CheckoutSessionsTotal,
		m.CheckoutSessionDuration,
		m.CustomersCreatedTotal,
		m.WebhookEventsTotal,
		m.ProfileOperationsTotal,
		m.ProfileOperationDuration,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.RateLimitRejectionsTotal,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
	)

	return m
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(r.ContentLength))
			}

			next.ServeHTTP(rw, r)

			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(mux *http.ServeMux, registry *prometheus.Registry) {
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

// CollectDBStats samples connection pool stats on the given interval until
// the context is cancelled. Run it in a goroutine.
func (m *Metrics) CollectDBStats(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			m.DBConnectionsActive.Set(float64(stats.InUse))
			m.DBConnectionsIdle.Set(float64(stats.Idle))
		}
	}
}
