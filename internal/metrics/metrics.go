package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for LucidLens. Every Observe method is
// safe to call on a nil *Metrics.
type Metrics struct {
	// Order and verification metrics
	OrdersTotal         *prometheus.CounterVec
	OrderDuration       prometheus.Histogram
	VerificationsTotal  *prometheus.CounterVec
	VerifyDuration      prometheus.Histogram
	EntitlementsGranted prometheus.Counter
	BypassGrantsTotal   prometheus.Counter

	// Upstream call metrics (gateway, text model, image model)
	UpstreamCallsTotal    *prometheus.CounterVec
	UpstreamCallDuration  *prometheus.HistogramVec
	EntitlementStreams    prometheus.Gauge
	DreamsVisualizedTotal *prometheus.CounterVec
	DreamsSavedTotal      prometheus.Counter

	// Webhook metrics
	WebhooksTotal       *prometheus.CounterVec
	WebhookRetriesTotal *prometheus.CounterVec
	WebhookDuration     *prometheus.HistogramVec

	// Rate limiting and idempotency
	RateLimitHitsTotal      *prometheus.CounterVec
	IdempotencyReplaysTotal prometheus.Counter

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		OrdersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lucidlens_orders_total",
				Help: "Total number of order creation attempts by outcome",
			},
			[]string{"status"},
		),
		OrderDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lucidlens_order_duration_seconds",
				Help:    "Time taken to create a gateway order",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
		),
		VerificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lucidlens_payment_verifications_total",
				Help: "Total number of payment verifications by result",
			},
			[]string{"result"},
		),
		VerifyDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "lucidlens_payment_verification_duration_seconds",
				Help:    "Time taken to verify a payment and record the entitlement",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2},
			},
		),
		EntitlementsGranted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lucidlens_entitlements_granted_total",
				Help: "Total number of successful entitlement writes",
			},
		),
		BypassGrantsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lucidlens_dev_bypass_grants_total",
				Help: "Total number of entitlements granted through the development bypass",
			},
		),

		UpstreamCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lucidlens_upstream_calls_total",
				Help: "Total number of calls to external services",
			},
			[]string{"service", "status"},
		),
		UpstreamCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lucidlens_upstream_call_duration_seconds",
				Help:    "Duration of calls to external services (supports p50, p95, p99 percentiles)",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"service"},
		),
		EntitlementStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "lucidlens_entitlement_streams_active",
				Help: "Number of open entitlement change streams",
			},
		),
		DreamsVisualizedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lucidlens_dreams_visualized_total",
				Help: "Total number of dream visualization requests by outcome",
			},
			[]string{"status"},
		),
		DreamsSavedTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lucidlens_dreams_saved_total",
				Help: "Total number of dreams saved to the gallery",
			},
		),

		WebhooksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lucidlens_webhooks_total",
				Help: "Total number of webhook deliveries",
			},
			[]string{"event_type", "status"},
		),
		WebhookRetriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lucidlens_webhook_retries_total",
				Help: "Total number of webhook deliveries that needed retries",
			},
			[]string{"event_type", "attempt"},
		),
		WebhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lucidlens_webhook_duration_seconds",
				Help:    "Time taken for webhook delivery including retries",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 60, 300},
			},
			[]string{"event_type"},
		),

		RateLimitHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lucidlens_rate_limit_hits_total",
				Help: "Total number of rate limit hits",
			},
			[]string{"limit_type"},
		),
		IdempotencyReplaysTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "lucidlens_idempotency_replays_total",
				Help: "Total number of responses replayed from the idempotency cache",
			},
		),

		DBQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "lucidlens_db_query_duration_seconds",
				Help:    "Entitlement store round-trip duration",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1, 2},
			},
			[]string{"operation", "backend"},
		),
	}
}

// ObserveOrder records an order creation attempt. status is "success" or a failure reason.
func (m *Metrics) ObserveOrder(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.OrdersTotal.WithLabelValues(status).Inc()
	m.OrderDuration.Observe(duration.Seconds())
}

// ObserveVerification records a verification attempt and, on success, the grant.
func (m *Metrics) ObserveVerification(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.VerificationsTotal.WithLabelValues(result).Inc()
	m.VerifyDuration.Observe(duration.Seconds())
	if result == "success" {
		m.EntitlementsGranted.Inc()
	}
}

// ObserveBypassGrant records an entitlement granted without payment.
func (m *Metrics) ObserveBypassGrant() {
	if m == nil {
		return
	}
	m.BypassGrantsTotal.Inc()
}

// ObserveUpstream records a call to an external service.
func (m *Metrics) ObserveUpstream(service string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.UpstreamCallsTotal.WithLabelValues(service, status).Inc()
	m.UpstreamCallDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// StreamOpened and StreamClosed track open entitlement streams.
func (m *Metrics) StreamOpened() {
	if m != nil {
		m.EntitlementStreams.Inc()
	}
}

func (m *Metrics) StreamClosed() {
	if m != nil {
		m.EntitlementStreams.Dec()
	}
}

// ObserveDreamVisualized records a visualization request outcome.
func (m *Metrics) ObserveDreamVisualized(status string) {
	if m == nil {
		return
	}
	m.DreamsVisualizedTotal.WithLabelValues(status).Inc()
}

// ObserveDreamSaved records a dream persisted to the gallery.
func (m *Metrics) ObserveDreamSaved() {
	if m == nil {
		return
	}
	m.DreamsSavedTotal.Inc()
}

// ObserveWebhook records webhook delivery.
func (m *Metrics) ObserveWebhook(eventType, status string, duration time.Duration, attempt int) {
	if m == nil {
		return
	}
	m.WebhooksTotal.WithLabelValues(eventType, status).Inc()
	m.WebhookDuration.WithLabelValues(eventType).Observe(duration.Seconds())
	if attempt > 1 {
		m.WebhookRetriesTotal.WithLabelValues(eventType, formatAttempt(attempt)).Inc()
	}
}

// ObserveRateLimit records a rate limit hit. limitType is global, user, or ip.
func (m *Metrics) ObserveRateLimit(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitHitsTotal.WithLabelValues(limitType).Inc()
}

// ObserveIdempotencyReplay records a cached response served again.
func (m *Metrics) ObserveIdempotencyReplay() {
	if m == nil {
		return
	}
	m.IdempotencyReplaysTotal.Inc()
}

// ObserveDBQuery records a database query.
func (m *Metrics) ObserveDBQuery(operation, backend string, duration time.Duration) {
	if m == nil {
		return
	}
	m.DBQueryDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}

func formatAttempt(attempt int) string {
	if attempt <= 5 {
		return strconv.Itoa(attempt)
	}
	return "5+"
}
