package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	domain "github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/services"
)

// Metrics owns the Prometheus collectors exposed on /metrics.
type Metrics struct {
	registry    *prometheus.Registry
	checkouts   *prometheus.CounterVec
	requests    *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	cacheEvents *prometheus.CounterVec
	txRetries   *prometheus.CounterVec
}

var _ services.CheckoutMetrics = (*Metrics)(nil)

// NewMetrics registers the service collectors plus Go runtime and process collectors on a fresh
// registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Name:      "state_transitions_total",
			Help:      "Checkout state machine transitions by storefront and state.",
		}, []string{"storefront", "state"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "checkout",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		cacheEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: "product_cache",
			Name:      "events_total",
			Help:      "Product cache misses and Redis failures.",
		}, []string{"event"}),
		txRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "checkout",
			Subsystem: "firestore",
			Name:      "transaction_retries_total",
			Help:      "Firestore transaction bodies re-run after contention, by operation.",
		}, []string{"op"}),
	}
	m.registry.MustRegister(
		m.checkouts,
		m.requests,
		m.latency,
		m.cacheEvents,
		m.txRetries,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Registerer exposes the registry so other packages can add collectors.
func (m *Metrics) Registerer() prometheus.Registerer { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) CheckoutTransition(storefront domain.Storefront, state services.CheckoutState) {
	m.checkouts.WithLabelValues(storefront.String(), string(state)).Inc()
}

// CacheEvent counts a product cache event such as a miss or a Redis error.
func (m *Metrics) CacheEvent(event string) {
	m.cacheEvents.WithLabelValues(event).Inc()
}

// TransactionRetry counts a contended Firestore transaction attempt.
func (m *Metrics) TransactionRetry(op string) {
	m.txRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) observeRequest(route, method string, status int, elapsed time.Duration) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route, method).Observe(elapsed.Seconds())
}
