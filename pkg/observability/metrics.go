package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Mindburn-Labs/aatp-router/pkg/contracts"
)

// Metrics holds the Prometheus collectors for the router. Each instance owns
// its registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	transactions    *prometheus.CounterVec
	providerLatency *prometheus.HistogramVec
	rateLimited     prometheus.Counter
	limiterDegraded prometheus.Counter
	approvalChanges *prometheus.CounterVec
	ledgerFailures  prometheus.Counter
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// NewMetrics registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aatp_transactions_total",
			Help: "Routed transactions by outcome code (success, PROVIDER_ERROR or a rejection code).",
		}, []string{"service_id", "outcome"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aatp_provider_latency_seconds",
			Help:    "Latency of outbound provider calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"service_id"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aatp_rate_limited_total",
			Help: "Requests rejected by the per-agent rate limiter.",
		}),
		limiterDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aatp_rate_limiter_degraded_total",
			Help: "Rate limiter store failures that were allowed through.",
		}),
		approvalChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aatp_approval_transitions_total",
			Help: "Approval state transitions.",
		}, []string{"from", "to"}),
		ledgerFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aatp_ledger_write_failures_total",
			Help: "Transaction ledger writes that failed.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aatp_http_requests_total",
			Help: "HTTP requests by route and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aatp_http_request_duration_seconds",
			Help:    "HTTP request duration by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.transactions, m.providerLatency, m.rateLimited, m.limiterDegraded,
		m.approvalChanges, m.ledgerFailures, m.httpRequests, m.httpDuration,
	)
	return m
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// TransactionOutcome counts a routed transaction by its outcome.
func (m *Metrics) TransactionOutcome(serviceID string, outcome string) {
	if m == nil {
		return
	}
	if serviceID == "" {
		serviceID = "unknown"
	}
	m.transactions.WithLabelValues(serviceID, outcome).Inc()
}

// ProviderLatency observes one outbound call.
func (m *Metrics) ProviderLatency(serviceID string, d time.Duration) {
	if m == nil {
		return
	}
	m.providerLatency.WithLabelValues(serviceID).Observe(d.Seconds())
}

// RateLimited counts a throttled request. The agent id is logged, not
// labelled, to keep series bounded.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

// LimiterDegraded counts a fail-open admission.
func (m *Metrics) LimiterDegraded(string, error) {
	if m == nil {
		return
	}
	m.limiterDegraded.Inc()
}

// ApprovalTransition counts a state change.
func (m *Metrics) ApprovalTransition(from, to contracts.ApprovalStatus) {
	if m == nil {
		return
	}
	m.approvalChanges.WithLabelValues(string(from), string(to)).Inc()
}

// LedgerFailure counts a failed ledger write.
func (m *Metrics) LedgerFailure() {
	if m == nil {
		return
	}
	m.ledgerFailures.Inc()
}

// HTTPRequest observes a served request.
func (m *Metrics) HTTPRequest(route, method string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(route, method).Observe(d.Seconds())
}
