package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the connector.
type Metrics struct {
	// Pass metrics
	PassesTotal     *prometheus.CounterVec
	PassDuration    prometheus.Histogram
	PassItemsTotal  *prometheus.CounterVec
	ItemFailures    *prometheus.CounterVec
	ItemRetries     prometheus.Counter
	RowsSkipped     prometheus.Counter

	// Role mining metrics
	RoleCandidates   prometheus.Gauge
	MiningCoverage   prometheus.Gauge
	BundlesCreated   prometheus.Counter

	// Remote port metrics
	RemoteCallsTotal  *prometheus.CounterVec
	RateLimitHits     prometheus.Counter
	CredentialRefresh prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates and registers all connector metrics. A nil registry
// creates a private one, which keeps tests independent.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		PassesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connector_passes_total",
				Help: "Total reconciliation passes by result",
			},
			[]string{"result"},
		),
		PassDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "connector_pass_duration_seconds",
				Help:    "Reconciliation pass duration in seconds",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
			},
		),
		PassItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connector_pass_items_total",
				Help: "Applied change-set items by operation",
			},
			[]string{"op"},
		),
		ItemFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connector_item_failures_total",
				Help: "Per-item apply failures by operation",
			},
			[]string{"op"},
		),
		ItemRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "connector_item_retries_total",
				Help: "Retries triggered by transient remote failures",
			},
		),
		RowsSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "connector_rows_skipped_total",
				Help: "Rows excluded from reconciliation (no identity key)",
			},
		),
		RoleCandidates: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "connector_role_candidates",
				Help: "Role candidates found by the last mining run",
			},
		),
		MiningCoverage: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "connector_mining_coverage_percent",
				Help: "Percentage of rows covered by emitted role candidates",
			},
		),
		BundlesCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "connector_bundles_created_total",
				Help: "Role bundles created on the remote",
			},
		),
		RemoteCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "connector_remote_calls_total",
				Help: "Remote port calls by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		RateLimitHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "connector_rate_limit_hits_total",
				Help: "Rate-limit responses observed from the remote",
			},
		),
		CredentialRefresh: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "connector_credential_refreshes_total",
				Help: "Credential cache refreshes after auth expiry",
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.PassesTotal,
		m.PassDuration,
		m.PassItemsTotal,
		m.ItemFailures,
		m.ItemRetries,
		m.RowsSkipped,
		m.RoleCandidates,
		m.MiningCoverage,
		m.BundlesCreated,
		m.RemoteCallsTotal,
		m.RateLimitHits,
		m.CredentialRefresh,
	)
	return m
}

// Handler returns the HTTP handler exposing this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
