// Package metrics exposes Prometheus collectors for evaluation cycles and notifications.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the alert service.
type Metrics struct {
	registry *prometheus.Registry

	EvaluationsTotal    *prometheus.CounterVec // labels: symbol, kind
	EvaluationErrors    *prometheus.CounterVec // labels: symbol, kind
	EvaluationDur       *prometheus.HistogramVec
	NotificationsTotal  *prometheus.CounterVec // labels: symbol, kind
	SuppressedTotal     *prometheus.CounterVec // labels: symbol, kind
	DeliveryFailures    *prometheus.CounterVec // labels: symbol, kind
	FetchFailures       *prometheus.CounterVec // labels: symbol
	CandlesFetched      *prometheus.GaugeVec   // labels: symbol
	AlertLevel          *prometheus.GaugeVec   // labels: symbol
	LastCrossTimeMillis *prometheus.GaugeVec   // labels: symbol
}

// NewMetrics registers all collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EvaluationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketalert_evaluations_total",
			Help: "Completed evaluation ticks",
		}, []string{"symbol", "kind"}),
		EvaluationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketalert_evaluation_errors_total",
			Help: "Evaluation ticks that returned an error",
		}, []string{"symbol", "kind"}),
		EvaluationDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "marketalert_evaluation_duration_seconds",
			Help:    "Core computation latency per tick, excluding fetch",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
		}, []string{"kind"}),
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketalert_notifications_total",
			Help: "Notifications delivered",
		}, []string{"symbol", "kind"}),
		SuppressedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketalert_suppressed_total",
			Help: "Notifications suppressed as duplicates",
		}, []string{"symbol", "kind"}),
		DeliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketalert_delivery_failures_total",
			Help: "Notifications the notifier failed to deliver",
		}, []string{"symbol", "kind"}),
		FetchFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "marketalert_fetch_failures_total",
			Help: "Market data fetches that failed",
		}, []string{"symbol"}),
		CandlesFetched: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketalert_candles_fetched",
			Help: "Candles returned by the last fetch",
		}, []string{"symbol"}),
		AlertLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketalert_alert_level",
			Help: "Current alert level (0=NO_ALERT 1=EXTREME_LOW 2=LOW 3=HIGH 4=EXTREME_HIGH)",
		}, []string{"symbol"}),
		LastCrossTimeMillis: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "marketalert_last_cross_time_ms",
			Help: "Epoch milliseconds of the last announced cross",
		}, []string{"symbol"}),
	}

	m.registry.MustRegister(
		m.EvaluationsTotal,
		m.EvaluationErrors,
		m.EvaluationDur,
		m.NotificationsTotal,
		m.SuppressedTotal,
		m.DeliveryFailures,
		m.FetchFailures,
		m.CandlesFetched,
		m.AlertLevel,
		m.LastCrossTimeMillis,
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
