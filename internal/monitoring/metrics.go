package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	OutcomesTotal       *prometheus.CounterVec
	FetchesTotal        *prometheus.CounterVec
	FetchRetriesTotal   *prometheus.CounterVec
	FetchDuration       prometheus.Histogram
	PriceDropsTotal     prometheus.Counter
	NotificationsTotal  *prometheus.CounterVec
	RunDuration         prometheus.Histogram
	RunsTotal           *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics registers the metrics on reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OutcomesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "price_monitor_outcomes_total",
			Help: "Processed targets by terminal outcome",
		}, []string{"kind"}), // success, fetch_failed, extraction_failed, storage_failed
		FetchesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "price_monitor_fetches_total",
			Help: "Per-target fetch results after retries",
		}, []string{"result"}), // success, timeout, status, navigation, error
		FetchRetriesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "price_monitor_fetch_retries_total",
			Help: "Failed fetch attempts that were retried, by error class",
		}, []string{"reason"}),
		FetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "price_monitor_fetch_duration_seconds",
			Help:    "Duration of page fetches including retries",
			Buckets: []float64{1, 5, 10, 15, 30, 60, 120},
		}),
		PriceDropsTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "price_monitor_price_drops_total",
			Help: "Price drops detected and persisted",
		}),
		NotificationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "price_monitor_notifications_total",
			Help: "Notifications by result",
		}, []string{"result"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "price_monitor_run_duration_seconds",
			Help:    "Duration of complete pipeline runs",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		}),
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "price_monitor_runs_total",
			Help: "Pipeline runs by final status",
		}, []string{"status"}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"}),
	}
}

func (m *Metrics) IncOutcome(kind string) {
	m.OutcomesTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncFetch(result string) {
	m.FetchesTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncFetchRetry(reason string) {
	m.FetchRetriesTotal.WithLabelValues(reason).Inc()
}

func (m *Metrics) IncNotification(result string) {
	m.NotificationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) IncRun(status string) {
	m.RunsTotal.WithLabelValues(status).Inc()
}
