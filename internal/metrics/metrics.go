package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	refreshTotal     *prometheus.CounterVec
	refreshDuration  prometheus.Histogram
	cacheExpireAt    prometheus.Gauge
	apiRequestsTotal *prometheus.CounterVec
	publishedTotal   *prometheus.CounterVec
}

// New registers the collectors with reg. Pass prometheus.NewRegistry() in tests.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		refreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pse_usage_refresh_total",
			Help: "Refresh cycles by outcome.",
		}, []string{"outcome"}),
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "pse_usage_refresh_duration_seconds",
			Help:    "Time spent fetching and extracting a usage export.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		cacheExpireAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pse_usage_cache_expire_timestamp_seconds",
			Help: "Unix time at which the cached snapshot expires.",
		}),
		apiRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pse_usage_api_requests_total",
			Help: "Read API requests by route and response status.",
		}, []string{"route", "status"}),
		publishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pse_usage_published_total",
			Help: "Daily readings published by commodity and target.",
		}, []string{"commodity", "target"}),
	}

	reg.MustRegister(
		m.refreshTotal,
		m.refreshDuration,
		m.cacheExpireAt,
		m.apiRequestsTotal,
		m.publishedTotal,
	)

	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// RefreshCompleted records one refresh cycle
func (m *Metrics) RefreshCompleted(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		m.refreshDuration.Observe(duration.Seconds())
	}
}

// SetCacheExpiry records when the current snapshot expires
func (m *Metrics) SetCacheExpiry(expireAt time.Time) {
	if m == nil {
		return
	}
	m.cacheExpireAt.Set(float64(expireAt.Unix()))
}

// APIRequest records one read API response
func (m *Metrics) APIRequest(route, status string) {
	if m == nil {
		return
	}
	m.apiRequestsTotal.WithLabelValues(route, status).Inc()
}

// Published records a reading sent to a publish target
func (m *Metrics) Published(commodity, target string) {
	if m == nil {
		return
	}
	m.publishedTotal.WithLabelValues(commodity, target).Inc()
}
