package metrics

import (
	"net/http"

	"github.com/iTrooz/offline-cache-proxy/internal/swr"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records interceptor activity on a private registry
type Metrics struct {
	registry      *prometheus.Registry
	requests      *prometheus.CounterVec
	refreshes     *prometheus.CounterVec
	activeVersion *prometheus.GaugeVec
}

func New() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swr_requests_total",
		Help: "Intercepted requests by outcome",
	}, []string{"outcome"})

	refreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "swr_refresh_total",
		Help: "Background network fetches by result",
	}, []string{"result"})

	activeVersion := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "swr_active_version_info",
		Help: "Currently active version and its cache bucket",
	}, []string{"version", "bucket"})

	registry.MustRegister(
		requests,
		refreshes,
		activeVersion,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry:      registry,
		requests:      requests,
		refreshes:     refreshes,
		activeVersion: activeVersion,
	}
}

func (m *Metrics) ObserveRequest(outcome swr.Outcome) {
	m.requests.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) ObserveRefresh(result swr.RefreshResult) {
	m.refreshes.WithLabelValues(string(result)).Inc()
}

// SetActiveVersion replaces the active version series
func (m *Metrics) SetActiveVersion(version, bucket string) {
	m.activeVersion.Reset()
	m.activeVersion.WithLabelValues(version, bucket).Set(1)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
