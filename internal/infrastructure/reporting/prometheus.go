// Package reporting contains the reporters fed by the event bus and the
// periodic console summary.
package reporting

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alem-hub/studyup-loadgen/internal/domain/metric"
)

const namespace = "studyup_loadgen"

// ══════════════════════════════════════════════════════════════════════════════
// PROMETHEUS
// ══════════════════════════════════════════════════════════════════════════════

// Prometheus exports every event as request counters and latency histograms
// on a private registry.
type Prometheus struct {
	registry *prometheus.Registry

	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	payload  *prometheus.CounterVec
}

// PrometheusOption configures the exporter.
type PrometheusOption func(*Prometheus)

// WithRuntimeCollectors adds the Go and process collectors.
func WithRuntimeCollectors() PrometheusOption {
	return func(p *Prometheus) {
		p.registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
}

// NewPrometheus creates the exporter and registers its collectors.
func NewPrometheus(opts ...PrometheusOption) *Prometheus {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	p := &Prometheus{
		registry: reg,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Completed operations by result",
		}, []string{"category", "name", "result"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Operation latency in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		}, []string{"category", "name"}),
		payload: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payload_bytes_total",
			Help:      "Bytes written or read by successful operations",
		}, []string{"category", "name"}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements messaging.Reporter.
func (p *Prometheus) Name() string { return "prometheus" }

// Report implements messaging.Reporter.
func (p *Prometheus) Report(_ context.Context, events []metric.Event) error {
	for _, e := range events {
		category := string(e.Category)
		result := "success"
		if e.Failed() {
			result = "failure"
		}
		p.requests.WithLabelValues(category, e.Name, result).Inc()
		p.duration.WithLabelValues(category, e.Name).Observe(e.Duration.Seconds())
		p.payload.WithLabelValues(category, e.Name).Add(float64(e.PayloadSize))
	}
	return nil
}

// ObservePopulation exposes the current number of virtual users.
func (p *Prometheus) ObservePopulation(active func() int) {
	promauto.With(p.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "users_active",
		Help:      "Number of running virtual users",
	}, func() float64 { return float64(active()) })
}

// ObserveDrops exposes how many events never reached the reporters.
func (p *Prometheus) ObserveDrops(dropped func() int64) {
	promauto.With(p.registry).NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Metric events dropped before reaching the reporters",
	}, func() float64 { return float64(dropped()) })
}

// Registry returns the private registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}
