// Package metrics exposes credential service counters in Prometheus format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

// Metrics owns a private registry so tests and multiple instances never collide.
type Metrics struct {
	registry     *prometheus.Registry
	operations   *prometheus.CounterVec
	hashDuration prometheus.Histogram
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "identity"
	}
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credential_operations_total",
			Help:      "Credential operations by outcome.",
		}, []string{"operation", "outcome"}),
		hashDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "password_hash_duration_seconds",
			Help:      "Time spent hashing or verifying a password, including queueing.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
	}
	m.registry.MustRegister(
		m.operations,
		m.hashDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveOperation(operation, outcome string) {
	m.operations.WithLabelValues(operation, outcome).Inc()
}

func (m *Metrics) ObserveHash(d time.Duration) {
	m.hashDuration.Observe(d.Seconds())
}

// Handler serves the registry over fasthttp.
func (m *Metrics) Handler() fasthttp.RequestHandler {
	return fasthttpadaptor.NewFastHTTPHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
