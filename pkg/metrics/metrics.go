package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the Prometheus metrics of the appointment store and its API.
// A nil *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	Mutations       *prometheus.CounterVec
	RemoteFallbacks *prometheus.CounterVec
	LocalSaveErrors prometheus.Counter
	Appointments    prometheus.Gauge

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// NewCollector creates a collector on its own registry so tests can build as
// many as they like.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		Mutations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mutations_total",
				Help:      "Total number of appointment mutations by operation",
			},
			[]string{"op"},
		),
		RemoteFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_fallbacks_total",
				Help:      "Remote operations that failed and fell back to local storage",
			},
			[]string{"op"},
		),
		LocalSaveErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "local_save_errors_total",
				Help:      "Failed writes to local storage",
			},
		),
		Appointments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "appointments",
				Help:      "Appointments currently held in memory",
			},
		),
		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
	}

	registry.MustRegister(
		c.Mutations,
		c.RemoteFallbacks,
		c.LocalSaveErrors,
		c.Appointments,
		c.HTTPRequests,
		c.HTTPDuration,
	)
	return c
}

func (c *Collector) RecordMutation(op string) {
	if c == nil {
		return
	}
	c.Mutations.WithLabelValues(op).Inc()
}

func (c *Collector) RecordFallback(op string) {
	if c == nil {
		return
	}
	c.RemoteFallbacks.WithLabelValues(op).Inc()
}

func (c *Collector) RecordLocalSaveError() {
	if c == nil {
		return
	}
	c.LocalSaveErrors.Inc()
}

func (c *Collector) SetAppointments(n int) {
	if c == nil {
		return
	}
	c.Appointments.Set(float64(n))
}

func (c *Collector) RecordHTTPRequest(method, route string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// Handler serves the collector's metrics in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
