package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var durationBuckets = []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200}

// Metrics holds the launchpad collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	deployments      *prometheus.CounterVec
	deployDuration   prometheus.Histogram
	portsAllocated   prometheus.Gauge
	httpRequests     *prometheus.CounterVec
	httpRequestTimes *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// Collectors already registered (e.g. by a previous instance in tests) are reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "launchpad",
			Name:      "deployments_total",
			Help:      "Deployments that reached a terminal status, by outcome",
		}, []string{"outcome"}),
		deployDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "launchpad",
			Name:      "deployment_duration_seconds",
			Help:      "Wall-clock duration of deployment pipelines",
			Buckets:   durationBuckets,
		}),
		portsAllocated: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "launchpad",
			Name:      "ports_allocated",
			Help:      "Number of host ports currently allocated to applications",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "launchpad",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"}),
		httpRequestTimes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "launchpad",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		}, []string{"method", "route", "status"}),
	}

	m.deployments = register(reg, m.deployments).(*prometheus.CounterVec)
	m.deployDuration = register(reg, m.deployDuration).(prometheus.Histogram)
	m.portsAllocated = register(reg, m.portsAllocated).(prometheus.Gauge)
	m.httpRequests = register(reg, m.httpRequests).(*prometheus.CounterVec)
	m.httpRequestTimes = register(reg, m.httpRequestTimes).(*prometheus.HistogramVec)
	return m
}

func register(reg prometheus.Registerer, c prometheus.Collector) prometheus.Collector {
	if reg == nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return already.ExistingCollector
		}
	}
	return c
}

// ObserveDeployment records one finished deployment
func (m *Metrics) ObserveDeployment(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.deployments.WithLabelValues(outcome).Inc()
	m.deployDuration.Observe(d.Seconds())
}

// SetPortsAllocated updates the allocated ports gauge
func (m *Metrics) SetPortsAllocated(n int) {
	if m == nil {
		return
	}
	m.portsAllocated.Set(float64(n))
}

// ObserveRequest records one HTTP request
func (m *Metrics) ObserveRequest(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, status).Inc()
	m.httpRequestTimes.WithLabelValues(method, route, status).Observe(d.Seconds())
}
