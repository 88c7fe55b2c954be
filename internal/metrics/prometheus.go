package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Prometheus implements Collector on its own registry.
type Prometheus struct {
	requests         *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	stateTransitions *prometheus.CounterVec
	restarts         *prometheus.CounterVec
	restartBackoff   *prometheus.HistogramVec
	running          prometheus.Gauge
	rateLimited      prometheus.Counter

	registry *prometheus.Registry
}

// NewPrometheus creates a collector. An empty namespace defaults to "mcphub".
func NewPrometheus(namespace string) *Prometheus {
	if namespace == "" {
		namespace = "mcphub"
	}

	p := &Prometheus{registry: prometheus.NewRegistry()}

	p.requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of tool requests by outcome",
		},
		[]string{"server", "outcome"},
	)

	p.requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Latency of tool requests",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"server"},
	)

	p.stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_state_transitions_total",
			Help:      "Total number of server status transitions",
		},
		[]string{"server", "from", "to"},
	)

	p.restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_restarts_total",
			Help:      "Total number of automatic restart attempts",
		},
		[]string{"server"},
	)

	p.restartBackoff = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "server_restart_backoff_seconds",
			Help:      "Backoff delay before automatic restarts",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"server"},
	)

	p.running = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "servers_running",
			Help:      "Number of servers currently running",
		},
	)

	p.rateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Total number of calls rejected by the rate limiter",
		},
	)

	p.registry.MustRegister(
		p.requests,
		p.requestDuration,
		p.stateTransitions,
		p.restarts,
		p.restartBackoff,
		p.running,
		p.rateLimited,
	)
	return p
}

func (p *Prometheus) RequestCompleted(server, outcome string, duration time.Duration) {
	p.requests.WithLabelValues(server, outcome).Inc()
	p.requestDuration.WithLabelValues(server).Observe(duration.Seconds())
}

func (p *Prometheus) StateTransition(server, from, to string) {
	p.stateTransitions.WithLabelValues(server, from, to).Inc()
}

func (p *Prometheus) RestartScheduled(server string, delay time.Duration) {
	p.restarts.WithLabelValues(server).Inc()
	p.restartBackoff.WithLabelValues(server).Observe(delay.Seconds())
}

func (p *Prometheus) ServersRunning(n int) {
	p.running.Set(float64(n))
}

func (p *Prometheus) RateLimited() {
	p.rateLimited.Inc()
}

// Registry returns the underlying registry.
func (p *Prometheus) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

var _ Collector = (*Prometheus)(nil)
