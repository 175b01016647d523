package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BradenHooton/gatekeeper/internal/ipguard"
)

const namespace = "gatekeeper"

// Metrics owns a private registry with the abuse-mitigation series
type Metrics struct {
	registry *prometheus.Registry
	handler  http.Handler

	loginAttempts      *prometheus.CounterVec
	loginDuration      prometheus.Histogram
	blocks             *prometheus.CounterVec
	unblocks           prometheus.Counter
	activeBlocks       prometheus.Gauge
	honeypotHits       prometheus.Counter
	registrationDenied prometheus.Counter
}

// New creates the collectors and registers them with a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		handler:  promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		loginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts by outcome",
		}, []string{"outcome"}),
		loginDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "login_duration_seconds",
			Help:      "Observed login latency including the timing floor",
			Buckets:   []float64{0.1, 0.2, 0.25, 0.3, 0.4, 0.5, 0.75, 1, 2},
		}),
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ip_blocks_total",
			Help:      "Addresses blocked by reason",
		}, []string{"reason"}),
		unblocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ip_unblocks_total",
			Help:      "Blocks lifted by an administrator",
		}),
		activeBlocks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_blocks",
			Help:      "Blocks in force at the last sweep",
		}),
		honeypotHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "honeypot_hits_total",
			Help:      "Requests to decoy paths",
		}),
		registrationDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_denied_total",
			Help:      "Registrations refused by the per-address cap",
		}),
	}

	reg.MustRegister(
		m.loginAttempts,
		m.loginDuration,
		m.blocks,
		m.unblocks,
		m.activeBlocks,
		m.honeypotHits,
		m.registrationDenied,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return m.handler
}

func (m *Metrics) ObserveLogin(outcome string, elapsed time.Duration) {
	m.loginAttempts.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		m.loginDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) RegistrationDenied() {
	m.registrationDenied.Inc()
}

func (m *Metrics) HoneypotHit() {
	m.honeypotHits.Inc()
}

// SetActiveBlocks records the number of blocks in force
func (m *Metrics) SetActiveBlocks(n int) {
	m.activeBlocks.Set(float64(n))
}

// HandleEvent counts block state changes. Metrics is registered as an
// ipguard hook.
func (m *Metrics) HandleEvent(_ context.Context, event ipguard.Event) {
	switch event.Type {
	case ipguard.EventBlocked:
		reason := "unknown"
		if event.Record != nil {
			reason = string(event.Record.Reason)
		}
		m.blocks.WithLabelValues(reason).Inc()
	case ipguard.EventUnblocked:
		m.unblocks.Inc()
	}
}

var _ ipguard.Hook = (*Metrics)(nil)
