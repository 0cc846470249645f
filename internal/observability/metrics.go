// Package observability exposes Prometheus metrics for the flow engine and
// the Bot API client.
package observability

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/blueflow/pkg/domain"
	"github.com/aretw0/blueflow/pkg/telegram"
)

const namespace = "blueflow"

// Metrics holds every collector. Create it with NewMetrics and call Register
// once before use.
type Metrics struct {
	reg prometheus.Registerer

	NodeEnters  *prometheus.CounterVec
	Verdicts    *prometheus.CounterVec
	APIRequests *prometheus.CounterVec
	APIDuration *prometheus.HistogramVec
	APIRetries  *prometheus.CounterVec
	APIInFlight prometheus.Gauge
}

// NewMetrics builds the collectors. A nil registerer falls back to
// prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		reg: reg,
		NodeEnters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_enters_total",
			Help:      "Number of times a chat entered a node.",
		}, []string{"node_id", "node_type"}),
		Verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verdicts_total",
			Help:      "Behavior verdicts by kind.",
		}, []string{"node_type", "kind"}),
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Bot API requests by method and outcome.",
		}, []string{"method", "outcome"}),
		APIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "Bot API request latency, retries included.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		APIRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "retries_total",
			Help:      "Bot API retries scheduled after a retryable failure.",
		}, []string{"method"}),
		APIInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "in_flight",
			Help:      "Bot API HTTP attempts currently in flight.",
		}),
	}
}

// Register adds all collectors to the registerer.
func (m *Metrics) Register() error {
	collectors := []prometheus.Collector{
		m.NodeEnters, m.Verdicts, m.APIRequests, m.APIDuration, m.APIRetries, m.APIInFlight,
	}
	var errs []error
	for _, c := range collectors {
		if err := m.reg.Register(c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// FlowHooks returns lifecycle hooks that feed the flow counters.
func (m *Metrics) FlowHooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnNodeEnter: func(_ context.Context, e *domain.NodeEvent) {
			m.NodeEnters.WithLabelValues(strconv.Itoa(e.NodeID), e.NodeType).Inc()
		},
		OnVerdict: func(_ context.Context, e *domain.VerdictEvent) {
			m.Verdicts.WithLabelValues(e.NodeType, e.Kind.String()).Inc()
		},
	}
}

// ClientHooks returns hooks that feed the API collectors.
func (m *Metrics) ClientHooks() telegram.Hooks {
	return telegram.Hooks{
		OnRequest: func(method, outcome string, elapsed time.Duration) {
			m.APIRequests.WithLabelValues(method, outcome).Inc()
			m.APIDuration.WithLabelValues(method).Observe(elapsed.Seconds())
		},
		OnRetry: func(method string, _ error, _ time.Duration) {
			m.APIRetries.WithLabelValues(method).Inc()
		},
		OnInFlight: func(n int64) {
			m.APIInFlight.Set(float64(n))
		},
	}
}
