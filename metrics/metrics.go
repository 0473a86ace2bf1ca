// Package metrics exposes the agent's operational counters over a dedicated
// Prometheus listener.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the agent's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	PollTicks          prometheus.Counter
	PollFailures       prometheus.Counter
	OnboardSubmitted   prometheus.Counter
	OnboardFailures    prometheus.Counter
	EncryptionFailures prometheus.Counter
	OnboardedMembers   prometheus.Gauge
	LastSeenBlock      prometheus.Gauge
}

// New creates the agent's metric set under the given namespace.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		PollTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_ticks_total",
			Help:      "Number of watcher poll ticks executed.",
		}),
		PollFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_failures_total",
			Help:      "Number of poll ticks that failed on a ledger read.",
		}),
		OnboardSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "onboard_submitted_total",
			Help:      "Number of successful onboarding transactions.",
		}),
		OnboardFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "onboard_failures_total",
			Help:      "Number of onboarding transactions that reverted or timed out.",
		}),
		EncryptionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "encryption_failures_total",
			Help:      "Number of members skipped due to a malformed public key.",
		}),
		OnboardedMembers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "onboarded_members",
			Help:      "Size of the in-memory onboarded member set.",
		}),
		LastSeenBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_seen_block",
			Help:      "Highest fully processed ledger block.",
		}),
	}

	reg.MustRegister(
		m.PollTicks,
		m.PollFailures,
		m.OnboardSubmitted,
		m.OnboardFailures,
		m.EncryptionFailures,
		m.OnboardedMembers,
		m.LastSeenBlock,
	)
	return m
}

// Handler returns an http.Handler serving the metric set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server wraps an http.Server serving the metrics handler on its own address.
type Server struct {
	srv *http.Server
}

// NewServer creates a metrics server listening on addr.
func NewServer(m *Metrics, addr string) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	return &Server{
		srv: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// ListenAndServe blocks serving metrics requests.
func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown gracefully stops the metrics server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
