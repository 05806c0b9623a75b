// Package metrics adapts the teacher's observability.Metrics
// (internal/observability/observability.go: Counter/Gauge/HistogramVec
// fields registered via reg.MustRegister) to the RIB/peer/xDS domain of
// this control plane.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/meshcore/meshd/internal/rib"
)

// Registry holds every Prometheus metric this daemon exposes at /metrics.
type Registry struct {
	LocalRoutes     prometheus.Gauge
	LearnedRoutes   prometheus.Gauge
	PeersConfigured prometheus.Gauge
	PeersConnected  prometheus.Gauge
	CommitVersion   prometheus.Gauge
	CommitsTotal    prometheus.Counter

	PropagationsTotal *prometheus.CounterVec
	XDSPushesTotal    *prometheus.CounterVec
	ControlAPITotal   *prometheus.CounterVec
}

// New creates and registers every metric on reg.
func New(reg prometheus.Registerer) *Registry {
	m := &Registry{
		LocalRoutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshd", Name: "local_routes", Help: "Number of locally originated routes.",
		}),
		LearnedRoutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshd", Name: "learned_routes", Help: "Number of routes learned from peers.",
		}),
		PeersConfigured: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshd", Name: "peers_configured", Help: "Number of configured peers.",
		}),
		PeersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshd", Name: "peers_connected", Help: "Number of peers with an established session.",
		}),
		CommitVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "meshd", Name: "rib_commit_version", Help: "Monotonic RIB commit version.",
		}),
		CommitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "meshd", Name: "rib_commits_total", Help: "Total number of RIB commits.",
		}),
		PropagationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshd", Name: "propagations_total", Help: "Total propagations enqueued, by kind.",
		}, []string{"kind"}),
		XDSPushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshd", Name: "xds_pushes_total", Help: "Total DiscoveryResponses sent, by type URL.",
		}, []string{"type_url"}),
		ControlAPITotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshd", Name: "control_api_requests_total", Help: "Total local control API requests, by route and status.",
		}, []string{"route", "status"}),
	}

	reg.MustRegister(
		m.LocalRoutes,
		m.LearnedRoutes,
		m.PeersConfigured,
		m.PeersConnected,
		m.CommitVersion,
		m.CommitsTotal,
		m.PropagationsTotal,
		m.XDSPushesTotal,
		m.ControlAPITotal,
	)
	return m
}

// Observe updates the gauges from the latest committed RIB state and
// increments the commit counter. Called by the dispatcher after every
// commit.
func (m *Registry) Observe(state *rib.State) {
	m.LocalRoutes.Set(float64(len(state.LocalRoutes)))
	m.LearnedRoutes.Set(float64(len(state.LearnedRoutes)))
	m.PeersConfigured.Set(float64(len(state.Peers)))
	m.CommitVersion.Set(float64(state.Version))
	m.CommitsTotal.Inc()

	connected := 0
	for _, p := range state.Peers {
		if p.ConnectionStatus == rib.StatusConnected {
			connected++
		}
	}
	m.PeersConnected.Set(float64(connected))
}
