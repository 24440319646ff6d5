package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/SkynetNext/gateway-dataplane/internal/filter"
	"github.com/SkynetNext/gateway-dataplane/internal/redirect"
)

var (
	// ============================================================================
	// Session Metrics
	// ============================================================================

	// ActiveSessions: Currently relayed connections (Gauge)
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dataplane_active_sessions",
			Help: "Current number of relayed sessions",
		},
	)

	// SessionsTotal: Total sessions accepted (Counter)
	SessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dataplane_sessions_total",
			Help: "Total number of sessions accepted",
		},
	)

	// SessionDuration: Session lifetime (Histogram)
	SessionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dataplane_session_duration_seconds",
			Help:    "Session lifetime in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		},
	)

	// RelayBytes: Bytes moved by the relay (Counter)
	// Labels: direction (ingress/egress)
	RelayBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataplane_relay_bytes_total",
			Help: "Total bytes relayed between paired sockets",
		},
		[]string{"direction"},
	)

	// RelayVerdicts: Per-segment pairing verdicts (Counter)
	// Labels: action (pass/redirect)
	RelayVerdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataplane_relay_verdicts_total",
			Help: "Total relay verdicts by action",
		},
		[]string{"action"},
	)

	// ============================================================================
	// Accept Path Metrics
	// ============================================================================

	// AcceptRejects: Connections refused before relaying (Counter)
	// Labels: reason (rate_limit, blacklist, capacity, key)
	AcceptRejects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataplane_accept_rejects_total",
			Help: "Total connections rejected at accept time",
		},
		[]string{"reason"},
	)

	// BackendDials: Backend dial outcomes (Counter)
	// Labels: status (success/error)
	BackendDials = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataplane_backend_dials_total",
			Help: "Total backend dial attempts",
		},
		[]string{"status"},
	)

	// BackendDialDuration: Backend dial latency (Histogram)
	BackendDialDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dataplane_backend_dial_duration_seconds",
			Help:    "Backend dial latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	// ============================================================================
	// Upstream Health Metrics
	// ============================================================================

	// UpstreamHealth: Upstream health status (Gauge, 1=healthy, 0=unhealthy)
	// Labels: upstream
	UpstreamHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dataplane_upstream_health",
			Help: "Upstream health status (1=healthy, 0=unhealthy)",
		},
		[]string{"upstream"},
	)

	// ============================================================================
	// Admin API Metrics
	// ============================================================================

	// AdminRequests: Admin API requests (Counter)
	// Labels: path, status
	AdminRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dataplane_admin_requests_total",
			Help: "Total admin API requests",
		},
		[]string{"path", "status"},
	)

	// AdminDuration: Admin API latency (Histogram)
	// Labels: path
	AdminDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dataplane_admin_request_duration_seconds",
			Help:    "Admin API latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		},
		[]string{"path"},
	)
)

// IncActiveSessions counts a newly accepted session.
func IncActiveSessions() {
	ActiveSessions.Inc()
	SessionsTotal.Inc()
}

func DecActiveSessions() {
	ActiveSessions.Dec()
}

// RecordSessionDuration records a finished session's lifetime.
func RecordSessionDuration(durationSeconds float64) {
	SessionDuration.Observe(durationSeconds)
}

// RecordRelayBytes counts bytes moved in one direction.
func RecordRelayBytes(direction string, n int64) {
	RelayBytes.WithLabelValues(direction).Add(float64(n))
}

// RecordRelayVerdict counts a pairing decision.
func RecordRelayVerdict(action string) {
	RelayVerdicts.WithLabelValues(action).Inc()
}

// RecordAcceptReject counts a refused connection.
func RecordAcceptReject(reason string) {
	AcceptRejects.WithLabelValues(reason).Inc()
}

// RecordBackendDial records a dial attempt and its latency.
func RecordBackendDial(status string, durationSeconds float64) {
	BackendDials.WithLabelValues(status).Inc()
	BackendDialDuration.Observe(durationSeconds)
}

// SetUpstreamHealth sets upstream health status.
func SetUpstreamHealth(upstream string, healthy bool) {
	health := 0.0
	if healthy {
		health = 1.0
	}
	UpstreamHealth.WithLabelValues(upstream).Set(health)
}

// RecordAdminRequest records an admin API call.
func RecordAdminRequest(path, status string, durationSeconds float64) {
	AdminRequests.WithLabelValues(path, status).Inc()
	AdminDuration.WithLabelValues(path).Observe(durationSeconds)
}

// WireTables exposes the live pipeline counters and table occupancy.
// Call once at startup; reg == nil selects the default registerer.
func WireTables(reg prometheus.Registerer, tbls *filter.Tables, registry *redirect.Registry) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	if tbls != nil {
		for _, s := range filter.AllStats {
			s := s
			factory.NewCounterFunc(prometheus.CounterOpts{
				Name:        "dataplane_filter_packets_total",
				Help:        "Ingress filter pipeline counters by stat slot",
				ConstLabels: prometheus.Labels{"stat": s.String()},
			}, func() float64 {
				return float64(tbls.Stats.Load(int(s)))
			})
		}
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "dataplane_blacklist_entries",
			Help: "Current blacklist occupancy",
		}, func() float64 {
			return float64(tbls.Blacklist.Len())
		})
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "dataplane_rate_sources",
			Help: "Sources metered in the current rate window",
		}, func() float64 {
			return float64(tbls.Rates.Len())
		})
	}

	if registry != nil {
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "dataplane_registered_sockets",
			Help: "Sockets registered for redirect",
		}, func() float64 {
			return float64(registry.SocketCount())
		})
		factory.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "dataplane_installed_pairs",
			Help: "Directed pairings installed",
		}, func() float64 {
			return float64(registry.PairCount())
		})
	}
}
