package monitoring

import (
	"meshvoice/internal/core/domain"
	"meshvoice/internal/core/ports"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type PrometheusCollector struct {
	// Sessions
	sessionsActive      *prometheus.GaugeVec
	sessionsTotal       *prometheus.CounterVec
	connectionStates    *prometheus.CounterVec
	negotiationDuration *prometheus.HistogramVec

	// Heartbeat
	heartbeatLatency  prometheus.Histogram
	heartbeatTimeouts prometheus.Counter

	// Signaling
	signalsSent     *prometheus.CounterVec
	signalsReceived *prometheus.CounterVec

	// Media and membership
	rtcpPackets      *prometheus.CounterVec
	membershipMerges *prometheus.CounterVec
}

var _ ports.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheusCollector registers the metrics with reg. A nil reg uses the
// default registry.
func NewPrometheusCollector(reg prometheus.Registerer) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusCollector{
		sessionsActive: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meshvoice_sessions_active",
			Help: "Number of open peer sessions",
		}, []string{"role"}),

		sessionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshvoice_sessions_total",
			Help: "Total number of peer sessions opened",
		}, []string{"role"}),

		connectionStates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshvoice_connection_state_transitions_total",
			Help: "Connection state transitions reported by peer sessions",
		}, []string{"state"}),

		negotiationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "meshvoice_negotiation_duration_seconds",
			Help:    "Time from transport creation to the first connected state",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"role"}),

		heartbeatLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshvoice_heartbeat_latency_seconds",
			Help:    "Data channel ping round trip time",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		heartbeatTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Name: "meshvoice_heartbeat_timeouts_total",
			Help: "Pings that were not answered in time",
		}),

		signalsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshvoice_signals_sent_total",
			Help: "Signaling messages handed to the relay",
		}, []string{"type", "result"}),

		signalsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshvoice_signals_received_total",
			Help: "Valid signaling messages received from the relay",
		}, []string{"type"}),

		rtcpPackets: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshvoice_rtcp_packets_total",
			Help: "RTCP packets read from senders and receivers",
		}, []string{"direction", "type"}),

		membershipMerges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshvoice_membership_merges_total",
			Help: "Presence merges by outcome",
		}, []string{"outcome"}),
	}
}

func (p *PrometheusCollector) SessionOpened(role domain.Role) {
	p.sessionsActive.WithLabelValues(string(role)).Inc()
	p.sessionsTotal.WithLabelValues(string(role)).Inc()
}

func (p *PrometheusCollector) SessionClosed(role domain.Role) {
	p.sessionsActive.WithLabelValues(string(role)).Dec()
}

func (p *PrometheusCollector) ConnectionState(state domain.ConnectionState) {
	p.connectionStates.WithLabelValues(string(state)).Inc()
}

func (p *PrometheusCollector) HeartbeatLatency(ms int64) {
	p.heartbeatLatency.Observe(float64(ms) / 1000)
}

func (p *PrometheusCollector) HeartbeatTimeout() {
	p.heartbeatTimeouts.Inc()
}

func (p *PrometheusCollector) SignalSent(signalType domain.SignalType, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	p.signalsSent.WithLabelValues(string(signalType), result).Inc()
}

func (p *PrometheusCollector) SignalReceived(signalType domain.SignalType) {
	p.signalsReceived.WithLabelValues(string(signalType)).Inc()
}

func (p *PrometheusCollector) NegotiationDuration(role domain.Role, seconds float64) {
	p.negotiationDuration.WithLabelValues(string(role)).Observe(seconds)
}

func (p *PrometheusCollector) RTCPPacket(direction, packetType string) {
	p.rtcpPackets.WithLabelValues(direction, packetType).Inc()
}

func (p *PrometheusCollector) MembershipMerge(outcome domain.MergeOutcome) {
	p.membershipMerges.WithLabelValues(string(outcome)).Inc()
}
