package monitoring

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"meshvoice/internal/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gathered(t *testing.T, reg *prometheus.Registry) map[string]float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)

	out := make(map[string]float64)
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			// labels come sorted by name
			key := mf.GetName()
			for _, l := range m.GetLabel() {
				key += "|" + l.GetValue()
			}
			switch {
			case m.GetCounter() != nil:
				out[key] = m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				out[key] = m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				out[key] = float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return out
}

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewPrometheusCollector(reg)

	c.SessionOpened(domain.RoleOfferer)
	c.SessionOpened(domain.RoleOfferer)
	c.SessionClosed(domain.RoleOfferer)
	c.ConnectionState(domain.StateConnected)
	c.HeartbeatLatency(40)
	c.HeartbeatTimeout()
	c.SignalSent(domain.SignalAskOffer, nil)
	c.SignalSent(domain.SignalAskOffer, errors.New("unreachable"))
	c.SignalReceived(domain.SignalOfferWithCandidates)
	c.NegotiationDuration(domain.RoleAnswerer, 1.5)
	c.RTCPPacket("inbound", "receiver_report")
	c.MembershipMerge(domain.MergeAdded)

	m := gathered(t, reg)
	assert.Equal(t, 1.0, m["meshvoice_sessions_active|offerer"])
	assert.Equal(t, 2.0, m["meshvoice_sessions_total|offerer"])
	assert.Equal(t, 1.0, m["meshvoice_connection_state_transitions_total|connected"])
	assert.Equal(t, 1.0, m["meshvoice_heartbeat_latency_seconds"])
	assert.Equal(t, 1.0, m["meshvoice_heartbeat_timeouts_total"])
	assert.Equal(t, 1.0, m["meshvoice_signals_sent_total|error|ask-offer"])
	assert.Equal(t, 1.0, m["meshvoice_signals_received_total|offer-with-candidates"])
	assert.Equal(t, 1.0, m["meshvoice_negotiation_duration_seconds|answerer"])
	assert.Equal(t, 1.0, m["meshvoice_rtcp_packets_total|inbound|receiver_report"])
	assert.Equal(t, 1.0, m["meshvoice_membership_merges_total|"+string(domain.MergeAdded)])
}

func TestHealthChecker(t *testing.T) {
	h := NewHealthChecker()
	h.AddCheck("ok", func(ctx context.Context) (bool, error) { return true, nil }, time.Second, time.Second)
	assert.True(t, h.IsReady(context.Background()))

	h.AddCheck("down", func(ctx context.Context) (bool, error) { return false, errors.New("down") }, time.Second, time.Second)
	status := h.CheckAll(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "healthy", status.Checks["ok"])
	assert.Equal(t, "down", status.Checks["down"])
	assert.False(t, h.IsReady(context.Background()))
}

func TestHealthChecker_BackgroundResultsServeStatus(t *testing.T) {
	var calls atomic.Int32
	var failing atomic.Bool

	h := NewHealthChecker()
	h.AddCheck("store", func(ctx context.Context) (bool, error) {
		calls.Add(1)
		if failing.Load() {
			return false, errors.New("store unreachable")
		}
		return true, nil
	}, time.Hour, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.StartBackgroundChecks(ctx)

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.IsReady(context.Background()) }, time.Second, 5*time.Millisecond)

	// Reads come from the cached result; the check is not run again.
	failing.Store(true)
	for i := 0; i < 3; i++ {
		status := h.Status(context.Background())
		assert.Equal(t, "healthy", status.Status)
		assert.Equal(t, "healthy", status.Checks["store"])
	}
	assert.Equal(t, int32(1), calls.Load())
}

func TestHealthChecker_BackgroundPicksUpFailures(t *testing.T) {
	var failing atomic.Bool
	h := NewHealthChecker()
	h.AddCheck("redis", func(ctx context.Context) (bool, error) {
		if failing.Load() {
			return false, errors.New("connection refused")
		}
		return true, nil
	}, 10*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.StartBackgroundChecks(ctx)
	require.Eventually(t, func() bool { return h.IsReady(context.Background()) }, time.Second, 5*time.Millisecond)

	failing.Store(true)
	require.Eventually(t, func() bool {
		return h.Status(context.Background()).Checks["redis"] == "connection refused"
	}, time.Second, 5*time.Millisecond)
	assert.False(t, h.IsReady(context.Background()))
}

func TestHealthChecker_PendingUntilFirstRun(t *testing.T) {
	h := NewHealthChecker()
	release := make(chan struct{})
	h.AddCheck("slow", func(ctx context.Context) (bool, error) {
		<-release
		return true, nil
	}, time.Hour, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.StartBackgroundChecks(ctx)

	status := h.Status(context.Background())
	assert.Equal(t, "unhealthy", status.Status)
	assert.Equal(t, "pending", status.Checks["slow"])

	close(release)
	require.Eventually(t, func() bool { return h.IsReady(context.Background()) }, time.Second, 5*time.Millisecond)
}
