package control

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebugProbesDumpState(t *testing.T) {
	dp := NewDebugProbes()
	dp.RegisterProbe("connections", func() any { return 3 })
	RegisterPlatformProbes(dp)

	state := dp.DumpState()
	assert.Equal(t, 3, state["connections"])
	assert.Contains(t, state, "platform.cpus")
	assert.Contains(t, dp.Names(), "platform.os")

	dp.UnregisterProbe("connections")
	assert.NotContains(t, dp.DumpState(), "connections")
}

func TestNoopMetricsWhenNoRegistry(t *testing.T) {
	m := NewMetrics(nil)
	_, ok := m.(noopMetrics)
	assert.True(t, ok)
	m.BatchServed("accept", 5)
}

func TestPrometheusMetricsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg).(*promMetrics)

	m.ConnectionAccepted()
	m.ConnectionClosed("peer_closed")
	m.ConnectionClosed("peer_closed")
	m.BatchServed("accept", 5)
	m.BatchServed("reject", 2000)
	m.BytesWritten(100)
	m.BytesWritten(-1)
	m.SetActiveConnections(7)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.accepted))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.closed.WithLabelValues("peer_closed")))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.requests.WithLabelValues("accept")))
	assert.Equal(t, 2000.0, testutil.ToFloat64(m.requests.WithLabelValues("reject")))
	assert.Equal(t, 100.0, testutil.ToFloat64(m.bytes))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.active))
}

func TestEndpointServesStateAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg).ConnectionAccepted()
	dp := NewDebugProbes()
	dp.RegisterProbe("registrations", func() any { return 2 })

	ep, err := NewEndpoint("127.0.0.1:0", reg, dp)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ep.Serve(ctx) }()

	base := "http://" + ep.Addr().String()
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(base + "/debug/state")
	require.NoError(t, err)
	var state map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	resp.Body.Close()
	assert.Equal(t, float64(2), state["registrations"])

	resp, err = client.Get(base + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), "hioload_connections_accepted_total")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("endpoint did not stop")
	}
}

func TestEndpointWithoutMetrics(t *testing.T) {
	ep, err := NewEndpoint("127.0.0.1:0", nil, nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = ep.Serve(ctx) }()

	resp, err := (&http.Client{Timeout: 2 * time.Second}).Get("http://" + ep.Addr().String() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}
