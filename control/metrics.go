// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Reactor metrics. Prometheus-backed when a registerer is supplied,
// otherwise every call is a no-op.

package control

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics receives reactor and connection lifecycle observations.
// All methods are called from the reactor goroutine and must not block.
type Metrics interface {
	// ConnectionAccepted counts a connection that was configured and registered.
	ConnectionAccepted()

	// ConnectionRejected counts an accepted socket closed before registration.
	// reason: rate_limit, max_connections, configure.
	ConnectionRejected(reason string)

	// ConnectionClosed counts a connection teardown.
	// reason: peer_closed, read_error, write_error, hangup, pipeline_overflow, idle, slow_consumer, shutdown.
	ConnectionClosed(reason string)

	// BatchServed records one reply batch of k units with the given outcome.
	BatchServed(outcome string, k int)

	// BytesWritten counts bytes accepted by the kernel.
	BytesWritten(n int)

	// ShortWrite counts writes that left bytes queued for write readiness.
	ShortWrite()

	// LoopWakeup records the size of one readiness batch.
	LoopWakeup(ready int)

	// SetActiveConnections publishes the number of open connections.
	SetActiveConnections(n int)
}

// NewMetrics returns Prometheus metrics registered on reg, or a no-op set when reg is nil.
func NewMetrics(reg prometheus.Registerer) Metrics {
	if reg == nil {
		return NewNoopMetrics()
	}
	f := promauto.With(reg)
	return &promMetrics{
		accepted: f.NewCounter(prometheus.CounterOpts{
			Name: "hioload_connections_accepted_total",
			Help: "Connections accepted and registered with the reactor",
		}),
		rejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hioload_connections_rejected_total",
			Help: "Accepted sockets closed before registration, by reason",
		}, []string{"reason"}),
		closed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hioload_connections_closed_total",
			Help: "Connections torn down, by reason",
		}, []string{"reason"}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Name: "hioload_connections_active",
			Help: "Currently open client connections",
		}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "hioload_requests_total",
			Help: "Requests answered, by outcome",
		}, []string{"outcome"}),
		depth: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "hioload_pipeline_depth",
			Help:    "Requests detected per read",
			Buckets: []float64{1, 2, 4, 8, 16, 64, 256, 1024, 4096},
		}, []string{"outcome"}),
		bytes: f.NewCounter(prometheus.CounterOpts{
			Name: "hioload_bytes_written_total",
			Help: "Reply bytes accepted by the kernel",
		}),
		shortWrites: f.NewCounter(prometheus.CounterOpts{
			Name: "hioload_short_writes_total",
			Help: "Writes that left bytes pending for write readiness",
		}),
		ready: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "hioload_loop_ready_events",
			Help:    "Descriptors reported ready per wait",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
		}),
	}
}

type promMetrics struct {
	accepted    prometheus.Counter
	rejected    *prometheus.CounterVec
	closed      *prometheus.CounterVec
	active      prometheus.Gauge
	requests    *prometheus.CounterVec
	depth       *prometheus.HistogramVec
	bytes       prometheus.Counter
	shortWrites prometheus.Counter
	ready       prometheus.Histogram
}

func (m *promMetrics) ConnectionAccepted()              { m.accepted.Inc() }
func (m *promMetrics) ConnectionRejected(reason string) { m.rejected.WithLabelValues(reason).Inc() }
func (m *promMetrics) ConnectionClosed(reason string)   { m.closed.WithLabelValues(reason).Inc() }
func (m *promMetrics) ShortWrite()                      { m.shortWrites.Inc() }
func (m *promMetrics) LoopWakeup(ready int)             { m.ready.Observe(float64(ready)) }
func (m *promMetrics) SetActiveConnections(n int)       { m.active.Set(float64(n)) }

func (m *promMetrics) BatchServed(outcome string, k int) {
	m.requests.WithLabelValues(outcome).Add(float64(k))
	m.depth.WithLabelValues(outcome).Observe(float64(k))
}

func (m *promMetrics) BytesWritten(n int) {
	if n > 0 {
		m.bytes.Add(float64(n))
	}
}

type noopMetrics struct{}

// NewNoopMetrics returns a Metrics that records nothing.
func NewNoopMetrics() Metrics { return noopMetrics{} }

func (noopMetrics) ConnectionAccepted()         {}
func (noopMetrics) ConnectionRejected(string)   {}
func (noopMetrics) ConnectionClosed(string)     {}
func (noopMetrics) BatchServed(string, int)     {}
func (noopMetrics) BytesWritten(int)            {}
func (noopMetrics) ShortWrite()                 {}
func (noopMetrics) LoopWakeup(int)              {}
func (noopMetrics) SetActiveConnections(int)    {}
