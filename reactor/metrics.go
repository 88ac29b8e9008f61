package reactor

import (
	"sync"
	"sync/atomic"
	"time"
)

// latencyMetrics tracks tick-latency percentiles via a quantileEstimator
// per tracked percentile.
type latencyMetrics struct {
	mu    sync.Mutex
	p50   *quantileEstimator
	p99   *quantileEstimator
	count int64
}

func newLatencyMetrics() *latencyMetrics {
	return &latencyMetrics{
		p50: newQuantileEstimator(0.50),
		p99: newQuantileEstimator(0.99),
	}
}

func (m *latencyMetrics) Record(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	us := float64(d.Microseconds())
	m.p50.Update(us)
	m.p99.Update(us)
	m.count++
}

// Sample returns the current p50/p99 latency estimates in microseconds.
func (m *latencyMetrics) Sample() (p50, p99 float64, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.p50.Quantile(), m.p99.Quantile(), m.count
}

// queueMetrics tracks queue depth counters updated from the tick loop.
type queueMetrics struct {
	external atomic.Int64
	internal atomic.Int64
	micro    atomic.Int64
}

func (m *queueMetrics) UpdateExternal(n int) { m.external.Store(int64(n)) }
func (m *queueMetrics) UpdateInternal(n int) { m.internal.Store(int64(n)) }
func (m *queueMetrics) UpdateMicrotask(n int) { m.micro.Store(int64(n)) }

// Metrics is the read-only snapshot exposed by Reactor.Metrics.
type Metrics struct {
	TickP50Micros   float64
	TickP99Micros   float64
	TickCount       int64
	ExternalQueueN  int64
	InternalQueueN  int64
	MicrotaskQueueN int64
}

// Metrics returns a point-in-time snapshot of the reactor's instrumentation.
func (r *Reactor) Metrics() Metrics {
	p50, p99, count := r.latency.Sample()
	return Metrics{
		TickP50Micros:   p50,
		TickP99Micros:   p99,
		TickCount:       count,
		ExternalQueueN:  r.queueStats.external.Load(),
		InternalQueueN:  r.queueStats.internal.Load(),
		MicrotaskQueueN: r.queueStats.micro.Load(),
	}
}
