package ptpfilter

import (
	"sync/atomic"
	"time"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds,
// covering from 1us to 10s with logarithmic spacing — wide enough to
// span both a fast injected preview round trip and a stalled device.
var LatencyBuckets = []uint64{
	1_000,          // 1us
	10_000,         // 10us
	100_000,        // 100us
	1_000_000,      // 1ms
	10_000_000,     // 10ms
	100_000_000,    // 100ms
	1_000_000_000,  // 1s
	10_000_000_000, // 10s
}

const numLatencyBuckets = 8

// Metrics tracks per-filter operational statistics: frame throughput,
// state-machine activity, and bypass events.
type Metrics struct {
	FramesProduced atomic.Uint64 // Injected preview frames stored with an OK PTP response
	FramesServed   atomic.Uint64 // Frames fully delivered to a client IN read
	FramesDropped  atomic.Uint64 // Injected preview frames with a non-OK PTP response, plus RecordFrameDropped calls

	BytesProduced atomic.Uint64
	BytesServed   atomic.Uint64

	StateTransitions atomic.Uint64
	BypassCount      atomic.Uint64

	// Produce-latency tracking: whatever latency is passed to
	// RecordFrameProduced. The filter core reports 0 for every produced
	// frame, so these values reflect only latencies recorded directly.
	TotalProduceLatencyNs atomic.Uint64
	ProduceCount          atomic.Uint64
	ProduceLatencyBuckets [numLatencyBuckets]atomic.Uint64

	StartTime atomic.Int64
	StopTime  atomic.Int64
}

// NewMetrics creates a new metrics instance with StartTime set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordFrameProduced records one injected preview transaction's
// completion.
func (m *Metrics) RecordFrameProduced(latencyNs uint64, bytes uint64, ok bool) {
	if ok {
		m.FramesProduced.Add(1)
		m.BytesProduced.Add(bytes)
	} else {
		m.FramesDropped.Add(1)
	}
	m.TotalProduceLatencyNs.Add(latencyNs)
	m.ProduceCount.Add(1)
	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			m.ProduceLatencyBuckets[i].Add(1)
		}
	}
}

// RecordFrameServed records one frame fully delivered to a client.
func (m *Metrics) RecordFrameServed(latencyNs uint64, bytes uint64) {
	m.FramesServed.Add(1)
	m.BytesServed.Add(bytes)
}

// RecordFrameDropped records a frame discarded under backpressure.
func (m *Metrics) RecordFrameDropped() {
	m.FramesDropped.Add(1)
}

// RecordStateTransition records one state-machine transition.
func (m *Metrics) RecordStateTransition(from, to string) {
	m.StateTransitions.Add(1)
}

// RecordBypass records the filter entering its terminal bypassed state.
func (m *Metrics) RecordBypass(reason string) {
	m.BypassCount.Add(1)
}

// Stop marks the filter as stopped.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics' counters plus
// derived statistics.
type MetricsSnapshot struct {
	FramesProduced uint64
	FramesServed   uint64
	FramesDropped  uint64

	BytesProduced uint64
	BytesServed   uint64

	StateTransitions uint64
	BypassCount      uint64

	AvgProduceLatencyNs uint64
	UptimeNs            uint64

	ProduceLatencyP50Ns  uint64
	ProduceLatencyP99Ns  uint64
	ProduceLatencyP999Ns uint64

	ProduceLatencyHistogram [numLatencyBuckets]uint64

	ProducedFPS float64
	ServedFPS   float64
	DropRate    float64 // fraction of produce attempts dropped
}

// Snapshot creates a point-in-time snapshot of metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		FramesProduced:   m.FramesProduced.Load(),
		FramesServed:     m.FramesServed.Load(),
		FramesDropped:    m.FramesDropped.Load(),
		BytesProduced:    m.BytesProduced.Load(),
		BytesServed:      m.BytesServed.Load(),
		StateTransitions: m.StateTransitions.Load(),
		BypassCount:      m.BypassCount.Load(),
	}

	produceCount := m.ProduceCount.Load()
	if produceCount > 0 {
		snap.AvgProduceLatencyNs = m.TotalProduceLatencyNs.Load() / produceCount
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		uptimeSeconds := float64(snap.UptimeNs) / 1e9
		snap.ProducedFPS = float64(snap.FramesProduced) / uptimeSeconds
		snap.ServedFPS = float64(snap.FramesServed) / uptimeSeconds
	}

	attempts := snap.FramesProduced + snap.FramesDropped
	if attempts > 0 {
		snap.DropRate = float64(snap.FramesDropped) / float64(attempts)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.ProduceLatencyHistogram[i] = m.ProduceLatencyBuckets[i].Load()
	}

	if produceCount > 0 {
		snap.ProduceLatencyP50Ns = m.calculatePercentile(0.50)
		snap.ProduceLatencyP99Ns = m.calculatePercentile(0.99)
		snap.ProduceLatencyP999Ns = m.calculatePercentile(0.999)
	}

	return snap
}

// calculatePercentile estimates the latency at the given percentile
// (0.0-1.0) using linear interpolation between histogram buckets.
func (m *Metrics) calculatePercentile(percentile float64) uint64 {
	total := m.ProduceCount.Load()
	if total == 0 {
		return 0
	}
	targetCount := uint64(float64(total) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := m.ProduceLatencyBuckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = m.ProduceLatencyBuckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}
	return LatencyBuckets[numLatencyBuckets-1]
}

// Reset zeroes all counters (useful for testing).
func (m *Metrics) Reset() {
	m.FramesProduced.Store(0)
	m.FramesServed.Store(0)
	m.FramesDropped.Store(0)
	m.BytesProduced.Store(0)
	m.BytesServed.Store(0)
	m.StateTransitions.Store(0)
	m.BypassCount.Store(0)
	m.TotalProduceLatencyNs.Store(0)
	m.ProduceCount.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		m.ProduceLatencyBuckets[i].Store(0)
	}
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer is the pluggable metrics-collection surface passed to
// Attach, mirroring the method set internal/interfaces.Observer expects
// (the two are structurally identical so a value satisfying this
// interface also satisfies the internal one without an adapter).
type Observer interface {
	ObserveFrameProduced(latencyNs uint64, bytes uint64, ok bool)
	ObserveFrameServed(latencyNs uint64, bytes uint64)
	ObserveFrameDropped()
	ObserveStateTransition(from, to string)
	ObserveBypass(reason string)
}

// NoOpObserver is a no-op Observer.
type NoOpObserver struct{}

func (NoOpObserver) ObserveFrameProduced(uint64, uint64, bool) {}
func (NoOpObserver) ObserveFrameServed(uint64, uint64)         {}
func (NoOpObserver) ObserveFrameDropped()                      {}
func (NoOpObserver) ObserveStateTransition(string, string)     {}
func (NoOpObserver) ObserveBypass(string)                      {}

// MetricsObserver implements Observer by recording into a Metrics.
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records into m.
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveFrameProduced(latencyNs uint64, bytes uint64, ok bool) {
	o.metrics.RecordFrameProduced(latencyNs, bytes, ok)
}

func (o *MetricsObserver) ObserveFrameServed(latencyNs uint64, bytes uint64) {
	o.metrics.RecordFrameServed(latencyNs, bytes)
}

func (o *MetricsObserver) ObserveFrameDropped() {
	o.metrics.RecordFrameDropped()
}

func (o *MetricsObserver) ObserveStateTransition(from, to string) {
	o.metrics.RecordStateTransition(from, to)
}

func (o *MetricsObserver) ObserveBypass(reason string) {
	o.metrics.RecordBypass(reason)
}

var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
