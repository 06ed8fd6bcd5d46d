package ptpfilter

import (
	"testing"
	"time"
)

func TestMetricsFrameCounters(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.FramesProduced != 0 {
		t.Errorf("Expected 0 initial frames produced, got %d", snap.FramesProduced)
	}

	m.RecordFrameProduced(1_000_000, 65536, true)
	m.RecordFrameProduced(2_000_000, 32768, true)
	m.RecordFrameProduced(500_000, 0, false)
	m.RecordFrameServed(100_000, 65536)

	snap = m.Snapshot()
	if snap.FramesProduced != 2 {
		t.Errorf("Expected 2 frames produced, got %d", snap.FramesProduced)
	}
	if snap.FramesDropped != 1 {
		t.Errorf("Expected 1 frame dropped, got %d", snap.FramesDropped)
	}
	if snap.BytesProduced != 65536+32768 {
		t.Errorf("Expected %d bytes produced, got %d", 65536+32768, snap.BytesProduced)
	}
	if snap.FramesServed != 1 {
		t.Errorf("Expected 1 frame served, got %d", snap.FramesServed)
	}
	if snap.BytesServed != 65536 {
		t.Errorf("Expected 65536 bytes served, got %d", snap.BytesServed)
	}
}

func TestMetricsDropRate(t *testing.T) {
	m := NewMetrics()
	m.RecordFrameProduced(0, 100, true)
	m.RecordFrameProduced(0, 100, true)
	m.RecordFrameProduced(0, 0, false)

	snap := m.Snapshot()
	expected := 1.0 / 3.0
	if snap.DropRate < expected-0.01 || snap.DropRate > expected+0.01 {
		t.Errorf("Expected drop rate ~%.2f, got %.2f", expected, snap.DropRate)
	}
}

func TestMetricsStateAndBypassCounters(t *testing.T) {
	m := NewMetrics()
	m.RecordStateTransition("idle", "command")
	m.RecordStateTransition("command", "idle")
	m.RecordBypass("malformed header")

	snap := m.Snapshot()
	if snap.StateTransitions != 2 {
		t.Errorf("Expected 2 state transitions, got %d", snap.StateTransitions)
	}
	if snap.BypassCount != 1 {
		t.Errorf("Expected 1 bypass, got %d", snap.BypassCount)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()
	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	if snap.UptimeNs < 10*1_000_000 {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	time.Sleep(5 * time.Millisecond)

	snap2 := m.Snapshot()
	if snap2.UptimeNs > snap.UptimeNs+5_000_000 {
		t.Errorf("Uptime increased too much after stop: %d -> %d", snap.UptimeNs, snap2.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.RecordFrameProduced(1000, 1024, true)
	m.RecordFrameServed(1000, 1024)
	m.RecordBypass("test")

	snap := m.Snapshot()
	if snap.FramesProduced == 0 {
		t.Error("Expected some frames before reset")
	}

	m.Reset()

	snap = m.Snapshot()
	if snap.FramesProduced != 0 || snap.FramesServed != 0 || snap.BypassCount != 0 {
		t.Errorf("Expected all counters zero after reset, got %+v", snap)
	}
}

func TestObserverImplementations(t *testing.T) {
	observer := &NoOpObserver{}
	observer.ObserveFrameProduced(1000, 1024, true)
	observer.ObserveFrameServed(1000, 1024)
	observer.ObserveFrameDropped()
	observer.ObserveStateTransition("idle", "active")
	observer.ObserveBypass("test")

	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObserveFrameProduced(1000, 1024, true)
	metricsObserver.ObserveFrameServed(500, 512)
	metricsObserver.ObserveBypass("reason")

	snap := m.Snapshot()
	if snap.FramesProduced != 1 {
		t.Errorf("Expected 1 frame produced via observer, got %d", snap.FramesProduced)
	}
	if snap.FramesServed != 1 {
		t.Errorf("Expected 1 frame served via observer, got %d", snap.FramesServed)
	}
	if snap.BypassCount != 1 {
		t.Errorf("Expected 1 bypass via observer, got %d", snap.BypassCount)
	}
}

func TestMetricsHistogramPercentiles(t *testing.T) {
	m := NewMetrics()

	for i := 0; i < 50; i++ {
		m.RecordFrameProduced(500_000, 1024, true) // 500us
	}
	for i := 0; i < 49; i++ {
		m.RecordFrameProduced(5_000_000, 1024, true) // 5ms
	}
	m.RecordFrameProduced(50_000_000, 1024, true) // 50ms

	snap := m.Snapshot()
	if snap.ProduceLatencyP50Ns < 100_000 || snap.ProduceLatencyP50Ns > 1_000_000 {
		t.Errorf("Expected P50 in 100us-1ms range, got %d ns", snap.ProduceLatencyP50Ns)
	}
	if snap.ProduceLatencyP99Ns < 5_000_000 || snap.ProduceLatencyP99Ns > 100_000_000 {
		t.Errorf("Expected P99 in 5ms-100ms range, got %d ns", snap.ProduceLatencyP99Ns)
	}
}
