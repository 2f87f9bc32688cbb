package worker

import (
	"sync"
	"time"
)

// TickMonitor accumulates timing statistics for the worker loop.
type TickMonitor struct {
	mu      sync.Mutex
	samples int
	total   time.Duration
	max     time.Duration
	last    time.Duration
}

// NewTickMonitor constructs an empty monitor ready to collect samples.
func NewTickMonitor() *TickMonitor {
	return &TickMonitor{}
}

// Observe records the duration of a completed simulation pass.
func (m *TickMonitor) Observe(duration time.Duration) {
	if m == nil || duration <= 0 {
		return
	}
	m.mu.Lock()
	//1.- Accumulate the sample count and aggregate duration for averages.
	m.samples++
	m.total += duration
	//2.- Track the worst-case pass so operators can spot spikes quickly.
	if duration > m.max {
		m.max = duration
	}
	m.last = duration
	m.mu.Unlock()
}

// Snapshot returns a copy of the aggregated tick statistics.
func (m *TickMonitor) Snapshot() TickMetricsSnapshot {
	if m == nil {
		return TickMetricsSnapshot{}
	}
	m.mu.Lock()
	samples := m.samples
	total := m.total
	max := m.max
	last := m.last
	m.mu.Unlock()

	average := time.Duration(0)
	if samples > 0 {
		average = total / time.Duration(samples)
	}
	return TickMetricsSnapshot{Samples: samples, Average: average, Max: max, Last: last}
}
