package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	ticksApplied     atomic.Uint64
	favoritesToggled atomic.Uint64
	symbolSwitches   atomic.Uint64
	errorsTotal      atomic.Uint64

	// Tick latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeClients     atomic.Int32
	simulationRunning atomic.Int32 // 1 = running, 0 = stopped
}

// NewMetrics returns a zeroed Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// RecordTick records one applied tick with the time it took.
func (m *Metrics) RecordTick(latencyNs int64) {
	m.ticksApplied.Add(1)
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// RecordFavoriteToggle records a favorites mutation.
func (m *Metrics) RecordFavoriteToggle() {
	m.favoritesToggled.Add(1)
}

// RecordSymbolSwitch records a symbol switch.
func (m *Metrics) RecordSymbolSwitch() {
	m.symbolSwitches.Add(1)
}

// IncrementClients increments connected UI clients by 1.
func (m *Metrics) IncrementClients() {
	m.activeClients.Add(1)
}

// DecrementClients decrements connected UI clients by 1.
func (m *Metrics) DecrementClients() {
	m.activeClients.Add(-1)
}

// SetSimulationRunning sets the tick loop state.
func (m *Metrics) SetSimulationRunning(running bool) {
	if running {
		m.simulationRunning.Store(1)
	} else {
		m.simulationRunning.Store(0)
	}
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	TicksApplied      uint64    `json:"ticks_applied"`
	FavoritesToggled  uint64    `json:"favorites_toggled"`
	SymbolSwitches    uint64    `json:"symbol_switches"`
	ErrorsTotal       uint64    `json:"errors_total"`
	AvgTickLatencyNs  int64     `json:"avg_tick_latency_ns"`
	ActiveClients     int32     `json:"active_clients"`
	SimulationRunning bool      `json:"simulation_running"`
	Timestamp         time.Time `json:"timestamp"`
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		TicksApplied:      m.ticksApplied.Load(),
		FavoritesToggled:  m.favoritesToggled.Load(),
		SymbolSwitches:    m.symbolSwitches.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		AvgTickLatencyNs:  avgLatency,
		ActiveClients:     m.activeClients.Load(),
		SimulationRunning: m.simulationRunning.Load() == 1,
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.ticksApplied.Store(0)
	m.favoritesToggled.Store(0)
	m.symbolSwitches.Store(0)
	m.errorsTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeClients.Store(0)
	m.simulationRunning.Store(0)
}
