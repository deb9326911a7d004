package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	ticksReceived atomic.Uint64
	tradesPlaced  atomic.Uint64
	tradesFailed  atomic.Uint64
	ordersFilled  atomic.Uint64
	settlements   atomic.Uint64
	retries       atomic.Uint64
	reconnects    atomic.Uint64
	errorsTotal   atomic.Uint64

	// Loop latency tracking
	latencySumNs atomic.Int64
	latencyCount atomic.Uint64

	// Gauges
	activeConnections atomic.Int32
	openBreakers      atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordTick records a market data tick.
func (m *Metrics) RecordTick() {
	m.ticksReceived.Add(1)
}

// RecordCycle records one primary loop iteration with its latency.
func (m *Metrics) RecordCycle(latencyNs int64) {
	m.latencySumNs.Add(latencyNs)
	m.latencyCount.Add(1)
}

// RecordTrade records a trade placement attempt.
func (m *Metrics) RecordTrade(failed bool) {
	if failed {
		m.tradesFailed.Add(1)
		return
	}
	m.tradesPlaced.Add(1)
}

// RecordOrderFilled records a filled real order.
func (m *Metrics) RecordOrderFilled() {
	m.ordersFilled.Add(1)
}

// RecordSettlement records a settled trade.
func (m *Metrics) RecordSettlement() {
	m.settlements.Add(1)
}

// RecordRetry records a retried outbound call.
func (m *Metrics) RecordRetry() {
	m.retries.Add(1)
}

// RecordReconnect records a feed reconnect.
func (m *Metrics) RecordReconnect() {
	m.reconnects.Add(1)
}

// RecordError records an error occurrence.
func (m *Metrics) RecordError() {
	m.errorsTotal.Add(1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// BreakerOpened marks one more breaker as open.
func (m *Metrics) BreakerOpened() {
	m.openBreakers.Add(1)
}

// BreakerLeftOpen marks one breaker as no longer open.
func (m *Metrics) BreakerLeftOpen() {
	m.openBreakers.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	TicksReceived     uint64
	TradesPlaced      uint64
	TradesFailed      uint64
	OrdersFilled      uint64
	Settlements       uint64
	Retries           uint64
	Reconnects        uint64
	ErrorsTotal       uint64
	AvgCycleNs        int64
	ActiveConnections int32
	OpenBreakers      int32
	Timestamp         time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.latencyCount.Load()
	if count > 0 {
		avgLatency = m.latencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		TicksReceived:     m.ticksReceived.Load(),
		TradesPlaced:      m.tradesPlaced.Load(),
		TradesFailed:      m.tradesFailed.Load(),
		OrdersFilled:      m.ordersFilled.Load(),
		Settlements:       m.settlements.Load(),
		Retries:           m.retries.Load(),
		Reconnects:        m.reconnects.Load(),
		ErrorsTotal:       m.errorsTotal.Load(),
		AvgCycleNs:        avgLatency,
		ActiveConnections: m.activeConnections.Load(),
		OpenBreakers:      m.openBreakers.Load(),
		Timestamp:         time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.ticksReceived.Store(0)
	m.tradesPlaced.Store(0)
	m.tradesFailed.Store(0)
	m.ordersFilled.Store(0)
	m.settlements.Store(0)
	m.retries.Store(0)
	m.reconnects.Store(0)
	m.errorsTotal.Store(0)
	m.latencySumNs.Store(0)
	m.latencyCount.Store(0)
	m.activeConnections.Store(0)
	m.openBreakers.Store(0)
}
