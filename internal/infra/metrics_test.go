package infra

import (
	"testing"
)

func TestMetrics_RecordCycle(t *testing.T) {
	m := &Metrics{}

	m.RecordCycle(1000)
	m.RecordCycle(2000)
	m.RecordCycle(3000)

	snap := m.Snapshot()

	// Average latency: (1000 + 2000 + 3000) / 3 = 2000
	if snap.AvgCycleNs != 2000 {
		t.Errorf("Expected avg latency 2000, got %d", snap.AvgCycleNs)
	}
}

func TestMetrics_Counters(t *testing.T) {
	m := &Metrics{}

	m.RecordTick()
	m.RecordTick()
	m.RecordTrade(false)
	m.RecordTrade(true)
	m.RecordSettlement()
	m.RecordReconnect()
	m.RecordRetry()

	snap := m.Snapshot()
	if snap.TicksReceived != 2 {
		t.Errorf("Expected 2 ticks, got %d", snap.TicksReceived)
	}
	if snap.TradesPlaced != 1 || snap.TradesFailed != 1 {
		t.Errorf("Expected 1 placed / 1 failed, got %d / %d", snap.TradesPlaced, snap.TradesFailed)
	}
	if snap.Settlements != 1 || snap.Reconnects != 1 || snap.Retries != 1 {
		t.Errorf("Unexpected snapshot %+v", snap)
	}
}

func TestMetrics_Connections(t *testing.T) {
	m := &Metrics{}

	m.IncrementConnections()
	m.IncrementConnections()
	m.IncrementConnections()

	snap := m.Snapshot()
	if snap.ActiveConnections != 3 {
		t.Errorf("Expected 3 connections, got %d", snap.ActiveConnections)
	}

	m.DecrementConnections()
	snap = m.Snapshot()
	if snap.ActiveConnections != 2 {
		t.Errorf("Expected 2 connections, got %d", snap.ActiveConnections)
	}
}

func TestMetrics_OpenBreakers(t *testing.T) {
	m := &Metrics{}

	if m.Snapshot().OpenBreakers != 0 {
		t.Error("Expected no open breakers initially")
	}

	m.BreakerOpened()
	m.BreakerOpened()
	if got := m.Snapshot().OpenBreakers; got != 2 {
		t.Errorf("Expected 2 open breakers, got %d", got)
	}

	m.BreakerLeftOpen()
	if got := m.Snapshot().OpenBreakers; got != 1 {
		t.Errorf("Expected 1 open breaker, got %d", got)
	}
}

func TestMetrics_Reset(t *testing.T) {
	m := &Metrics{}

	m.RecordCycle(1000)
	m.RecordError()
	m.IncrementConnections()

	m.Reset()
	snap := m.Snapshot()

	if snap.AvgCycleNs != 0 {
		t.Error("Expected 0 latency after reset")
	}
	if snap.ErrorsTotal != 0 {
		t.Error("Expected 0 errors after reset")
	}
	if snap.ActiveConnections != 0 {
		t.Error("Expected 0 connections after reset")
	}
}
