package event

import (
	"sync"

	"poly_trader/internal/domain"
)

// EventPool provides sync.Pool for high-frequency event allocation.
// Use this to reduce GC pressure in the hotpath.
//
// Usage:
//
//	ev := AcquireTickEvent()
//	ev.Symbol = tokenID
//	// ... use event ...
//	ReleaseTickEvent(ev)  // Return to pool after processing
var tickPool = sync.Pool{
	New: func() interface{} {
		return &TickEvent{}
	},
}

// AcquireTickEvent gets a TickEvent from the pool.
// The returned event has zero values and must be initialized.
func AcquireTickEvent() *TickEvent {
	return tickPool.Get().(*TickEvent)
}

// NewTickEvent acquires a pooled event filled from tick.
func NewTickEvent(tick domain.PriceTick) *TickEvent {
	ev := AcquireTickEvent()
	ev.Ts = tick.Timestamp
	ev.Symbol = tick.Symbol
	ev.Price = tick.Price
	ev.Size = tick.Size
	ev.Side = tick.Side
	ev.Source = tick.Source
	return ev
}

// ReleaseTickEvent returns a TickEvent to the pool.
// The event is reset to zero values before being pooled.
func ReleaseTickEvent(ev *TickEvent) {
	if ev == nil {
		return
	}
	*ev = TickEvent{}
	tickPool.Put(ev)
}

// ReconnectEvent pool
var reconnectPool = sync.Pool{
	New: func() interface{} {
		return &ReconnectEvent{}
	},
}

// AcquireReconnectEvent gets a ReconnectEvent from the pool.
func AcquireReconnectEvent() *ReconnectEvent {
	return reconnectPool.Get().(*ReconnectEvent)
}

// ReleaseReconnectEvent returns a ReconnectEvent to the pool.
func ReleaseReconnectEvent(ev *ReconnectEvent) {
	if ev == nil {
		return
	}
	*ev = ReconnectEvent{}
	reconnectPool.Put(ev)
}

// Release returns any pooled event to its pool.
func Release(ev Event) {
	switch e := ev.(type) {
	case *TickEvent:
		ReleaseTickEvent(e)
	case *ReconnectEvent:
		ReleaseReconnectEvent(e)
	}
}

// Warmup pre-allocates event objects to reduce GC pressure at startup.
// It acquires and releases a batch of events.
func Warmup() {
	const batchSize = 1000

	ticks := make([]*TickEvent, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		ticks = append(ticks, AcquireTickEvent())
	}
	for _, ev := range ticks {
		ReleaseTickEvent(ev)
	}
}
