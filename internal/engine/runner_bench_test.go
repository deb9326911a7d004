package engine

import (
	"testing"
	"time"

	"poly_trader/internal/domain"
	"poly_trader/internal/event"

	"github.com/shopspring/decimal"
)

// BenchmarkRunner_ProcessTick measures the tick hotpath from feed callback
// to price state, including pool reuse.
func BenchmarkRunner_ProcessTick(b *testing.B) {
	r := NewRunner(Config{InboxSize: 1}, Components{})
	event.Warmup()

	tick := domain.PriceTick{
		Symbol:    "up-tok",
		Price:     decimal.RequireFromString("0.52"),
		Timestamp: time.Unix(1772366400, 0),
		Source:    "polymarket_ws",
	}

	b.ResetTimer()
	b.ReportAllocs()

	for i := 0; i < b.N; i++ {
		r.OnTick(tick)
		r.processEvent(<-r.inbox)
	}
}
