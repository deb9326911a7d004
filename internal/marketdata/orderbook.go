package marketdata

import (
	"sort"
	"time"

	"poly_trader/internal/domain"

	"github.com/shopspring/decimal"
)

// Book sources reported on quotes.
const (
	SourceWebSocket = "websocket"
	SourceREST      = "rest"
)

var hundred = decimal.NewFromInt(100)

// OrderBook is a per-symbol book with bids descending and asks ascending.
// Levels with size <= 0 are never stored, and best bid <= best ask always holds.
// An OrderBook is not safe for concurrent use; owners guard it or hand out clones.
type OrderBook struct {
	Symbol    string                  `json:"symbol"`
	Bids      []domain.OrderBookLevel `json:"bids"`
	Asks      []domain.OrderBookLevel `json:"asks"`
	UpdatedAt time.Time               `json:"updated_at"`
	Source    string                  `json:"source"`
}

// NewOrderBook creates an empty book.
func NewOrderBook(symbol, source string) *OrderBook {
	return &OrderBook{Symbol: symbol, Source: source}
}

// ApplySnapshot replaces both sides wholesale.
// If the snapshot is crossed, bids win and crossing asks are dropped.
func (b *OrderBook) ApplySnapshot(bids, asks []domain.OrderBookLevel, at time.Time) {
	b.Bids = normalizeSide(bids, true)
	b.Asks = normalizeSide(asks, false)
	if len(b.Bids) > 0 {
		b.Asks = trimCrossing(b.Asks, b.Bids[0].Price, false)
	}
	b.UpdatedAt = at
}

// ApplyDelta sets the size of one level. BUY addresses bids, SELL asks.
// A size <= 0 removes the level. Opposite levels the new level strictly
// crosses are removed; unaffected levels keep their order.
func (b *OrderBook) ApplyDelta(side domain.Side, price, size decimal.Decimal, at time.Time) {
	if side == domain.SideBuy {
		b.Bids = setLevel(b.Bids, price, size, true)
		if size.IsPositive() {
			b.Asks = trimCrossing(b.Asks, price, false)
		}
	} else {
		b.Asks = setLevel(b.Asks, price, size, false)
		if size.IsPositive() {
			b.Bids = trimCrossing(b.Bids, price, true)
		}
	}
	b.UpdatedAt = at
}

// BestBid returns the highest bid.
func (b *OrderBook) BestBid() (decimal.Decimal, bool) {
	if len(b.Bids) == 0 {
		return decimal.Zero, false
	}
	return b.Bids[0].Price, true
}

// BestAsk returns the lowest ask.
func (b *OrderBook) BestAsk() (decimal.Decimal, bool) {
	if len(b.Asks) == 0 {
		return decimal.Zero, false
	}
	return b.Asks[0].Price, true
}

// Mid returns the midpoint, or the only quoted side for a one-sided book.
func (b *OrderBook) Mid() (decimal.Decimal, bool) {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	switch {
	case okBid && okAsk:
		return bid.Add(ask).Div(decimal.NewFromInt(2)), true
	case okBid:
		return bid, true
	case okAsk:
		return ask, true
	default:
		return decimal.Zero, false
	}
}

// Spread returns best ask minus best bid, zero for a one-sided book.
func (b *OrderBook) Spread() decimal.Decimal {
	bid, okBid := b.BestBid()
	ask, okAsk := b.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero
	}
	return ask.Sub(bid)
}

// DepthAtBest returns the notional resting at the best level a taker on side would hit.
func (b *OrderBook) DepthAtBest(side domain.Side) decimal.Decimal {
	levels := b.takerLevels(side)
	if len(levels) == 0 {
		return decimal.Zero
	}
	return levels[0].Notional()
}

// Age returns how long ago the book was last updated.
func (b *OrderBook) Age(now time.Time) time.Duration {
	if b.UpdatedAt.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return now.Sub(b.UpdatedAt)
}

// IsEmpty checks if both sides are empty.
func (b *OrderBook) IsEmpty() bool {
	return len(b.Bids) == 0 && len(b.Asks) == 0
}

// Clone returns a deep copy.
func (b *OrderBook) Clone() *OrderBook {
	c := *b
	c.Bids = append([]domain.OrderBookLevel(nil), b.Bids...)
	c.Asks = append([]domain.OrderBookLevel(nil), b.Asks...)
	return &c
}

// Quote is the result of walking a book for a notional amount.
type Quote struct {
	Symbol       string
	Side         domain.Side
	Requested    decimal.Decimal // notional asked for
	Price        decimal.Decimal // volume weighted; zero when nothing filled
	Worst        decimal.Decimal // last level touched
	Shares       decimal.Decimal
	Filled       decimal.Decimal // notional the book could absorb
	FillPct      decimal.Decimal
	SlippagePct  decimal.Decimal // vs best level, never negative
	Insufficient bool
	BestBid      decimal.Decimal
	BestAsk      decimal.Decimal
	Mid          decimal.Decimal
	Spread       decimal.Decimal
	DepthAtBest  decimal.Decimal
	Levels       int // levels touched
	Source       string
	Age          time.Duration
}

// ExecutionPrice walks the side a taker would hit, best price outward,
// until notional is consumed. BUY walks asks, SELL walks bids.
func (b *OrderBook) ExecutionPrice(side domain.Side, notional decimal.Decimal) Quote {
	q := Quote{
		Symbol:      b.Symbol,
		Side:        side,
		Requested:   notional,
		Spread:      b.Spread(),
		DepthAtBest: b.DepthAtBest(side),
		Source:      b.Source,
	}
	q.BestBid, _ = b.BestBid()
	q.BestAsk, _ = b.BestAsk()
	q.Mid, _ = b.Mid()

	remaining := notional
	cost := decimal.Zero
	shares := decimal.Zero
	for _, lvl := range b.takerLevels(side) {
		if !remaining.IsPositive() {
			break
		}
		q.Levels++
		q.Worst = lvl.Price
		value := lvl.Notional()
		if value.GreaterThanOrEqual(remaining) {
			shares = shares.Add(remaining.Div(lvl.Price))
			cost = cost.Add(remaining)
			remaining = decimal.Zero
			break
		}
		shares = shares.Add(lvl.Size)
		cost = cost.Add(value)
		remaining = remaining.Sub(value)
	}

	q.Filled = cost
	q.Shares = shares
	q.Insufficient = remaining.IsPositive()
	if notional.IsPositive() {
		q.FillPct = cost.Div(notional).Mul(hundred)
	} else {
		q.FillPct = hundred
	}
	if shares.IsZero() {
		return q
	}

	q.Price = cost.Div(shares)
	switch {
	case side == domain.SideBuy && q.BestAsk.IsPositive():
		q.SlippagePct = q.Price.Sub(q.BestAsk).Div(q.BestAsk).Mul(hundred)
	case side == domain.SideSell && q.BestBid.IsPositive():
		q.SlippagePct = q.BestBid.Sub(q.Price).Div(q.BestBid).Mul(hundred)
	}
	if q.SlippagePct.IsNegative() {
		q.SlippagePct = decimal.Zero
	}
	return q
}

func (b *OrderBook) takerLevels(side domain.Side) []domain.OrderBookLevel {
	if side == domain.SideBuy {
		return b.Asks
	}
	return b.Bids
}

// normalizeSide drops empty levels, keeps the last size seen per price and sorts.
func normalizeSide(levels []domain.OrderBookLevel, desc bool) []domain.OrderBookLevel {
	out := make([]domain.OrderBookLevel, 0, len(levels))
	for _, lvl := range levels {
		out = setLevel(out, lvl.Price, lvl.Size, desc)
	}
	return out
}

// setLevel inserts, updates or removes price in a sorted side.
func setLevel(levels []domain.OrderBookLevel, price, size decimal.Decimal, desc bool) []domain.OrderBookLevel {
	i := sort.Search(len(levels), func(i int) bool {
		if desc {
			return levels[i].Price.LessThanOrEqual(price)
		}
		return levels[i].Price.GreaterThanOrEqual(price)
	})
	found := i < len(levels) && levels[i].Price.Equal(price)

	if !size.IsPositive() {
		if found {
			levels = append(levels[:i], levels[i+1:]...)
		}
		return levels
	}
	if found {
		levels[i].Size = size
		return levels
	}
	levels = append(levels, domain.OrderBookLevel{})
	copy(levels[i+1:], levels[i:])
	levels[i] = domain.OrderBookLevel{Price: price, Size: size}
	return levels
}

// trimCrossing removes levels from the front of a side that strictly cross price.
// For bids that means levels above price, for asks levels below it.
func trimCrossing(levels []domain.OrderBookLevel, price decimal.Decimal, desc bool) []domain.OrderBookLevel {
	n := 0
	for n < len(levels) {
		if desc && !levels[n].Price.GreaterThan(price) {
			break
		}
		if !desc && !levels[n].Price.LessThan(price) {
			break
		}
		n++
	}
	if n == 0 {
		return levels
	}
	return append(levels[:0:0], levels[n:]...)
}
