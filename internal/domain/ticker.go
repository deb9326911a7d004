package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the order book side a price refers to.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// PriceTick is a normalized trade/last-price event for one symbol.
type PriceTick struct {
	Symbol    string           `json:"symbol"` // outcome token id
	Price     decimal.Decimal  `json:"price"`
	Timestamp time.Time        `json:"timestamp"`
	Size      *decimal.Decimal `json:"size,omitempty"`
	Side      Side             `json:"side,omitempty"`
	Source    string           `json:"source"` // e.g. "polymarket_ws"
}

// OrderBookLevel is one price level of a book.
type OrderBookLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// Notional returns price * size.
func (l OrderBookLevel) Notional() decimal.Decimal {
	return l.Price.Mul(l.Size)
}
