package event

import (
	"time"

	"poly_trader/internal/domain"

	"github.com/shopspring/decimal"
)

// Type defines the type of event.
type Type uint16

const (
	EvTick Type = iota + 1
	EvReconnect
)

// Event is the interface for all runner inbox events.
type Event interface {
	GetSeq() uint64
	GetTs() time.Time
	GetType() Type
}

// BaseEvent contains common fields for all events.
// Seq is stamped on enqueue; a gap means the inbox dropped events.
type BaseEvent struct {
	Seq uint64    `json:"seq"`
	Ts  time.Time `json:"ts"`
}

func (e BaseEvent) GetSeq() uint64   { return e.Seq }
func (e BaseEvent) GetTs() time.Time { return e.Ts }

// TickEvent carries one feed price tick.
type TickEvent struct {
	BaseEvent
	Symbol string           `json:"symbol"`
	Price  decimal.Decimal  `json:"price"`
	Size   *decimal.Decimal `json:"size,omitempty"`
	Side   domain.Side      `json:"side,omitempty"`
	Source string           `json:"source"`
}

func (e TickEvent) GetType() Type { return EvTick }

// Tick converts the event back to a domain tick.
func (e *TickEvent) Tick() domain.PriceTick {
	return domain.PriceTick{
		Symbol:    e.Symbol,
		Price:     e.Price,
		Timestamp: e.Ts,
		Size:      e.Size,
		Side:      e.Side,
		Source:    e.Source,
	}
}

// ReconnectEvent signals that the feed re-established its connection.
type ReconnectEvent struct {
	BaseEvent
}

func (e ReconnectEvent) GetType() Type { return EvReconnect }
