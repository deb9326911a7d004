package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// OrderType is the time-in-force of a submitted order.
type OrderType string

const (
	OrderTypeFOK OrderType = "FOK"
	OrderTypeGTC OrderType = "GTC"
)

// OrderRequest is what the execution engine hands to the signing collaborator.
// Amount is USDC notional for buys.
type OrderRequest struct {
	TokenID string          `json:"token_id"`
	Side    Side            `json:"side"`
	Amount  decimal.Decimal `json:"amount"`
	Price   decimal.Decimal `json:"price"` // worst acceptable price
	Type    OrderType       `json:"type"`
	FeeBps  int             `json:"fee_rate_bps"`
}

// OrderStatus is the normalized exchange order status.
type OrderStatus string

const (
	OrderStatusLive      OrderStatus = "LIVE"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusUnknown   OrderStatus = "UNKNOWN"
)

// NormalizeOrderStatus folds the exchange's spellings into OrderStatus.
func NormalizeOrderStatus(raw string) OrderStatus {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "FILLED", "MATCHED":
		return OrderStatusFilled
	case "CANCELED", "CANCELLED", "EXPIRED", "KILLED", "UNMATCHED":
		return OrderStatusCancelled
	case "LIVE", "DELAYED", "OPEN":
		return OrderStatusLive
	default:
		return OrderStatusUnknown
	}
}

// IsTerminal checks if the order can no longer change.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled
}

// OrderState is a polled snapshot of a submitted order.
type OrderState struct {
	ID          string          `json:"id"`
	Status      OrderStatus     `json:"status"`
	RawStatus   string          `json:"raw_status"`
	SizeMatched decimal.Decimal `json:"size_matched"`
	Price       decimal.Decimal `json:"price"`
}
