package domain

import (
	"context"
)

// DataFeed is a streaming market data source.
type DataFeed interface {
	Start(ctx context.Context) error
	Stop()
	Subscribe(symbol string) error
	Unsubscribe(symbol string) error
	OnTick(cb func(PriceTick))
	OnReconnect(cb func())
	IsConnected() bool
}

// MarketLookup resolves a market window to its current exchange state.
// A nil market with a nil error means the window is unknown.
type MarketLookup interface {
	GetMarket(ctx context.Context, windowTs int64) (*Market, error)
}

// MarketLookupFunc adapts a function to MarketLookup.
type MarketLookupFunc func(ctx context.Context, windowTs int64) (*Market, error)

func (f MarketLookupFunc) GetMarket(ctx context.Context, windowTs int64) (*Market, error) {
	return f(ctx, windowTs)
}
