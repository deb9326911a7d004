package strategy

import (
	"context"
	"fmt"
	"strings"
	"time"

	"poly_trader/internal/domain"

	"github.com/shopspring/decimal"
)

// Input is everything a strategy sees for one market window.
type Input struct {
	Now       time.Time
	Market    *domain.Market
	UpPrice   decimal.Decimal // latest tick, or the market's listed price
	DownPrice decimal.Decimal
	Bankroll  decimal.Decimal
	BetAmount decimal.Decimal
}

// Strategy is the interface that all trading strategies must implement.
// It is called synchronously by the Runner, once per window at most.
type Strategy interface {
	Name() string
	// Decide returns nil to skip the window.
	Decide(ctx context.Context, in Input) (*domain.Decision, error)
}

// New returns the built-in strategy registered under name.
func New(name string) (Strategy, error) {
	switch strings.ToLower(name) {
	case "", "hold":
		return Hold{}, nil
	default:
		return nil, &domain.ConfigError{Field: "trading.strategy", Err: fmt.Errorf("unknown strategy %q", name)}
	}
}
