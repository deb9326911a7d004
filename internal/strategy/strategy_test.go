package strategy_test

import (
	"context"
	"errors"
	"testing"

	"poly_trader/internal/domain"
	"poly_trader/internal/strategy"
)

func TestNew(t *testing.T) {
	for _, name := range []string{"", "hold", "HOLD"} {
		s, err := strategy.New(name)
		if err != nil {
			t.Fatalf("New(%q): unexpected error %v", name, err)
		}
		if s.Name() != "hold" {
			t.Errorf("Expected hold, got %s", s.Name())
		}
	}

	_, err := strategy.New("sma_cross")
	var cfgErr *domain.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("Expected ConfigError, got %v", err)
	}
	if cfgErr.Field != "trading.strategy" {
		t.Errorf("Expected field trading.strategy, got %s", cfgErr.Field)
	}
}

func TestHoldNeverTrades(t *testing.T) {
	d, err := strategy.Hold{}.Decide(context.Background(), strategy.Input{Market: &domain.Market{Slug: "btc-updown-5m-1"}})
	if err != nil || d != nil {
		t.Errorf("Expected no decision, got %v (%v)", d, err)
	}
}
