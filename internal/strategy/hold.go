package strategy

import (
	"context"

	"poly_trader/internal/domain"
)

// Hold never trades. It keeps the loop, settlement and feed running
// without risking the bankroll.
type Hold struct{}

func (Hold) Name() string { return "hold" }

func (Hold) Decide(context.Context, Input) (*domain.Decision, error) { return nil, nil }
