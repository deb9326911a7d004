package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TradeSchemaVersion is written into every persisted trade.
// Version 1 is the nested market/position/execution/settlement layout.
const TradeSchemaVersion = 2

// TradeStatus is the settlement state of a trade.
type TradeStatus string

const (
	TradeStatusPending TradeStatus = "pending"
	TradeStatusWon     TradeStatus = "won"
	TradeStatusLost    TradeStatus = "lost"
	TradeStatusError   TradeStatus = "error"
)

// IsSettled checks if the trade reached won or lost.
func (s TradeStatus) IsSettled() bool {
	return s == TradeStatusWon || s == TradeStatusLost
}

// CopySource describes the observed trade a copied decision mirrors.
type CopySource struct {
	Wallet    string          `json:"wallet"`
	Name      string          `json:"name,omitempty"`
	Direction Direction       `json:"direction"`
	Amount    decimal.Decimal `json:"amount"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// Delay returns how long after the source trade we are acting.
func (c *CopySource) Delay(now time.Time) time.Duration {
	if c == nil || c.Timestamp.IsZero() || now.Before(c.Timestamp) {
		return 0
	}
	return now.Sub(c.Timestamp)
}

// Decision is a strategy's request to take a position.
type Decision struct {
	Market     *Market
	Direction  Direction
	Amount     decimal.Decimal // USDC notional
	Strategy   string
	Confidence float64
	Reason     string
	Copy       *CopySource
}

// Trade is the ledger unit. Placement fields are written once by the
// execution engine; settlement fields only by the ledger.
type Trade struct {
	V   int    `json:"v"`
	ID  string `json:"id"`
	Seq uint64 `json:"seq"`

	MarketTimestamp int64     `json:"market_timestamp"`
	MarketSlug      string    `json:"market_slug"`
	TokenID         string    `json:"token_id"`
	Direction       Direction `json:"direction"`

	RequestedAmount decimal.Decimal `json:"requested_amount"`
	Amount          decimal.Decimal `json:"amount"` // committed notional after partial fill
	Shares          decimal.Decimal `json:"shares"`
	Simulated       bool            `json:"simulated"`

	EntryPrice     decimal.Decimal `json:"entry_price"`     // reference price at decision time
	ExecutionPrice decimal.Decimal `json:"execution_price"` // volume weighted fill price
	BestBid        decimal.Decimal `json:"best_bid"`
	BestAsk        decimal.Decimal `json:"best_ask"`
	Spread         decimal.Decimal `json:"spread"`
	PriceSource    string          `json:"price_source,omitempty"`

	FeeRateBps     int             `json:"fee_rate_bps"`
	FeePct         decimal.Decimal `json:"fee_pct"` // fraction of notional
	FeePaid        decimal.Decimal `json:"fee_paid"`
	Slippage       decimal.Decimal `json:"slippage"` // execution - mid, per share
	SlippagePct    decimal.Decimal `json:"slippage_pct"`
	DelayImpactPct decimal.Decimal `json:"delay_impact_pct"`
	DelayCost      decimal.Decimal `json:"delay_cost"`
	FillPct        decimal.Decimal `json:"fill_pct"`

	Copy       *CopySource `json:"copy,omitempty"`
	Strategy   string      `json:"strategy,omitempty"`
	Confidence float64     `json:"confidence,omitempty"`

	OrderID     string      `json:"order_id,omitempty"`
	OrderStatus OrderStatus `json:"order_status,omitempty"`
	PlacedAt    time.Time   `json:"placed_at"`

	Status      TradeStatus      `json:"status"`
	ErrorReason string           `json:"error_reason,omitempty"`
	Outcome     Direction        `json:"outcome,omitempty"`
	SettledAt   *time.Time       `json:"settled_at,omitempty"`
	GrossPayout decimal.Decimal  `json:"gross_payout"`
	PnL         *decimal.Decimal `json:"pnl,omitempty"` // nil until settled
}

// IsPending checks if the trade still awaits resolution.
func (t *Trade) IsPending() bool {
	return t.Status == TradeStatusPending
}

// Commits reports whether the trade moved money.
func (t *Trade) Commits() bool {
	return t.Status != TradeStatusError
}

// Clone returns a deep copy safe to hand out of a lock.
func (t *Trade) Clone() *Trade {
	c := *t
	if t.Copy != nil {
		cp := *t.Copy
		c.Copy = &cp
	}
	if t.SettledAt != nil {
		at := *t.SettledAt
		c.SettledAt = &at
	}
	if t.PnL != nil {
		pnl := *t.PnL
		c.PnL = &pnl
	}
	return &c
}

// Fail moves a trade into the error state.
func (t *Trade) Fail(reason string) {
	t.Status = TradeStatusError
	t.ErrorReason = reason
}

// Settlement is the money movement produced by resolving a trade.
type Settlement struct {
	Won         bool
	GrossPayout decimal.Decimal
	Fee         decimal.Decimal
	PnL         decimal.Decimal
	Credit      decimal.Decimal // returned to bankroll
}

// ComputeSettlement prices the trade against a resolved outcome.
// Winners receive 1.0 per share minus the fee; losers forfeit the stake and pay no fee.
func (t *Trade) ComputeSettlement(outcome Direction) Settlement {
	shares := t.Shares
	if shares.IsZero() && t.ExecutionPrice.IsPositive() {
		shares = t.Amount.Div(t.ExecutionPrice)
	}

	if t.Direction != outcome {
		return Settlement{
			GrossPayout: decimal.Zero,
			Fee:         decimal.Zero,
			PnL:         t.Amount.Neg(),
			Credit:      decimal.Zero,
		}
	}

	payout := shares
	credit := payout.Sub(t.FeePaid)
	return Settlement{
		Won:         true,
		GrossPayout: payout,
		Fee:         t.FeePaid,
		PnL:         credit.Sub(t.Amount),
		Credit:      credit,
	}
}

// ApplySettlement records the settlement on the trade.
func (t *Trade) ApplySettlement(outcome Direction, s Settlement, at time.Time) {
	t.Outcome = outcome
	t.GrossPayout = s.GrossPayout
	t.FeePaid = s.Fee
	pnl := s.PnL
	t.PnL = &pnl
	settledAt := at.UTC()
	t.SettledAt = &settledAt
	if s.Won {
		t.Status = TradeStatusWon
	} else {
		t.Status = TradeStatusLost
	}
}

// DecodeTrade reads any persisted trade version and returns the current layout.
func DecodeTrade(raw []byte) (*Trade, error) {
	var probe struct {
		V      int             `json:"v"`
		Market json.RawMessage `json:"market"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode trade: %w", err)
	}

	if probe.V >= 2 {
		var t Trade
		if err := json.Unmarshal(raw, &t); err != nil {
			return nil, fmt.Errorf("decode trade v%d: %w", probe.V, err)
		}
		return &t, nil
	}

	if len(probe.Market) > 0 && probe.Market[0] == '{' {
		return decodeNestedTrade(raw)
	}
	return nil, fmt.Errorf("decode trade: unrecognized layout")
}

type nestedTrade struct {
	ID     string `json:"id"`
	Market struct {
		Timestamp int64           `json:"timestamp"`
		Slug      string          `json:"slug"`
		Volume    decimal.Decimal `json:"volume"`
	} `json:"market"`
	Position struct {
		Direction       string           `json:"direction"`
		Amount          decimal.Decimal  `json:"amount"`
		RequestedAmount *decimal.Decimal `json:"requested_amount"`
		Shares          decimal.Decimal  `json:"shares"`
	} `json:"position"`
	Execution struct {
		Timestamp   int64           `json:"timestamp"` // unix ms
		EntryPrice  decimal.Decimal `json:"entry_price"`
		FillPrice   decimal.Decimal `json:"fill_price"`
		Spread      decimal.Decimal `json:"spread"`
		SlippagePct decimal.Decimal `json:"slippage_pct"`
		FillPct     decimal.Decimal `json:"fill_pct"`
		BestBid     decimal.Decimal `json:"best_bid"`
		BestAsk     decimal.Decimal `json:"best_ask"`
	} `json:"execution"`
	Fees struct {
		RateBps int             `json:"rate_bps"`
		Pct     decimal.Decimal `json:"pct"`
		Amount  decimal.Decimal `json:"amount"`
	} `json:"fees"`
	Copytrade *struct {
		Wallet         string          `json:"wallet"`
		Name           string          `json:"name"`
		Direction      string          `json:"direction"`
		Amount         decimal.Decimal `json:"amount"`
		Price          decimal.Decimal `json:"price"`
		Timestamp      int64           `json:"timestamp"`
		DelayImpactPct decimal.Decimal `json:"delay_impact_pct"`
	} `json:"copytrade"`
	Settlement struct {
		Status      string          `json:"status"`
		Outcome     *string         `json:"outcome"`
		Won         *bool           `json:"won"`
		Timestamp   *int64          `json:"timestamp"`
		GrossPayout decimal.Decimal `json:"gross_payout"`
		FeeAmount   decimal.Decimal `json:"fee_amount"`
		NetProfit   decimal.Decimal `json:"net_profit"`
		ForceExit   string          `json:"force_exit_reason"`
	} `json:"settlement"`
	Context struct {
		Strategy string `json:"strategy"`
		Mode     string `json:"mode"`
	} `json:"context"`
}

func decodeNestedTrade(raw []byte) (*Trade, error) {
	var n nestedTrade
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("decode trade v1: %w", err)
	}

	dir, err := ParseDirection(n.Position.Direction)
	if err != nil {
		return nil, fmt.Errorf("decode trade v1: %w", err)
	}

	id := n.ID
	if id == "" {
		id = fmt.Sprintf("%d_%d_%s", n.Market.Timestamp, n.Execution.Timestamp, dir)
	}

	execPrice := n.Execution.FillPrice
	if !execPrice.IsPositive() {
		execPrice = n.Execution.EntryPrice
	}
	requested := n.Position.Amount
	if n.Position.RequestedAmount != nil {
		requested = *n.Position.RequestedAmount
	}
	fillPct := n.Execution.FillPct
	if fillPct.IsZero() {
		fillPct = decimal.NewFromInt(100)
	}

	t := &Trade{
		V:               TradeSchemaVersion,
		ID:              id,
		MarketTimestamp: n.Market.Timestamp,
		MarketSlug:      n.Market.Slug,
		Direction:       dir,
		RequestedAmount: requested,
		Amount:          n.Position.Amount,
		Shares:          n.Position.Shares,
		Simulated:       n.Context.Mode != "live",
		EntryPrice:      n.Execution.EntryPrice,
		ExecutionPrice:  execPrice,
		BestBid:         n.Execution.BestBid,
		BestAsk:         n.Execution.BestAsk,
		Spread:          n.Execution.Spread,
		FeeRateBps:      n.Fees.RateBps,
		FeePct:          n.Fees.Pct,
		FeePaid:         n.Fees.Amount,
		SlippagePct:     n.Execution.SlippagePct,
		FillPct:         fillPct,
		Strategy:        n.Context.Strategy,
		PlacedAt:        time.UnixMilli(n.Execution.Timestamp).UTC(),
		Status:          TradeStatusPending,
	}
	if t.Shares.IsZero() && execPrice.IsPositive() {
		t.Shares = t.Amount.Div(execPrice)
	}

	if c := n.Copytrade; c != nil && c.Wallet != "" {
		cd, _ := ParseDirection(c.Direction)
		t.Copy = &CopySource{
			Wallet:    c.Wallet,
			Name:      c.Name,
			Direction: cd,
			Amount:    c.Amount,
			Price:     c.Price,
			Timestamp: time.UnixMilli(c.Timestamp).UTC(),
		}
		t.DelayImpactPct = c.DelayImpactPct
	}

	s := n.Settlement
	switch s.Status {
	case "settled":
		if s.Outcome == nil || s.Won == nil {
			break
		}
		outcome, err := ParseDirection(*s.Outcome)
		if err != nil {
			break
		}
		t.Outcome = outcome
		t.Status = TradeStatusLost
		if *s.Won {
			t.Status = TradeStatusWon
		}
		t.GrossPayout = s.GrossPayout
		t.FeePaid = s.FeeAmount
		pnl := s.NetProfit
		t.PnL = &pnl
		if s.Timestamp != nil {
			at := time.UnixMilli(*s.Timestamp).UTC()
			t.SettledAt = &at
		}
	case "force_exit":
		t.Fail("force_exit: " + s.ForceExit)
	}

	return t, nil
}
