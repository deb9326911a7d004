package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"poly_trader/internal/domain"
	"poly_trader/internal/infra"
	"poly_trader/internal/marketdata"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Quoter prices a notional against the current book.
type Quoter interface {
	GetExecutionPrice(ctx context.Context, symbol string, side domain.Side, notional decimal.Decimal) (marketdata.Quote, error)
}

// Submitter signs, posts and tracks real orders.
type Submitter interface {
	FeeRate(ctx context.Context, tokenID string) (int, error)
	Submit(ctx context.Context, req domain.OrderRequest) (string, error)
	Status(ctx context.Context, orderID string) (domain.OrderState, error)
}

// Config tunes the engine.
type Config struct {
	MinOrderSize decimal.Decimal
	FeeBps       int // used when the market carries no fee rate
	PollInterval time.Duration
	OrderTimeout time.Duration
	DelayModel   *DelayImpactModel // nil disables delay cost
}

func (c *Config) applyDefaults() {
	if !c.MinOrderSize.IsPositive() {
		c.MinOrderSize = one
	}
	if c.FeeBps <= 0 {
		c.FeeBps = 1000
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.OrderTimeout <= 0 {
		c.OrderTimeout = 10 * time.Second
	}
}

// Engine turns decisions into trades. It produces exactly one Trade per
// call and does not deduplicate by market.
type Engine struct {
	quoter    Quoter
	submitter Submitter // nil in paper mode
	cfg       Config
	mode      Mode
	metrics   *infra.Metrics
	logger    *slog.Logger

	now   func() time.Time
	newID func() string
}

// NewEngine creates an engine. submitter may be nil when only simulated
// trades will be placed.
func NewEngine(quoter Quoter, submitter Submitter, cfg Config, m *infra.Metrics) *Engine {
	cfg.applyDefaults()
	if m == nil {
		m = infra.GlobalMetrics
	}
	mode := ModePaper
	if submitter != nil {
		mode = ModeLive
	}
	return &Engine{
		quoter:    quoter,
		submitter: submitter,
		cfg:       cfg,
		mode:      mode,
		metrics:   m,
		logger:    slog.Default().With("module", "execution"),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// Mode reports whether the engine can place real orders.
func (e *Engine) Mode() Mode {
	return e.mode
}

// PlaceTrade executes d and returns the resulting trade, never nil.
// Failures come back as a trade in the error state.
func (e *Engine) PlaceTrade(ctx context.Context, d domain.Decision, simulated bool) *domain.Trade {
	t := e.newTrade(d, simulated)

	var err error
	if err = e.validate(d); err == nil {
		if simulated {
			err = e.simulate(ctx, t, d)
		} else {
			err = e.execute(ctx, t, d)
		}
	}

	if err != nil {
		t.Fail(err.Error())
		e.metrics.RecordTrade(true)
		e.logger.Warn("Trade failed",
			"id", t.ID,
			"market", t.MarketSlug,
			"direction", t.Direction,
			"simulated", simulated,
			"error", err,
		)
		return t
	}

	e.metrics.RecordTrade(false)
	e.logger.Info("Trade placed",
		"id", t.ID,
		"market", t.MarketSlug,
		"direction", t.Direction,
		"amount", t.Amount.StringFixed(2),
		"price", t.ExecutionPrice.StringFixed(4),
		"fill_pct", t.FillPct.StringFixed(1),
		"simulated", simulated,
	)
	return t
}

func (e *Engine) newTrade(d domain.Decision, simulated bool) *domain.Trade {
	t := &domain.Trade{
		V:               domain.TradeSchemaVersion,
		ID:              e.newID(),
		Direction:       d.Direction,
		RequestedAmount: d.Amount,
		Simulated:       simulated,
		Strategy:        d.Strategy,
		Confidence:      d.Confidence,
		PlacedAt:        e.now().UTC(),
		Status:          domain.TradeStatusPending,
	}
	if d.Copy != nil {
		cp := *d.Copy
		t.Copy = &cp
	}
	if m := d.Market; m != nil {
		t.MarketTimestamp = m.Timestamp
		t.MarketSlug = m.Slug
		t.TokenID = m.TokenFor(d.Direction)
		t.EntryPrice = m.PriceFor(d.Direction)
	}
	return t
}

func (e *Engine) validate(d domain.Decision) error {
	m := d.Market
	switch {
	case m == nil:
		return domain.ErrMarketNotFound
	case d.Direction != domain.DirectionUp && d.Direction != domain.DirectionDown:
		return fmt.Errorf("%w: direction %q", domain.ErrInvalidOrder, d.Direction)
	case d.Amount.LessThan(e.cfg.MinOrderSize):
		return fmt.Errorf("%w: size %s below minimum %s", domain.ErrInvalidOrder, d.Amount, e.cfg.MinOrderSize)
	case m.TokenFor(d.Direction) == "":
		return fmt.Errorf("%w: no %s token for %s", domain.ErrInvalidOrder, d.Direction, m.Slug)
	case m.Closed:
		return fmt.Errorf("%w: market %s is closed", domain.ErrInvalidOrder, m.Slug)
	case !m.AcceptingOrders:
		return fmt.Errorf("%w: market %s is not accepting orders", domain.ErrInvalidOrder, m.Slug)
	}
	return nil
}

func (e *Engine) feeBps(m *domain.Market) int {
	if m != nil && m.TakerFeeBps > 0 {
		return m.TakerFeeBps
	}
	return e.cfg.FeeBps
}

// simulate fills against the quoted book without touching the exchange.
func (e *Engine) simulate(ctx context.Context, t *domain.Trade, d domain.Decision) error {
	q, err := e.quoter.GetExecutionPrice(ctx, t.TokenID, domain.SideBuy, d.Amount)
	if err != nil {
		return fmt.Errorf("quote %s: %w", t.TokenID, err)
	}
	e.applyQuote(t, q)
	if !q.Shares.IsPositive() || !q.Price.IsPositive() {
		return fmt.Errorf("%w: no asks for %s", domain.ErrInsufficientDepth, t.TokenID)
	}

	impact := e.cfg.DelayModel.Impact(d.Copy.Delay(e.now()), d.Amount, q.DepthAtBest, q.Spread)
	price := ClampPrice(impact.Apply(q.Price, true))

	amount := q.Filled
	shares := amount.Div(price)

	t.Amount = amount
	t.Shares = shares
	t.ExecutionPrice = price
	t.FillPct = q.FillPct
	t.Slippage = q.Price.Sub(q.Mid)
	t.SlippagePct = q.SlippagePct
	t.DelayImpactPct = decimal.NewFromFloat(impact.Pct)
	t.DelayCost = price.Sub(q.Price).Mul(shares)
	e.applyFee(t, e.feeBps(d.Market))

	if q.Insufficient {
		e.logger.Info("Partial fill",
			"id", t.ID,
			"requested", d.Amount.StringFixed(2),
			"filled", amount.StringFixed(2),
		)
	}
	return nil
}

// execute submits a fill-or-kill buy and waits for a terminal status.
func (e *Engine) execute(ctx context.Context, t *domain.Trade, d domain.Decision) error {
	if e.submitter == nil {
		return &domain.ConfigError{Field: "trading.mode", Err: errors.New("no order submitter configured")}
	}

	limit, mid := maxPrice, decimal.Zero
	if q, err := e.quoter.GetExecutionPrice(ctx, t.TokenID, domain.SideBuy, d.Amount); err != nil {
		e.logger.Warn("Quote unavailable, using max price", "token", t.TokenID, "error", err)
	} else {
		e.applyQuote(t, q)
		mid = q.Mid
		if q.Worst.IsPositive() {
			limit = q.Worst
		}
	}

	bps, err := e.submitter.FeeRate(ctx, t.TokenID)
	if err != nil || bps <= 0 {
		bps = e.feeBps(d.Market)
	}

	req := domain.OrderRequest{
		TokenID: t.TokenID,
		Side:    domain.SideBuy,
		Amount:  d.Amount,
		Price:   limit,
		Type:    domain.OrderTypeFOK,
		FeeBps:  bps,
	}
	orderID, err := e.submitter.Submit(ctx, req)
	if err != nil {
		return fmt.Errorf("submit order: %w", err)
	}
	t.OrderID = orderID
	t.OrderStatus = domain.OrderStatusLive
	e.logger.Info("Order submitted", "id", t.ID, "order_id", orderID, "limit", limit.String())

	state, err := e.await(ctx, orderID)
	if err != nil {
		t.OrderStatus = domain.OrderStatusUnknown
		return err
	}
	t.OrderStatus = state.Status
	if state.Status != domain.OrderStatusFilled {
		return fmt.Errorf("%w: %s %s", domain.ErrOrderKilled, orderID, state.RawStatus)
	}

	price := state.Price
	if !price.IsPositive() {
		price = limit
	}
	shares := state.SizeMatched
	amount := shares.Mul(price)

	t.Amount = amount
	t.Shares = shares
	t.ExecutionPrice = price
	t.FillPct = hundred
	if d.Amount.IsPositive() {
		t.FillPct = amount.Div(d.Amount).Mul(hundred)
	}
	if mid.IsPositive() {
		t.Slippage = price.Sub(mid)
	}
	if t.BestAsk.IsPositive() {
		if pct := price.Sub(t.BestAsk).Div(t.BestAsk).Mul(hundred); pct.IsPositive() {
			t.SlippagePct = pct
		}
	}
	e.applyFee(t, bps)
	e.metrics.RecordOrderFilled()
	return nil
}

// await polls the order until it is terminal or the timeout elapses.
func (e *Engine) await(ctx context.Context, orderID string) (domain.OrderState, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.OrderTimeout)
	defer cancel()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.Canceled) {
				return domain.OrderState{}, fmt.Errorf("await order %s: %w", orderID, ctx.Err())
			}
			return domain.OrderState{}, fmt.Errorf("%w: %s", domain.ErrOrderTimeout, orderID)
		case <-ticker.C:
		}

		state, err := e.submitter.Status(ctx, orderID)
		if err != nil {
			e.logger.Debug("Order status poll failed", "order_id", orderID, "error", err)
			continue
		}
		if state.Status.IsTerminal() {
			return state, nil
		}
	}
}

func (e *Engine) applyQuote(t *domain.Trade, q marketdata.Quote) {
	t.BestBid = q.BestBid
	t.BestAsk = q.BestAsk
	t.Spread = q.Spread
	t.PriceSource = q.Source
}

func (e *Engine) applyFee(t *domain.Trade, bps int) {
	t.FeeRateBps = bps
	t.FeePct = CalculateFee(t.ExecutionPrice, bps)
	t.FeePaid = t.Amount.Mul(t.FeePct)
}
