package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"poly_trader/internal/domain"
	"poly_trader/internal/infra"
	"poly_trader/internal/marketdata"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuoter struct {
	book  *marketdata.OrderBook
	err   error
	calls int
}

func (f *fakeQuoter) GetExecutionPrice(_ context.Context, _ string, side domain.Side, notional decimal.Decimal) (marketdata.Quote, error) {
	f.calls++
	if f.err != nil {
		return marketdata.Quote{}, f.err
	}
	return f.book.ExecutionPrice(side, notional), nil
}

type fakeSubmitter struct {
	mu        sync.Mutex
	fee       int
	feeErr    error
	orderID   string
	submitErr error
	states    []domain.OrderState // last one repeats
	requests  []domain.OrderRequest
	polls     int
}

func (f *fakeSubmitter) FeeRate(context.Context, string) (int, error) {
	return f.fee, f.feeErr
}

func (f *fakeSubmitter) Submit(_ context.Context, req domain.OrderRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.submitErr != nil {
		return "", f.submitErr
	}
	return f.orderID, nil
}

func (f *fakeSubmitter) Status(_ context.Context, orderID string) (domain.OrderState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.polls
	if i >= len(f.states) {
		i = len(f.states) - 1
	}
	f.polls++
	s := f.states[i]
	s.ID = orderID
	return s, nil
}

var testNow = time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)

func testMarket() *domain.Market {
	return &domain.Market{
		Timestamp:       1772366400,
		Slug:            "btc-updown-5m-1772366400",
		UpTokenID:       "up-tok",
		DownTokenID:     "down-tok",
		UpPrice:         d("0.49"),
		DownPrice:       d("0.51"),
		AcceptingOrders: true,
		TakerFeeBps:     1000,
	}
}

func testBook(askSize string) *marketdata.OrderBook {
	b := marketdata.NewOrderBook("up-tok", marketdata.SourceWebSocket)
	b.ApplySnapshot(
		[]domain.OrderBookLevel{{Price: d("0.48"), Size: d("100")}},
		[]domain.OrderBookLevel{{Price: d("0.50"), Size: d(askSize)}},
		testNow,
	)
	return b
}

func newTestEngine(q Quoter, s Submitter, cfg Config) *Engine {
	e := NewEngine(q, s, cfg, &infra.Metrics{})
	e.now = func() time.Time { return testNow }
	n := 0
	e.newID = func() string {
		n++
		return fmt.Sprintf("trade-%d", n)
	}
	return e
}

func decision(amount string) domain.Decision {
	return domain.Decision{
		Market:    testMarket(),
		Direction: domain.DirectionUp,
		Amount:    d(amount),
		Strategy:  "test",
	}
}

func TestEngine_SimulatedFill(t *testing.T) {
	e := newTestEngine(&fakeQuoter{book: testBook("100")}, nil, Config{})

	tr := e.PlaceTrade(context.Background(), decision("10"), true)

	require.NotNil(t, tr)
	assert.Equal(t, domain.TradeStatusPending, tr.Status, tr.ErrorReason)
	assert.True(t, tr.Simulated)
	assert.Equal(t, "up-tok", tr.TokenID)
	assert.Equal(t, int64(1772366400), tr.MarketTimestamp)
	assert.Equal(t, domain.TradeSchemaVersion, tr.V)
	assert.True(t, tr.Amount.Equal(d("10")))
	assert.True(t, tr.Shares.Equal(d("20")))
	assert.True(t, tr.ExecutionPrice.Equal(d("0.5")))
	assert.True(t, tr.EntryPrice.Equal(d("0.49")))
	assert.True(t, tr.FillPct.Equal(d("100")))
	assert.True(t, tr.Slippage.Equal(d("0.01")), "slippage vs mid %s", tr.Slippage)
	assert.True(t, tr.SlippagePct.IsZero())
	assert.Equal(t, 1000, tr.FeeRateBps)
	assert.True(t, tr.FeePct.Equal(d("0.025")))
	assert.True(t, tr.FeePaid.Equal(d("0.25")))
	assert.True(t, tr.DelayCost.IsZero())
	assert.Equal(t, marketdata.SourceWebSocket, tr.PriceSource)
	assert.Empty(t, tr.OrderID)
}

func TestEngine_SimulatedPartialFill(t *testing.T) {
	// Only 5.00 of notional rests at the best ask.
	e := newTestEngine(&fakeQuoter{book: testBook("10")}, nil, Config{})

	tr := e.PlaceTrade(context.Background(), decision("10"), true)

	require.Equal(t, domain.TradeStatusPending, tr.Status, tr.ErrorReason)
	assert.True(t, tr.RequestedAmount.Equal(d("10")))
	assert.True(t, tr.Amount.Equal(d("5")))
	assert.True(t, tr.Shares.Equal(d("10")))
	assert.True(t, tr.FillPct.Equal(d("50")))
}

func TestEngine_SimulatedDelayCost(t *testing.T) {
	e := newTestEngine(&fakeQuoter{book: testBook("100")}, nil, Config{DelayModel: DefaultDelayImpactModel()})

	dec := decision("10")
	dec.Copy = &domain.CopySource{
		Wallet:    "0xwhale",
		Direction: domain.DirectionUp,
		Amount:    d("250"),
		Price:     d("0.49"),
		Timestamp: testNow.Add(-4 * time.Second),
	}
	tr := e.PlaceTrade(context.Background(), dec, true)

	// sqrt(4) * 0.8 = 1.6, liquidity 10/(0.5*50) clamps to 0.5, spread 0.02 gives 1.
	require.Equal(t, domain.TradeStatusPending, tr.Status, tr.ErrorReason)
	assert.True(t, tr.DelayImpactPct.Equal(d("0.8")), "impact %s", tr.DelayImpactPct)
	assert.True(t, tr.ExecutionPrice.Equal(d("0.504")), "price %s", tr.ExecutionPrice)
	assert.True(t, tr.DelayCost.IsPositive())
	require.NotNil(t, tr.Copy)
	assert.Equal(t, "0xwhale", tr.Copy.Wallet)
	assert.NotSame(t, dec.Copy, tr.Copy)
}

func TestEngine_SimulatedEmptyBook(t *testing.T) {
	b := marketdata.NewOrderBook("up-tok", marketdata.SourceREST)
	b.ApplySnapshot([]domain.OrderBookLevel{{Price: d("0.4"), Size: d("10")}}, nil, testNow)
	e := newTestEngine(&fakeQuoter{book: b}, nil, Config{})

	tr := e.PlaceTrade(context.Background(), decision("10"), true)

	assert.Equal(t, domain.TradeStatusError, tr.Status)
	assert.Contains(t, tr.ErrorReason, domain.ErrInsufficientDepth.Error())
	assert.True(t, tr.Amount.IsZero())
	assert.False(t, tr.Commits())
}

func TestEngine_QuoteError(t *testing.T) {
	e := newTestEngine(&fakeQuoter{err: errors.New("rest down")}, nil, Config{})

	tr := e.PlaceTrade(context.Background(), decision("10"), true)

	assert.Equal(t, domain.TradeStatusError, tr.Status)
	assert.Contains(t, tr.ErrorReason, "rest down")
}

func TestEngine_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Decision)
		want   string
	}{
		{"no market", func(dec *domain.Decision) { dec.Market = nil }, domain.ErrMarketNotFound.Error()},
		{"below minimum", func(dec *domain.Decision) { dec.Amount = d("0.5") }, "below minimum"},
		{"bad direction", func(dec *domain.Decision) { dec.Direction = "sideways" }, "direction"},
		{"missing token", func(dec *domain.Decision) { dec.Market.UpTokenID = "" }, "no up token"},
		{"closed", func(dec *domain.Decision) { dec.Market.Closed = true }, "closed"},
		{"not accepting", func(dec *domain.Decision) { dec.Market.AcceptingOrders = false }, "not accepting"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, simulated := range []bool{true, false} {
				q := &fakeQuoter{book: testBook("100")}
				s := &fakeSubmitter{orderID: "o-1", states: []domain.OrderState{{Status: domain.OrderStatusFilled}}}
				e := newTestEngine(q, s, Config{})

				dec := decision("10")
				tt.mutate(&dec)
				tr := e.PlaceTrade(context.Background(), dec, simulated)

				require.NotNil(t, tr)
				assert.Equal(t, domain.TradeStatusError, tr.Status)
				assert.Contains(t, tr.ErrorReason, tt.want)
				assert.Zero(t, q.calls, "quoted before validation")
				assert.Empty(t, s.requests, "submitted before validation")
			}
		})
	}
}

func TestEngine_UniqueTradePerCall(t *testing.T) {
	e := NewEngine(&fakeQuoter{book: testBook("100")}, nil, Config{}, &infra.Metrics{})
	a := e.PlaceTrade(context.Background(), decision("10"), true)
	b := e.PlaceTrade(context.Background(), decision("10"), true)
	assert.NotEqual(t, a.ID, b.ID)
}

func liveConfig() Config {
	return Config{PollInterval: 5 * time.Millisecond, OrderTimeout: 500 * time.Millisecond}
}

func TestEngine_LiveFilled(t *testing.T) {
	s := &fakeSubmitter{
		orderID: "0xorder",
		states: []domain.OrderState{
			{Status: domain.OrderStatusLive, RawStatus: "LIVE"},
			{Status: domain.OrderStatusFilled, RawStatus: "MATCHED", SizeMatched: d("20"), Price: d("0.5")},
		},
	}
	e := newTestEngine(&fakeQuoter{book: testBook("100")}, s, liveConfig())
	require.Equal(t, ModeLive, e.Mode())

	tr := e.PlaceTrade(context.Background(), decision("10"), false)

	require.Equal(t, domain.TradeStatusPending, tr.Status, tr.ErrorReason)
	assert.False(t, tr.Simulated)
	assert.Equal(t, "0xorder", tr.OrderID)
	assert.Equal(t, domain.OrderStatusFilled, tr.OrderStatus)
	assert.True(t, tr.Amount.Equal(d("10")))
	assert.True(t, tr.Shares.Equal(d("20")))
	assert.True(t, tr.ExecutionPrice.Equal(d("0.5")))
	assert.True(t, tr.FeePaid.Equal(d("0.25")))
	assert.Equal(t, 1000, tr.FeeRateBps, "falls back to market fee")

	require.Len(t, s.requests, 1)
	req := s.requests[0]
	assert.Equal(t, domain.OrderTypeFOK, req.Type)
	assert.Equal(t, domain.SideBuy, req.Side)
	assert.Equal(t, "up-tok", req.TokenID)
	assert.True(t, req.Amount.Equal(d("10")))
	assert.True(t, req.Price.Equal(d("0.5")), "limit at worst level")
	assert.GreaterOrEqual(t, s.polls, 2)
}

func TestEngine_LiveUsesExchangeFeeRate(t *testing.T) {
	s := &fakeSubmitter{
		fee:     500,
		orderID: "0xorder",
		states:  []domain.OrderState{{Status: domain.OrderStatusFilled, SizeMatched: d("20"), Price: d("0.5")}},
	}
	e := newTestEngine(&fakeQuoter{book: testBook("100")}, s, liveConfig())

	tr := e.PlaceTrade(context.Background(), decision("10"), false)

	require.Equal(t, domain.TradeStatusPending, tr.Status, tr.ErrorReason)
	assert.Equal(t, 500, tr.FeeRateBps)
	assert.Equal(t, 500, s.requests[0].FeeBps)
}

func TestEngine_LiveQuoteUnavailable(t *testing.T) {
	s := &fakeSubmitter{
		orderID: "0xorder",
		states:  []domain.OrderState{{Status: domain.OrderStatusFilled, SizeMatched: d("10"), Price: d("0.6")}},
	}
	e := newTestEngine(&fakeQuoter{err: errors.New("no book")}, s, liveConfig())

	tr := e.PlaceTrade(context.Background(), decision("6"), false)

	require.Equal(t, domain.TradeStatusPending, tr.Status, tr.ErrorReason)
	assert.True(t, s.requests[0].Price.Equal(d("0.99")))
	assert.True(t, tr.Amount.Equal(d("6")))
}

func TestEngine_LiveKilled(t *testing.T) {
	s := &fakeSubmitter{
		orderID: "0xorder",
		states:  []domain.OrderState{{Status: domain.OrderStatusCancelled, RawStatus: "CANCELED"}},
	}
	e := newTestEngine(&fakeQuoter{book: testBook("100")}, s, liveConfig())

	tr := e.PlaceTrade(context.Background(), decision("10"), false)

	assert.Equal(t, domain.TradeStatusError, tr.Status)
	assert.Contains(t, tr.ErrorReason, domain.ErrOrderKilled.Error())
	assert.Equal(t, "0xorder", tr.OrderID)
	assert.Equal(t, domain.OrderStatusCancelled, tr.OrderStatus)
	assert.True(t, tr.Amount.IsZero())
}

func TestEngine_LiveTimeout(t *testing.T) {
	s := &fakeSubmitter{
		orderID: "0xorder",
		states:  []domain.OrderState{{Status: domain.OrderStatusLive, RawStatus: "LIVE"}},
	}
	cfg := liveConfig()
	cfg.OrderTimeout = 40 * time.Millisecond
	e := newTestEngine(&fakeQuoter{book: testBook("100")}, s, cfg)

	tr := e.PlaceTrade(context.Background(), decision("10"), false)

	assert.Equal(t, domain.TradeStatusError, tr.Status)
	assert.Contains(t, tr.ErrorReason, domain.ErrOrderTimeout.Error())
	assert.Equal(t, "0xorder", tr.OrderID)
	assert.Equal(t, domain.OrderStatusUnknown, tr.OrderStatus)
}

func TestEngine_LiveSubmitRejected(t *testing.T) {
	s := &fakeSubmitter{submitErr: fmt.Errorf("post order: %w", domain.ErrInsufficientBalance)}
	e := newTestEngine(&fakeQuoter{book: testBook("100")}, s, liveConfig())

	tr := e.PlaceTrade(context.Background(), decision("10"), false)

	assert.Equal(t, domain.TradeStatusError, tr.Status)
	assert.Contains(t, tr.ErrorReason, domain.ErrInsufficientBalance.Error())
	assert.Empty(t, tr.OrderID)
}

func TestEngine_LiveWithoutSubmitter(t *testing.T) {
	e := newTestEngine(&fakeQuoter{book: testBook("100")}, nil, Config{})
	require.Equal(t, ModePaper, e.Mode())

	tr := e.PlaceTrade(context.Background(), decision("10"), false)

	assert.Equal(t, domain.TradeStatusError, tr.Status)
	assert.Contains(t, tr.ErrorReason, "no order submitter")
}
