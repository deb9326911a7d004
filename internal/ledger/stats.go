package ledger

import (
	"sort"

	"poly_trader/internal/domain"

	"github.com/shopspring/decimal"
)

// Stats is a point-in-time performance summary.
type Stats struct {
	Bankroll          decimal.Decimal `json:"bankroll"`
	StartingBankroll  decimal.Decimal `json:"starting_bankroll"`
	RealizedPnL       decimal.Decimal `json:"realized_pnl"`
	FeesPaid          decimal.Decimal `json:"fees_paid"`
	Committed         decimal.Decimal `json:"committed"` // notional in pending trades
	Trades            int             `json:"trades"`
	Pending           int             `json:"pending"`
	Wins              int             `json:"wins"`
	Losses            int             `json:"losses"`
	WinRate           float64         `json:"win_rate"`
	DailyTrades       int             `json:"daily_trades"`
	DailyPnL          decimal.Decimal `json:"daily_pnl"`
	AvgSlippagePct    decimal.Decimal `json:"avg_slippage_pct"`
	AvgDelayImpactPct decimal.Decimal `json:"avg_delay_impact_pct"`
}

// Stats summarizes the ledger. Averages cover the working set.
func (l *Ledger) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover(l.now())

	s := Stats{
		Bankroll:         l.bankroll,
		StartingBankroll: l.cfg.StartingBankroll,
		RealizedPnL:      l.realizedPnL,
		FeesPaid:         l.feesPaid,
		Committed:        decimal.Zero,
		Trades:           l.totalTrades,
		Wins:             l.wins,
		Losses:           l.losses,
		DailyTrades:      l.dailyTrades,
		DailyPnL:         l.dailyPnL,
	}
	if settled := l.wins + l.losses; settled > 0 {
		s.WinRate = float64(l.wins) / float64(settled)
	}

	n := 0
	slip, delay := decimal.Zero, decimal.Zero
	for _, t := range l.trades {
		if !t.Commits() {
			continue
		}
		if t.IsPending() {
			s.Pending++
			s.Committed = s.Committed.Add(t.Amount)
		}
		slip = slip.Add(t.SlippagePct)
		delay = delay.Add(t.DelayImpactPct)
		n++
	}
	if n > 0 {
		count := decimal.NewFromInt(int64(n))
		s.AvgSlippagePct = slip.Div(count)
		s.AvgDelayImpactPct = delay.Div(count)
	}
	return s
}

func sortBySeq(trades []*domain.Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].Seq < trades[j].Seq
	})
}
