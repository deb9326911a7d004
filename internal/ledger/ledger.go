package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"poly_trader/internal/domain"
	"poly_trader/internal/infra"
	"poly_trader/internal/infra/storage"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// History is the permanent, id-keyed trade record.
type History interface {
	UpsertTrade(ctx context.Context, t *domain.Trade) error
	GetTrade(ctx context.Context, id string) (*domain.Trade, error)
	PendingTrades(ctx context.Context) ([]*domain.Trade, error)
	TradesSince(ctx context.Context, seq uint64) ([]*domain.Trade, error)
}

// Snapshots stores the working state.
type Snapshots interface {
	Save(snap *storage.Snapshot) error
	LoadLatest() (*storage.Snapshot, error)
	Cleanup(keep int) error
}

// Config holds the risk limits and retention settings.
type Config struct {
	StartingBankroll decimal.Decimal
	MinBet           decimal.Decimal
	MaxDailyLoss     decimal.Decimal
	MaxDailyTrades   int
	WorkingSetSize   int
	SnapshotKeep     int
	Dedup            DedupPolicy
}

// ConfigFrom reads the trading and storage sections.
func ConfigFrom(cfg *infra.Config) (Config, error) {
	policy, err := ParseDedupPolicy(cfg.Trading.Dedup)
	if err != nil {
		return Config{}, &domain.ConfigError{Field: "trading.dedup", Err: err}
	}
	return Config{
		StartingBankroll: cfg.Trading.StartingBankroll,
		MinBet:           cfg.Trading.MinBet,
		MaxDailyLoss:     cfg.Trading.MaxDailyLoss,
		MaxDailyTrades:   cfg.Trading.MaxDailyTrades,
		WorkingSetSize:   cfg.Trading.WorkingSetSize,
		SnapshotKeep:     cfg.Storage.SnapshotKeep,
		Dedup:            policy,
	}, nil
}

func (c *Config) applyDefaults() {
	if c.StartingBankroll.IsZero() {
		c.StartingBankroll = decimal.NewFromInt(100)
	}
	if !c.MinBet.IsPositive() {
		c.MinBet = decimal.NewFromInt(1)
	}
	if !c.MaxDailyLoss.IsPositive() {
		c.MaxDailyLoss = decimal.NewFromInt(50)
	}
	if c.MaxDailyTrades <= 0 {
		c.MaxDailyTrades = 100
	}
	if c.WorkingSetSize <= 0 {
		c.WorkingSetSize = 100
	}
	if c.SnapshotKeep <= 0 {
		c.SnapshotKeep = 3
	}
	if c.Dedup == nil {
		c.Dedup = WalletWindowPolicy{}
	}
}

// snapshotState is the persisted working state.
type snapshotState struct {
	Bankroll         decimal.Decimal   `json:"bankroll"`
	StartingBankroll decimal.Decimal   `json:"starting_bankroll"`
	RealizedPnL      decimal.Decimal   `json:"realized_pnl"`
	FeesPaid         decimal.Decimal   `json:"fees_paid"`
	Wins             int               `json:"wins"`
	Losses           int               `json:"losses"`
	TotalTrades      int               `json:"total_trades"`
	DailyDate        string            `json:"last_reset_date"`
	DailyTrades      int               `json:"daily_bets"`
	DailyPnL         decimal.Decimal   `json:"daily_pnl"`
	NextSeq          uint64            `json:"next_seq"`
	Trades           []json.RawMessage `json:"trades"`
}

// Ledger owns bankroll, daily limits and the trade working set.
// Every mutation reaches the history before the snapshot.
type Ledger struct {
	mu        sync.Mutex
	cfg       Config
	history   History
	snapshots Snapshots
	metrics   *infra.Metrics
	logger    *slog.Logger
	now       func() time.Time

	bankroll    decimal.Decimal
	realizedPnL decimal.Decimal
	feesPaid    decimal.Decimal
	wins        int
	losses      int
	totalTrades int
	dailyDate   string
	dailyTrades int
	dailyPnL    decimal.Decimal
	nextSeq     uint64

	trades []*domain.Trade // seq order
	index  map[string]*domain.Trade
	keys   map[string]struct{}
}

// New creates an empty ledger. Call Load to restore persisted state.
func New(history History, snapshots Snapshots, cfg Config, m *infra.Metrics) *Ledger {
	cfg.applyDefaults()
	if m == nil {
		m = infra.GlobalMetrics
	}
	l := &Ledger{
		cfg:       cfg,
		history:   history,
		snapshots: snapshots,
		metrics:   m,
		logger:    slog.Default().With("module", "ledger"),
		now:       time.Now,
	}
	l.reset()
	return l
}

func (l *Ledger) reset() {
	l.bankroll = l.cfg.StartingBankroll
	l.realizedPnL = decimal.Zero
	l.feesPaid = decimal.Zero
	l.wins, l.losses, l.totalTrades = 0, 0, 0
	l.dailyDate = l.now().UTC().Format(dateLayout)
	l.dailyTrades = 0
	l.dailyPnL = decimal.Zero
	l.nextSeq = 1
	l.trades = nil
	l.index = make(map[string]*domain.Trade)
	l.keys = make(map[string]struct{})
}

// rollover resets the daily counters on a UTC date change.
func (l *Ledger) rollover(now time.Time) {
	today := now.UTC().Format(dateLayout)
	if l.dailyDate == today {
		return
	}
	if l.dailyDate != "" {
		l.logger.Info("Daily limits reset", "previous", l.dailyDate, "trades", l.dailyTrades, "pnl", l.dailyPnL.StringFixed(2))
	}
	l.dailyDate = today
	l.dailyTrades = 0
	l.dailyPnL = decimal.Zero
}

// CanTrade checks the daily trade ceiling, the daily loss floor and the
// minimum bankroll. The reason is "OK" when trading is allowed.
func (l *Ledger) CanTrade() (bool, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollover(l.now())

	if l.dailyTrades >= l.cfg.MaxDailyTrades {
		return false, fmt.Sprintf("Max daily bets reached (%d)", l.cfg.MaxDailyTrades)
	}
	if l.dailyPnL.LessThanOrEqual(l.cfg.MaxDailyLoss.Neg()) {
		return false, fmt.Sprintf("Max daily loss reached ($%s)", l.cfg.MaxDailyLoss.StringFixed(2))
	}
	if l.bankroll.LessThan(l.cfg.MinBet) {
		return false, fmt.Sprintf("Bankroll too low ($%s < $%s)", l.bankroll.StringFixed(2), l.cfg.MinBet.StringFixed(2))
	}
	return true, "OK"
}

// Bankroll returns the uncommitted balance.
func (l *Ledger) Bankroll() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bankroll
}

// IsDuplicate reports whether a committed trade already covers d under
// the dedup policy.
func (l *Ledger) IsDuplicate(d domain.Decision) bool {
	key, ok := decisionKey(l.cfg.Dedup, d)
	if !ok {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, seen := l.keys[key]
	return seen
}

// RecordTrade assigns the next seq, debits the committed notional and
// persists. Recording the same trade id twice is a no-op.
func (l *Ledger) RecordTrade(ctx context.Context, t *domain.Trade) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("record trade: %w: missing id", domain.ErrInvalidOrder)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.index[t.ID]; ok {
		return nil
	}
	existing, err := l.history.GetTrade(ctx, t.ID)
	if err != nil {
		return fmt.Errorf("record trade %s: %w", t.ID, err)
	}
	if existing != nil {
		l.logger.Warn("Trade already in history", "id", t.ID, "seq", existing.Seq)
		return nil
	}

	l.rollover(l.now())

	rec := t.Clone()
	rec.Seq = l.nextSeq
	if err := l.history.UpsertTrade(ctx, rec); err != nil {
		return fmt.Errorf("record trade %s: %w", t.ID, err)
	}
	t.Seq = rec.Seq
	l.applyPlaced(rec)
	l.trim()

	l.logger.Info("Trade recorded",
		"id", rec.ID,
		"seq", rec.Seq,
		"status", rec.Status,
		"amount", rec.Amount.StringFixed(2),
		"bankroll", l.bankroll.StringFixed(2),
	)
	return l.saveLocked()
}

func (l *Ledger) applyPlaced(t *domain.Trade) {
	if t.Commits() {
		l.bankroll = l.bankroll.Sub(t.Amount)
		l.totalTrades++
		if t.PlacedAt.UTC().Format(dateLayout) == l.dailyDate {
			l.dailyTrades++
		}
		if key, ok := tradeKey(l.cfg.Dedup, t); ok {
			l.keys[key] = struct{}{}
		}
	}
	l.trades = append(l.trades, t)
	l.index[t.ID] = t
	if t.Seq >= l.nextSeq {
		l.nextSeq = t.Seq + 1
	}
}

// applySettlement credits a trade that just moved to won or lost.
func (l *Ledger) applySettlement(t *domain.Trade) {
	pnl := decimal.Zero
	if t.PnL != nil {
		pnl = *t.PnL
	}
	l.bankroll = l.bankroll.Add(t.Amount).Add(pnl)
	l.realizedPnL = l.realizedPnL.Add(pnl)
	l.feesPaid = l.feesPaid.Add(t.FeePaid)
	if t.Status == domain.TradeStatusWon {
		l.wins++
	} else {
		l.losses++
	}
	if t.SettledAt != nil && t.SettledAt.UTC().Format(dateLayout) == l.dailyDate {
		l.dailyPnL = l.dailyPnL.Add(pnl)
	}
}

// trim keeps the newest WorkingSetSize trades plus every pending one.
func (l *Ledger) trim() {
	excess := len(l.trades) - l.cfg.WorkingSetSize
	if excess <= 0 {
		return
	}
	kept := make([]*domain.Trade, 0, l.cfg.WorkingSetSize)
	for i, t := range l.trades {
		if i < excess && !t.IsPending() {
			delete(l.index, t.ID)
			continue
		}
		kept = append(kept, t)
	}
	l.trades = kept
}

// SettlePending resolves pending trades whose market has closed with an
// outcome. Lookups run without holding the lock. Unresolved markets stay
// pending for a later call.
func (l *Ledger) SettlePending(ctx context.Context, lookup domain.MarketLookup) (int, error) {
	l.mu.Lock()
	windows := make([]int64, 0)
	seen := make(map[int64]bool)
	for _, t := range l.trades {
		if t.IsPending() && !seen[t.MarketTimestamp] {
			seen[t.MarketTimestamp] = true
			windows = append(windows, t.MarketTimestamp)
		}
	}
	l.mu.Unlock()

	if len(windows) == 0 {
		return 0, nil
	}

	var errs []error
	outcomes := make(map[int64]domain.Direction)
	for _, ts := range windows {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		m, err := lookup.GetMarket(ctx, ts)
		if err != nil {
			errs = append(errs, fmt.Errorf("market %d: %w", ts, err))
			continue
		}
		if m == nil || !m.IsSettled() {
			continue
		}
		outcomes[ts] = m.Outcome
	}
	if len(outcomes) == 0 {
		return 0, errors.Join(errs...)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.rollover(now)

	settled := 0
	for _, t := range l.trades {
		if !t.IsPending() {
			continue
		}
		outcome, ok := outcomes[t.MarketTimestamp]
		if !ok {
			continue
		}

		next := t.Clone()
		next.ApplySettlement(outcome, next.ComputeSettlement(outcome), now)
		if err := l.history.UpsertTrade(ctx, next); err != nil {
			errs = append(errs, fmt.Errorf("settle %s: %w", t.ID, err))
			continue
		}
		*t = *next
		l.applySettlement(t)
		settled++
		l.metrics.RecordSettlement()

		l.logger.Info("Trade settled",
			"id", t.ID,
			"market", t.MarketSlug,
			"direction", t.Direction,
			"outcome", outcome,
			"status", t.Status,
			"pnl", t.PnL.StringFixed(2),
			"bankroll", l.bankroll.StringFixed(2),
		)
	}

	if settled > 0 {
		if err := l.saveLocked(); err != nil {
			errs = append(errs, err)
		}
	}
	return settled, errors.Join(errs...)
}

// Save writes the working-state snapshot.
func (l *Ledger) Save(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.saveLocked()
}

func (l *Ledger) encodeState() (snapshotState, error) {
	st := snapshotState{
		Bankroll:         l.bankroll,
		StartingBankroll: l.cfg.StartingBankroll,
		RealizedPnL:      l.realizedPnL,
		FeesPaid:         l.feesPaid,
		Wins:             l.wins,
		Losses:           l.losses,
		TotalTrades:      l.totalTrades,
		DailyDate:        l.dailyDate,
		DailyTrades:      l.dailyTrades,
		DailyPnL:         l.dailyPnL,
		NextSeq:          l.nextSeq,
		Trades:           make([]json.RawMessage, 0, len(l.trades)),
	}
	for _, t := range l.trades {
		raw, err := json.Marshal(t)
		if err != nil {
			return st, fmt.Errorf("encode trade %s: %w", t.ID, err)
		}
		st.Trades = append(st.Trades, raw)
	}
	return st, nil
}

func (l *Ledger) saveLocked() error {
	st, err := l.encodeState()
	if err != nil {
		return err
	}
	snap, err := storage.NewSnapshot(l.nextSeq, st)
	if err != nil {
		return err
	}
	if err := l.snapshots.Save(snap); err != nil {
		return fmt.Errorf("save ledger: %w", err)
	}
	if err := l.snapshots.Cleanup(l.cfg.SnapshotKeep); err != nil {
		l.logger.Warn("Snapshot cleanup failed", "error", err)
	}
	return nil
}

// Dump returns the working state as indented JSON.
func (l *Ledger) Dump() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, err := l.encodeState()
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(st, "", "  ")
}

// Load rebuilds state from the latest snapshot and the history. Rows the
// snapshot never saw are replayed, settlements that only reached the
// history are applied, and pending history rows missing from the working
// set are re-queued for settlement. Without a usable snapshot everything
// is rebuilt from history.
func (l *Ledger) Load(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.reset()
	from := uint64(0)

	snap, err := l.snapshots.LoadLatest()
	if err != nil {
		return fmt.Errorf("load ledger: %w", err)
	}
	if snap != nil {
		if err := l.restore(snap); err != nil {
			l.logger.Warn("Snapshot unusable, rebuilding from history", "error", err)
			l.reset()
		} else {
			from = l.nextSeq
		}
	}
	l.rollover(l.now())

	rows, err := l.history.TradesSince(ctx, from)
	if err != nil {
		return fmt.Errorf("load ledger: history: %w", err)
	}
	replayed := 0
	for _, t := range rows {
		if _, ok := l.index[t.ID]; ok {
			continue
		}
		l.applyPlaced(t)
		if t.Status.IsSettled() {
			l.applySettlement(t)
		}
		replayed++
	}

	reconciled := 0
	for _, t := range l.trades {
		if !t.IsPending() {
			continue
		}
		h, err := l.history.GetTrade(ctx, t.ID)
		if err != nil {
			return fmt.Errorf("load ledger: history: %w", err)
		}
		if h != nil && h.Status.IsSettled() {
			*t = *h
			l.applySettlement(t)
			reconciled++
		}
	}

	pending, err := l.history.PendingTrades(ctx)
	if err != nil {
		return fmt.Errorf("load ledger: history: %w", err)
	}
	requeued := 0
	for _, t := range pending {
		if _, ok := l.index[t.ID]; ok {
			continue
		}
		// Already debited before the snapshot was taken.
		l.trades = append(l.trades, t)
		l.index[t.ID] = t
		if key, ok := tradeKey(l.cfg.Dedup, t); ok {
			l.keys[key] = struct{}{}
		}
		requeued++
	}
	sortBySeq(l.trades)
	l.trim()

	l.logger.Info("Ledger loaded",
		"snapshot", snap != nil,
		"replayed", replayed,
		"reconciled", reconciled,
		"requeued", requeued,
		"pending", l.pendingLocked(),
		"bankroll", l.bankroll.StringFixed(2),
	)

	if replayed+reconciled+requeued > 0 || snap == nil {
		return l.saveLocked()
	}
	return nil
}

func (l *Ledger) restore(snap *storage.Snapshot) error {
	var st snapshotState
	if err := json.Unmarshal(snap.State, &st); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	trades := make([]*domain.Trade, 0, len(st.Trades))
	for _, raw := range st.Trades {
		t, err := domain.DecodeTrade(raw)
		if err != nil {
			return err
		}
		trades = append(trades, t)
	}

	l.bankroll = st.Bankroll
	l.realizedPnL = st.RealizedPnL
	l.feesPaid = st.FeesPaid
	l.wins, l.losses, l.totalTrades = st.Wins, st.Losses, st.TotalTrades
	l.dailyDate = st.DailyDate
	l.dailyTrades = st.DailyTrades
	l.dailyPnL = st.DailyPnL
	l.nextSeq = st.NextSeq
	if snap.Seq > l.nextSeq {
		l.nextSeq = snap.Seq
	}
	if l.nextSeq == 0 {
		l.nextSeq = 1
	}

	l.trades = trades
	for _, t := range trades {
		l.index[t.ID] = t
		if t.Seq >= l.nextSeq {
			l.nextSeq = t.Seq + 1
		}
		if !t.Commits() {
			continue
		}
		if key, ok := tradeKey(l.cfg.Dedup, t); ok {
			l.keys[key] = struct{}{}
		}
	}
	return nil
}

func (l *Ledger) pendingLocked() int {
	n := 0
	for _, t := range l.trades {
		if t.IsPending() {
			n++
		}
	}
	return n
}

// Trades returns copies of the working set, oldest first.
func (l *Ledger) Trades() []*domain.Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*domain.Trade, len(l.trades))
	for i, t := range l.trades {
		out[i] = t.Clone()
	}
	return out
}
