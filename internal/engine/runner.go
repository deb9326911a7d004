package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"poly_trader/internal/domain"
	"poly_trader/internal/event"
	"poly_trader/internal/execution"
	"poly_trader/internal/infra"
	"poly_trader/internal/service"
	"poly_trader/internal/strategy"

	"github.com/shopspring/decimal"
)

// lastWindowKey persists the last window a placement was attempted in.
const lastWindowKey = "last_traded_window"

// Placer turns decisions into trades.
type Placer interface {
	PlaceTrade(ctx context.Context, d domain.Decision, simulated bool) *domain.Trade
	Mode() execution.Mode
}

// Book is the ledger surface the runner drives.
type Book interface {
	CanTrade() (bool, string)
	IsDuplicate(d domain.Decision) bool
	RecordTrade(ctx context.Context, t *domain.Trade) error
	SettlePending(ctx context.Context, lookup domain.MarketLookup) (int, error)
	Bankroll() decimal.Decimal
	Dump() ([]byte, error)
}

// StateStore keeps small runtime values across restarts.
type StateStore interface {
	SaveConfig(key, value string) error
	GetConfig(key string) (string, error)
}

// Subscriber follows the token ids of the window being traded.
type Subscriber interface {
	Subscribe(symbol string) error
	Unsubscribe(symbol string) error
}

// Config tunes the runner.
type Config struct {
	Window         time.Duration
	LoopInterval   time.Duration
	SettleInterval time.Duration
	StatsInterval  time.Duration
	BetAmount      decimal.Decimal
	PriceMaxAge    time.Duration
	InboxSize      int
	DumpPath       string
}

func (c *Config) applyDefaults() {
	if c.Window <= 0 {
		c.Window = 5 * time.Minute
	}
	if c.LoopInterval <= 0 {
		c.LoopInterval = time.Second
	}
	if c.SettleInterval <= 0 {
		c.SettleInterval = 15 * time.Second
	}
	if c.StatsInterval <= 0 {
		c.StatsInterval = time.Minute
	}
	if c.InboxSize <= 0 {
		c.InboxSize = 1024
	}
	if c.DumpPath == "" {
		c.DumpPath = "panic_dump.json"
	}
}

// ConfigFrom maps the trading section of the app config.
func ConfigFrom(cfg *infra.Config) Config {
	return Config{
		Window:         cfg.Market.Window,
		LoopInterval:   cfg.Trading.LoopInterval,
		SettleInterval: cfg.Trading.SettleInterval,
		BetAmount:      cfg.Trading.BetAmount,
		PriceMaxAge:    cfg.Cache.PriceFreshness,
	}
}

// Components are the collaborators of a Runner. Feed and State may be nil.
type Components struct {
	Markets  domain.MarketLookup
	Placer   Placer
	Book     Book
	Strategy strategy.Strategy
	Prices   *service.PriceService
	Feed     Subscriber
	State    StateStore
	Metrics  *infra.Metrics
}

// Runner is the primary loop. Feed callbacks only enqueue; every
// decision, placement and settlement happens on the Run goroutine.
type Runner struct {
	cfg Config
	Components

	inbox   chan event.Event
	seq     atomic.Uint64
	dropped atomic.Uint64
	lastSeq uint64

	lastWindow    int64
	trackedWindow int64
	trackedTokens []string
	lastSettle    time.Time
	lastStats     time.Time

	logger *slog.Logger
	now    func() time.Time
}

// NewRunner creates a runner. A nil Prices or Metrics gets a fresh default.
func NewRunner(cfg Config, c Components) *Runner {
	cfg.applyDefaults()
	if c.Prices == nil {
		c.Prices = service.NewPriceService()
	}
	if c.Metrics == nil {
		c.Metrics = infra.GlobalMetrics
	}
	return &Runner{
		cfg:        cfg,
		Components: c,
		inbox:      make(chan event.Event, cfg.InboxSize),
		logger:     slog.Default().With("module", "runner"),
		now:        time.Now,
	}
}

// Inbox returns the event channel. External workers send events here.
func (r *Runner) Inbox() chan<- event.Event {
	return r.inbox
}

// Attach registers the runner's callbacks on a feed.
func (r *Runner) Attach(feed domain.DataFeed) {
	feed.OnTick(r.OnTick)
	feed.OnReconnect(r.OnReconnect)
}

// OnTick enqueues a tick without blocking the feed worker.
func (r *Runner) OnTick(tick domain.PriceTick) {
	ev := event.NewTickEvent(tick)
	ev.Seq = r.seq.Add(1)
	r.enqueue(ev)
}

// OnReconnect enqueues a reconnect notice.
func (r *Runner) OnReconnect() {
	ev := event.AcquireReconnectEvent()
	ev.Seq = r.seq.Add(1)
	ev.Ts = r.now()
	r.enqueue(ev)
}

func (r *Runner) enqueue(ev event.Event) {
	select {
	case r.inbox <- ev:
	default:
		r.dropped.Add(1)
		event.Release(ev)
	}
}

// Run starts the main loop. This MUST be run in a single goroutine.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("🚀 Runner started",
		slog.String("strategy", r.Strategy.Name()),
		slog.String("mode", string(r.Placer.Mode())),
		slog.Duration("loop_interval", r.cfg.LoopInterval))

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", rec))
			r.DumpState(r.cfg.DumpPath)
			panic(fmt.Sprintf("HALTED: %v", rec))
		}
	}()

	r.restoreWindow()

	ticker := time.NewTicker(r.cfg.LoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Runner stopping...", slog.Uint64("dropped_events", r.dropped.Load()))
			return
		case ev := <-r.inbox:
			r.processEvent(ev)
		case <-ticker.C:
			r.cycle(ctx)
		}
	}
}

func (r *Runner) processEvent(ev event.Event) {
	defer event.Release(ev)

	if seq := ev.GetSeq(); seq != 0 {
		if r.lastSeq != 0 && seq > r.lastSeq+1 {
			r.logger.Debug("Inbox dropped events", slog.Uint64("missed", seq-r.lastSeq-1))
		}
		r.lastSeq = seq
	}

	switch e := ev.(type) {
	case *event.TickEvent:
		r.Prices.Update(e.Tick())
	case *event.ReconnectEvent:
		// Resolutions may have been missed while disconnected.
		r.lastSettle = time.Time{}
		r.logger.Info("Feed reconnected, settlement scheduled")
	default:
		r.logger.Warn("Unknown event type", slog.Any("type", ev.GetType()))
	}
}

// cycle is one loop period: settle when due, then try the current window.
func (r *Runner) cycle(ctx context.Context) {
	start := time.Now()
	defer func() { r.Metrics.RecordCycle(time.Since(start).Nanoseconds()) }()

	now := r.now()

	if now.Sub(r.lastSettle) >= r.cfg.SettleInterval {
		r.lastSettle = now
		n, err := r.Book.SettlePending(ctx, r.Markets)
		if err != nil {
			r.logger.Warn("Settlement incomplete, retrying next interval", slog.Any("error", err))
		}
		if n > 0 {
			r.logger.Info("Trades settled", slog.Int("count", n), slog.String("bankroll", r.Book.Bankroll().StringFixed(2)))
		}
	}

	r.tradeWindow(ctx, now)

	if now.Sub(r.lastStats) >= r.cfg.StatsInterval {
		r.lastStats = now
		s := r.Metrics.Snapshot()
		r.logger.Info("📊 Metrics",
			slog.Uint64("ticks", s.TicksReceived),
			slog.Uint64("trades", s.TradesPlaced),
			slog.Uint64("failed", s.TradesFailed),
			slog.Uint64("settlements", s.Settlements),
			slog.Uint64("reconnects", s.Reconnects),
			slog.Int64("avg_cycle_ns", s.AvgCycleNs),
			slog.Int("open_breakers", int(s.OpenBreakers)))
	}
}

// tradeWindow makes at most one placement attempt per market window.
func (r *Runner) tradeWindow(ctx context.Context, now time.Time) {
	ws := domain.WindowStart(now, r.cfg.Window)
	if ws == r.lastWindow {
		return
	}

	m, err := r.Markets.GetMarket(ctx, ws)
	if err != nil {
		r.logger.Warn("Market lookup failed, skipping cycle", slog.Int64("window", ws), slog.Any("error", err))
		return
	}
	if m == nil {
		return
	}
	r.track(m)

	if m.Closed || !m.AcceptingOrders {
		return
	}
	if ok, reason := r.Book.CanTrade(); !ok {
		r.logger.Debug("Trading paused", slog.String("reason", reason))
		return
	}

	in := strategy.Input{
		Now:       now,
		Market:    m,
		UpPrice:   r.price(m.UpTokenID, m.UpPrice, now),
		DownPrice: r.price(m.DownTokenID, m.DownPrice, now),
		Bankroll:  r.Book.Bankroll(),
		BetAmount: r.cfg.BetAmount,
	}
	d, err := r.Strategy.Decide(ctx, in)
	if err != nil {
		r.logger.Warn("Strategy failed", slog.String("strategy", r.Strategy.Name()), slog.Any("error", err))
		return
	}
	if d == nil {
		return
	}
	if d.Market == nil {
		d.Market = m
	}
	if d.Amount.IsZero() {
		d.Amount = r.cfg.BetAmount
	}
	if d.Strategy == "" {
		d.Strategy = r.Strategy.Name()
	}

	// Marked before placing so a crash mid-order cannot retry the window.
	r.markWindow(ws)

	if r.Book.IsDuplicate(*d) {
		r.logger.Info("Duplicate decision skipped",
			slog.String("market", m.Slug),
			slog.String("direction", string(d.Direction)))
		return
	}

	t := r.Placer.PlaceTrade(ctx, *d, r.Placer.Mode() == execution.ModePaper)
	if err := r.Book.RecordTrade(ctx, t); err != nil {
		r.logger.Error("Failed to record trade", slog.String("trade", t.ID), slog.Any("error", err))
	}
}

func (r *Runner) price(token string, listed decimal.Decimal, now time.Time) decimal.Decimal {
	if p, ok := r.Prices.Price(token, now, r.cfg.PriceMaxAge); ok {
		return p
	}
	return listed
}

// track moves feed subscriptions and price state to m's window.
func (r *Runner) track(m *domain.Market) {
	if m.Timestamp == r.trackedWindow {
		return
	}
	old := r.trackedTokens
	r.Prices.Forget(old...)
	r.trackedWindow = m.Timestamp
	r.trackedTokens = []string{m.UpTokenID, m.DownTokenID}

	if r.Feed == nil {
		return
	}
	for _, token := range old {
		if token == "" {
			continue
		}
		if err := r.Feed.Unsubscribe(token); err != nil {
			r.logger.Warn("Unsubscribe failed", slog.String("token", token), slog.Any("error", err))
		}
	}
	for _, token := range r.trackedTokens {
		if token == "" {
			continue
		}
		if err := r.Feed.Subscribe(token); err != nil {
			r.logger.Warn("Subscribe failed", slog.String("token", token), slog.Any("error", err))
		}
	}
}

func (r *Runner) markWindow(ws int64) {
	r.lastWindow = ws
	if r.State == nil {
		return
	}
	if err := r.State.SaveConfig(lastWindowKey, strconv.FormatInt(ws, 10)); err != nil {
		r.logger.Warn("Failed to persist traded window", slog.Any("error", err))
	}
}

func (r *Runner) restoreWindow() {
	if r.State == nil {
		return
	}
	v, err := r.State.GetConfig(lastWindowKey)
	if err != nil {
		r.logger.Warn("Failed to load traded window", slog.Any("error", err))
		return
	}
	if v == "" {
		return
	}
	ws, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.logger.Warn("Ignoring malformed traded window", slog.String("value", v))
		return
	}
	r.lastWindow = ws
}

// DumpState writes the ledger state to a file (for post-mortem).
func (r *Runner) DumpState(filename string) {
	r.logger.Info("Dumping internal state...", slog.String("file", filename))

	b, err := r.Book.Dump()
	if err != nil {
		r.logger.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		r.logger.Error("Failed to write state dump", slog.Any("error", err))
	}
}
