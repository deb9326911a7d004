package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"poly_trader/internal/domain"
	"poly_trader/internal/infra"
	"poly_trader/internal/marketdata"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// TickSource tags ticks produced by the market channel.
const TickSource = "polymarket_ws"

// Feed streams the CLOB market channel and keeps one book per subscribed token.
// It implements domain.DataFeed and marketdata.BookSource.
type Feed struct {
	worker  *infra.BaseWSWorker
	url     string
	metrics *infra.Metrics
	logger  *slog.Logger
	now     func() time.Time

	subsMu sync.Mutex
	subs   map[string]struct{}

	booksMu sync.RWMutex
	books   map[string]*marketdata.OrderBook

	cbMu         sync.RWMutex
	tickCbs      []func(domain.PriceTick)
	reconnectCbs []func()

	connects    atomic.Int64
	reconnects  atomic.Uint64
	messages    atomic.Uint64
	lastMessage atomic.Int64 // unix nanos
}

var (
	_ domain.DataFeed        = (*Feed)(nil)
	_ marketdata.BookSource  = (*Feed)(nil)
	_ infra.WebSocketHandler = (*Feed)(nil)
)

// NewFeed creates a market channel feed from config.
func NewFeed(cfg *infra.Config, m *infra.Metrics) *Feed {
	f := &Feed{
		url:     cfg.API.WSURL,
		metrics: m,
		logger:  slog.Default().With("module", "polymarket_feed"),
		now:     time.Now,
		subs:    make(map[string]struct{}),
		books:   make(map[string]*marketdata.OrderBook),
	}
	f.worker = infra.NewBaseWSWorker(f).WithMetrics(m)
	if cfg.Feed.PingInterval > 0 {
		f.worker.PingInterval = cfg.Feed.PingInterval
	}
	if cfg.Feed.ReadTimeout > 0 {
		f.worker.ReadTimeout = cfg.Feed.ReadTimeout
	}
	if cfg.Feed.MaxBackoff > 0 {
		f.worker.MaxBackoff = cfg.Feed.MaxBackoff
	}
	return f
}

// Start launches the receive loop in the background.
func (f *Feed) Start(ctx context.Context) error {
	f.worker.Start(ctx)
	return nil
}

// Stop closes the connection and waits for the loop to exit.
func (f *Feed) Stop() {
	f.worker.Stop()
}

// IsConnected reports whether the stream is live.
func (f *Feed) IsConnected() bool {
	return f.worker.IsConnected()
}

// OnTick registers a tick callback.
func (f *Feed) OnTick(cb func(domain.PriceTick)) {
	f.cbMu.Lock()
	defer f.cbMu.Unlock()
	f.tickCbs = append(f.tickCbs, cb)
}

// OnReconnect registers a callback fired after every successful reconnect.
func (f *Feed) OnReconnect(cb func()) {
	f.cbMu.Lock()
	defer f.cbMu.Unlock()
	f.reconnectCbs = append(f.reconnectCbs, cb)
}

// Subscribe adds symbol to the subscription set; it is sent right away when
// connected and re-sent after every reconnect.
func (f *Feed) Subscribe(symbol string) error {
	f.subsMu.Lock()
	if _, ok := f.subs[symbol]; ok {
		f.subsMu.Unlock()
		return nil
	}
	f.subs[symbol] = struct{}{}
	f.subsMu.Unlock()

	if !f.worker.IsConnected() {
		return nil
	}
	if err := f.worker.WriteJSON(dynamicSubscription{AssetIDs: []string{symbol}, Operation: "subscribe"}); err != nil {
		return fmt.Errorf("subscribe %s: %w", symbol, err)
	}
	return nil
}

// Unsubscribe removes symbol and drops its cached book.
func (f *Feed) Unsubscribe(symbol string) error {
	f.subsMu.Lock()
	_, ok := f.subs[symbol]
	delete(f.subs, symbol)
	f.subsMu.Unlock()
	if !ok {
		return nil
	}

	f.booksMu.Lock()
	delete(f.books, symbol)
	f.booksMu.Unlock()

	if !f.worker.IsConnected() {
		return nil
	}
	if err := f.worker.WriteJSON(dynamicSubscription{AssetIDs: []string{symbol}, Operation: "unsubscribe"}); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", symbol, err)
	}
	return nil
}

// Subscribed returns the subscription set, sorted.
func (f *Feed) Subscribed() []string {
	f.subsMu.Lock()
	defer f.subsMu.Unlock()
	out := make([]string, 0, len(f.subs))
	for s := range f.subs {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Book returns a copy of the cached book for symbol.
func (f *Feed) Book(symbol string) (*marketdata.OrderBook, bool) {
	f.booksMu.RLock()
	defer f.booksMu.RUnlock()
	b, ok := f.books[symbol]
	if !ok {
		return nil, false
	}
	return b.Clone(), true
}

// GetExecutionPrice quotes notional against the cached book.
func (f *Feed) GetExecutionPrice(symbol string, side domain.Side, notional decimal.Decimal) (marketdata.Quote, bool) {
	f.booksMu.RLock()
	defer f.booksMu.RUnlock()
	b, ok := f.books[symbol]
	if !ok {
		return marketdata.Quote{}, false
	}
	q := b.ExecutionPrice(side, notional)
	q.Age = b.Age(f.now())
	return q, true
}

// FeedStats is a point-in-time view of the feed.
type FeedStats struct {
	Connected      bool
	Reconnects     uint64
	Messages       uint64
	LastMessageAge time.Duration
	Subscribed     int
	CachedBooks    int
}

// Stats returns feed counters.
func (f *Feed) Stats() FeedStats {
	s := FeedStats{
		Connected:  f.IsConnected(),
		Reconnects: f.reconnects.Load(),
		Messages:   f.messages.Load(),
		Subscribed: len(f.Subscribed()),
	}
	if last := f.lastMessage.Load(); last > 0 {
		s.LastMessageAge = f.now().Sub(time.Unix(0, last))
	}
	f.booksMu.RLock()
	s.CachedBooks = len(f.books)
	f.booksMu.RUnlock()
	return s
}

// --- infra.WebSocketHandler ---

func (f *Feed) GetURL() string { return f.url }

func (f *Feed) ID() string { return "polymarket_market" }

type initialSubscription struct {
	Type     string   `json:"type"`
	AssetIDs []string `json:"assets_ids"`
}

type dynamicSubscription struct {
	AssetIDs  []string `json:"assets_ids"`
	Operation string   `json:"operation"`
}

// OnConnect re-issues every subscription, then fires reconnect callbacks
// when this is not the first connection.
func (f *Feed) OnConnect(ctx context.Context, conn *websocket.Conn) error {
	if subs := f.Subscribed(); len(subs) > 0 {
		if err := f.worker.WriteJSON(initialSubscription{Type: "market", AssetIDs: subs}); err != nil {
			return err
		}
	}

	if f.connects.Add(1) == 1 {
		return nil
	}

	f.reconnects.Add(1)
	f.metrics.RecordReconnect()
	f.logger.Info("🔄 Feed reconnected", "subscriptions", len(f.Subscribed()))

	f.cbMu.RLock()
	cbs := append([]func(){}, f.reconnectCbs...)
	f.cbMu.RUnlock()
	for _, cb := range cbs {
		cb()
	}
	return nil
}

func (f *Feed) OnPing(ctx context.Context, conn *websocket.Conn) error {
	return f.worker.Write(websocket.TextMessage, []byte("PING"))
}

// OnDisconnect implements infra.DisconnectHandler.
func (f *Feed) OnDisconnect(err error) {
	if err != nil {
		f.logger.Warn("Feed disconnected", slog.Any("error", err))
	}
}

type wsLevelChange struct {
	AssetID string          `json:"asset_id"`
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
	Side    string          `json:"side"`
}

type wsEvent struct {
	EventType string `json:"event_type"`
	Type      string `json:"type"`
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`

	Bids  []domain.OrderBookLevel `json:"bids"`
	Asks  []domain.OrderBookLevel `json:"asks"`
	Buys  []domain.OrderBookLevel `json:"buys"`
	Sells []domain.OrderBookLevel `json:"sells"`

	Changes      []wsLevelChange `json:"changes"`
	PriceChanges []wsLevelChange `json:"price_changes"`

	Price     decimal.Decimal  `json:"price"`
	Size      *decimal.Decimal `json:"size"`
	Side      string           `json:"side"`
	Timestamp decimal.Decimal  `json:"timestamp"` // unix millis, string or number
}

func (e *wsEvent) kind() string {
	if e.EventType != "" {
		return e.EventType
	}
	return e.Type
}

func (e *wsEvent) at(fallback time.Time) time.Time {
	if ms := e.Timestamp.IntPart(); ms > 0 {
		return time.UnixMilli(ms)
	}
	return fallback
}

// OnMessage handles one frame: a single event or an array of events.
func (f *Feed) OnMessage(ctx context.Context, msg []byte) {
	now := f.now()
	f.messages.Add(1)
	f.lastMessage.Store(now.UnixNano())

	msg = bytes.TrimSpace(msg)
	if len(msg) == 0 || bytes.EqualFold(msg, []byte("PONG")) {
		return
	}

	if msg[0] == '[' {
		var events []wsEvent
		if err := json.Unmarshal(msg, &events); err != nil {
			f.logger.Debug("Unparseable frame", slog.Any("error", err))
			return
		}
		for i := range events {
			f.handleEvent(&events[i], now)
		}
		return
	}

	var ev wsEvent
	if err := json.Unmarshal(msg, &ev); err != nil {
		f.logger.Debug("Unparseable frame", slog.Any("error", err))
		return
	}
	f.handleEvent(&ev, now)
}

func (f *Feed) handleEvent(ev *wsEvent, now time.Time) {
	switch ev.kind() {
	case "book":
		f.applyBook(ev, now)
	case "price_change":
		f.applyChanges(ev, now)
	case "last_trade_price":
		f.emitTrade(ev, now)
	default:
		// tick_size_change and future event types
	}
}

func (f *Feed) applyBook(ev *wsEvent, now time.Time) {
	if ev.AssetID == "" {
		return
	}
	bids, asks := ev.Bids, ev.Asks
	if len(bids) == 0 && len(asks) == 0 {
		bids, asks = ev.Buys, ev.Sells
	}

	f.booksMu.Lock()
	defer f.booksMu.Unlock()
	b, ok := f.books[ev.AssetID]
	if !ok {
		b = marketdata.NewOrderBook(ev.AssetID, marketdata.SourceWebSocket)
		f.books[ev.AssetID] = b
	}
	b.ApplySnapshot(bids, asks, now)
}

// applyChanges applies level deltas. Deltas for a token without a snapshot
// are dropped; the next snapshot supersedes them.
func (f *Feed) applyChanges(ev *wsEvent, now time.Time) {
	f.booksMu.Lock()
	defer f.booksMu.Unlock()

	apply := func(assetID string, c wsLevelChange) {
		b, ok := f.books[assetID]
		if !ok {
			return
		}
		side := domain.SideBuy
		if c.Side == string(domain.SideSell) {
			side = domain.SideSell
		}
		b.ApplyDelta(side, c.Price, c.Size, now)
	}

	for _, c := range ev.Changes {
		apply(ev.AssetID, c)
	}
	for _, c := range ev.PriceChanges {
		asset := c.AssetID
		if asset == "" {
			asset = ev.AssetID
		}
		apply(asset, c)
	}
}

func (f *Feed) emitTrade(ev *wsEvent, now time.Time) {
	if ev.AssetID == "" || !ev.Price.IsPositive() {
		return
	}
	tick := domain.PriceTick{
		Symbol:    ev.AssetID,
		Price:     ev.Price,
		Timestamp: ev.at(now),
		Size:      ev.Size,
		Side:      domain.Side(ev.Side),
		Source:    TickSource,
	}
	f.metrics.RecordTick()

	f.cbMu.RLock()
	cbs := append([]func(domain.PriceTick){}, f.tickCbs...)
	f.cbMu.RUnlock()
	for _, cb := range cbs {
		cb(tick)
	}
}
