package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"poly_trader/internal/domain"

	"github.com/shopspring/decimal"
)

// BookSource is the streaming side of the cache.
type BookSource interface {
	// Book returns a copy of the cached book for symbol.
	Book(symbol string) (*OrderBook, bool)
	Subscribe(symbol string) error
	IsConnected() bool
}

// RESTSource is the request-response side of the cache.
// A nil market with a nil error means the window does not exist (yet).
type RESTSource interface {
	GetOrderBook(ctx context.Context, tokenID string) (*OrderBook, error)
	GetMarket(ctx context.Context, windowTs int64) (*domain.Market, error)
}

// CacheConfig holds the freshness thresholds of the router.
type CacheConfig struct {
	BookFreshness  time.Duration
	PriceFreshness time.Duration
	Window         time.Duration // market window length
}

// Cache routes book and market reads to the feed when its state is fresh
// and to REST otherwise. REST results never write into the feed's books.
type Cache struct {
	feed   BookSource
	rest   RESTSource
	cfg    CacheConfig
	now    func() time.Time
	logger *slog.Logger

	mu      sync.RWMutex
	markets map[int64]*domain.Market

	wsHits   atomic.Uint64
	restHits atomic.Uint64
	misses   atomic.Uint64
}

// NewCache creates a router. feed may be nil for REST-only operation.
func NewCache(feed BookSource, rest RESTSource, cfg CacheConfig) *Cache {
	if cfg.BookFreshness <= 0 {
		cfg.BookFreshness = 5 * time.Second
	}
	if cfg.PriceFreshness <= 0 {
		cfg.PriceFreshness = 2 * time.Second
	}
	if cfg.Window <= 0 {
		cfg.Window = 5 * time.Minute
	}
	return &Cache{
		feed:    feed,
		rest:    rest,
		cfg:     cfg,
		now:     time.Now,
		logger:  slog.Default().With("module", "market_cache"),
		markets: make(map[int64]*domain.Market),
	}
}

// GetOrderBook returns the freshest available book for symbol.
func (c *Cache) GetOrderBook(ctx context.Context, symbol string) (*OrderBook, error) {
	return c.book(ctx, symbol, c.cfg.BookFreshness)
}

// GetExecutionPrice quotes a taker order of notional on symbol.
// It uses the tighter price freshness threshold.
func (c *Cache) GetExecutionPrice(ctx context.Context, symbol string, side domain.Side, notional decimal.Decimal) (Quote, error) {
	book, err := c.book(ctx, symbol, c.cfg.PriceFreshness)
	if err != nil {
		return Quote{}, err
	}
	q := book.ExecutionPrice(side, notional)
	q.Age = book.Age(c.now())
	return q, nil
}

// GetMid returns the book midpoint for symbol.
func (c *Cache) GetMid(ctx context.Context, symbol string) (decimal.Decimal, error) {
	book, err := c.GetOrderBook(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	mid, ok := book.Mid()
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: empty book for %s", domain.ErrInsufficientDepth, symbol)
	}
	return mid, nil
}

func (c *Cache) book(ctx context.Context, symbol string, freshness time.Duration) (*OrderBook, error) {
	if c.feed != nil && c.feed.IsConnected() {
		if b, ok := c.feed.Book(symbol); ok && b.Age(c.now()) <= freshness {
			c.wsHits.Add(1)
			return b, nil
		}
	}

	c.restHits.Add(1)
	b, err := c.rest.GetOrderBook(ctx, symbol)
	if err != nil {
		c.misses.Add(1)
		return nil, fmt.Errorf("order book %s: %w", symbol, err)
	}
	b.Source = SourceREST
	return b, nil
}

// GetMarket resolves a window to its market.
// Resolved markets are served from cache forever, markets still inside
// their window are served from cache, everything else is re-fetched.
func (c *Cache) GetMarket(ctx context.Context, windowTs int64) (*domain.Market, error) {
	if m, ok := c.cachedMarket(windowTs); ok {
		return m, nil
	}

	m, err := c.rest.GetMarket(ctx, windowTs)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, nil
	}

	c.mu.Lock()
	c.markets[windowTs] = m
	c.mu.Unlock()
	return m, nil
}

func (c *Cache) cachedMarket(windowTs int64) (*domain.Market, bool) {
	c.mu.RLock()
	m, ok := c.markets[windowTs]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if m.IsSettled() {
		return m, true
	}
	if c.now().Before(time.Unix(windowTs, 0).Add(c.cfg.Window)) {
		return m, true
	}
	return nil, false
}

// TokenIDs returns the up and down outcome tokens of a window.
func (c *Cache) TokenIDs(ctx context.Context, windowTs int64) (string, string, error) {
	m, err := c.GetMarket(ctx, windowTs)
	if err != nil {
		return "", "", err
	}
	if m == nil {
		return "", "", fmt.Errorf("%w: window %d", domain.ErrMarketNotFound, windowTs)
	}
	return m.UpTokenID, m.DownTokenID, nil
}

// PrefetchMarkets resolves windows ahead of time and subscribes their tokens
// on the feed. It returns how many windows resolved.
func (c *Cache) PrefetchMarkets(ctx context.Context, windows []int64) int {
	resolved := 0
	for _, ts := range windows {
		if ctx.Err() != nil {
			break
		}
		m, err := c.GetMarket(ctx, ts)
		if err != nil {
			c.logger.Warn("Prefetch failed", slog.Int64("window", ts), slog.Any("error", err))
			continue
		}
		if m == nil {
			continue
		}
		resolved++

		if c.feed == nil {
			continue
		}
		for _, token := range []string{m.UpTokenID, m.DownTokenID} {
			if token == "" {
				continue
			}
			if err := c.feed.Subscribe(token); err != nil {
				c.logger.Warn("Subscribe failed", slog.String("token", token), slog.Any("error", err))
			}
		}
	}
	return resolved
}

// Evict drops cached markets whose window started before cutoff.
func (c *Cache) Evict(cutoff int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for ts := range c.markets {
		if ts < cutoff {
			delete(c.markets, ts)
			n++
		}
	}
	return n
}

// CacheStats is a point-in-time view of routing decisions.
type CacheStats struct {
	WebSocketHits uint64
	RESTHits      uint64
	RESTFailures  uint64
	CachedMarkets int
	FeedConnected bool
}

// Stats returns routing counters.
func (c *Cache) Stats() CacheStats {
	c.mu.RLock()
	n := len(c.markets)
	c.mu.RUnlock()
	return CacheStats{
		WebSocketHits: c.wsHits.Load(),
		RESTHits:      c.restHits.Load(),
		RESTFailures:  c.misses.Load(),
		CachedMarkets: n,
		FeedConnected: c.feed != nil && c.feed.IsConnected(),
	}
}
