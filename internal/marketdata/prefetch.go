package marketdata

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"poly_trader/internal/domain"
)

// marketRetention bounds how long past windows stay in the market cache.
const marketRetention = time.Hour

// Prefetcher periodically resolves the current and upcoming windows so the
// execution path never waits on market discovery.
type Prefetcher struct {
	cache    *Cache
	window   time.Duration
	count    int
	interval time.Duration
	now      func() time.Time
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewPrefetcher creates a prefetcher for count windows every interval.
func NewPrefetcher(cache *Cache, window time.Duration, count int, interval time.Duration) *Prefetcher {
	if count <= 0 {
		count = 3
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Prefetcher{
		cache:    cache,
		window:   window,
		count:    count,
		interval: interval,
		now:      time.Now,
	}
}

// Start prefetches immediately, then on every interval until ctx ends or Stop.
func (p *Prefetcher) Start(ctx context.Context) error {
	ctx, p.cancel = context.WithCancel(ctx)

	p.run(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Prefetch loop panic recovered", slog.Any("panic", r))
			}
		}()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Market prefetch stopped")
				return
			case <-ticker.C:
				p.run(ctx)
			}
		}
	}()

	return nil
}

// Stop stops the polling.
func (p *Prefetcher) Stop() {
	if p.cancel != nil {
		p.cancel()
		p.wg.Wait()
	}
}

func (p *Prefetcher) run(ctx context.Context) {
	now := p.now()
	windows := domain.UpcomingWindows(now, p.window, p.count)
	n := p.cache.PrefetchMarkets(ctx, windows)
	evicted := p.cache.Evict(now.Add(-marketRetention).Unix())
	slog.Debug("Markets prefetched",
		slog.Int("resolved", n),
		slog.Int("requested", len(windows)),
		slog.Int("evicted", evicted))
}
