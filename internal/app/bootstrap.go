package app

import (
	"context"
	"fmt"
	"log/slog"

	"poly_trader/internal/engine"
	"poly_trader/internal/execution"
	"poly_trader/internal/infra"
	"poly_trader/internal/infra/polymarket"
	"poly_trader/internal/infra/storage"
	"poly_trader/internal/ledger"
	"poly_trader/internal/marketdata"
	"poly_trader/internal/service"
	"poly_trader/internal/strategy"
)

// DefaultConfigPath is read when no path is given.
const DefaultConfigPath = "configs/config.yaml"

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config     *infra.Config
	Metrics    *infra.Metrics
	Storage    *storage.Storage
	Client     *polymarket.Client
	Feed       *polymarket.Feed
	Cache      *marketdata.Cache
	Prefetcher *marketdata.Prefetcher
	Engine     *execution.Engine
	Ledger     *ledger.Ledger
	Runner     *engine.Runner

	configPath string
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	if configPath == "" {
		configPath = DefaultConfigPath
	}
	return &Bootstrap{configPath: configPath, Metrics: infra.GlobalMetrics}
}

// Initialize wires every component in dependency order and restores the
// ledger. Nothing is started; see Start.
func (b *Bootstrap) Initialize(ctx context.Context) error {
	slog.Info("🚀 Bootstrapping Poly Trader...")

	// 1. Load Config
	cfg, err := infra.LoadConfig(b.configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.Storage.DBPath)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("✅ Database initialized", slog.String("path", cfg.Storage.DBPath))

	// 4. Exchange access
	guards := infra.NewGuards(cfg, b.Metrics)
	b.Client = polymarket.NewClient(cfg, guards)
	b.Feed = polymarket.NewFeed(cfg, b.Metrics)

	// 5. Market data
	b.Cache = marketdata.NewCache(b.Feed, b.Client, marketdata.CacheConfig{
		BookFreshness:  cfg.Cache.BookFreshness,
		PriceFreshness: cfg.Cache.PriceFreshness,
		Window:         cfg.Market.Window,
	})
	b.Prefetcher = marketdata.NewPrefetcher(b.Cache, cfg.Market.Window, cfg.Market.PrefetchCount, cfg.Market.PrefetchInterval)

	// 6. Execution
	eng, err := execution.NewFactory(cfg, b.Cache, b.Client, b.Metrics).Create()
	if err != nil {
		return err
	}
	b.Engine = eng

	// 7. Ledger
	lcfg, err := ledger.ConfigFrom(cfg)
	if err != nil {
		return err
	}
	led := ledger.New(store, storage.NewSnapshotManager(cfg.Storage.SnapshotDir), lcfg, b.Metrics)
	if err := led.Load(ctx); err != nil {
		return fmt.Errorf("restore ledger: %w", err)
	}
	b.Ledger = led
	slog.Info("✅ Ledger restored", slog.String("bankroll", b.Ledger.Bankroll().StringFixed(2)))

	// 8. Primary loop
	strat, err := strategy.New(cfg.Trading.Strategy)
	if err != nil {
		return err
	}
	b.Runner = engine.NewRunner(engine.ConfigFrom(cfg), engine.Components{
		Markets:  b.Cache,
		Placer:   b.Engine,
		Book:     b.Ledger,
		Strategy: strat,
		Prices:   service.NewPriceService(),
		Feed:     b.Feed,
		State:    store,
		Metrics:  b.Metrics,
	})
	b.Runner.Attach(b.Feed)

	return nil
}

// Start launches the feed and prefetcher. The runner is started by the caller.
func (b *Bootstrap) Start(ctx context.Context) error {
	if err := b.Feed.Start(ctx); err != nil {
		return fmt.Errorf("start feed: %w", err)
	}
	slog.Info("✅ Market feed started", slog.String("url", b.Feed.GetURL()))

	if err := b.Prefetcher.Start(ctx); err != nil {
		return fmt.Errorf("start prefetcher: %w", err)
	}
	slog.Info("✅ Market prefetch started")
	return nil
}

// Shutdown stops background workers, saves the ledger and closes storage.
// Call it only after the runner has returned.
func (b *Bootstrap) Shutdown(ctx context.Context) {
	if b.Feed != nil {
		b.Feed.Stop()
	}
	if b.Prefetcher != nil {
		b.Prefetcher.Stop()
	}
	if b.Ledger != nil {
		if err := b.Ledger.Save(ctx); err != nil {
			slog.Error("Failed to save ledger", slog.Any("error", err))
		} else {
			s := b.Ledger.Stats()
			slog.Info("💾 Ledger saved",
				slog.String("bankroll", s.Bankroll.StringFixed(2)),
				slog.Int("pending", s.Pending))
		}
	}
	if b.Storage != nil {
		if err := b.Storage.Close(); err != nil {
			slog.Warn("Failed to close storage", slog.Any("error", err))
		}
	}
}
