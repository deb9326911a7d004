package infra

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"poly_trader/internal/domain"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultUserAgent is a browser-like user agent string to avoid bot detection
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	API struct {
		GammaURL    string        `yaml:"gamma_url"`
		ClobURL     string        `yaml:"clob_url"`
		WSURL       string        `yaml:"ws_url"`
		SignerURL   string        `yaml:"signer_url"`
		APIKey      string        `yaml:"api_key"`
		APISecret   string        `yaml:"api_secret"`
		Passphrase  string        `yaml:"passphrase"`
		Address     string        `yaml:"address"`
		HTTPTimeout time.Duration `yaml:"http_timeout"`
	} `yaml:"api"`

	Market struct {
		SlugPrefix       string        `yaml:"slug_prefix"`
		Window           time.Duration `yaml:"window"`
		PrefetchCount    int           `yaml:"prefetch_count"`
		PrefetchInterval time.Duration `yaml:"prefetch_interval"`
	} `yaml:"market"`

	Feed struct {
		PingInterval time.Duration `yaml:"ping_interval"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		MaxBackoff   time.Duration `yaml:"max_backoff"`
	} `yaml:"feed"`

	Cache struct {
		BookFreshness  time.Duration `yaml:"book_freshness"`
		PriceFreshness time.Duration `yaml:"price_freshness"`
	} `yaml:"cache"`

	Resilience struct {
		FailureThreshold int           `yaml:"failure_threshold"`
		SuccessThreshold int           `yaml:"success_threshold"`
		RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
		RateLimit        int           `yaml:"rate_limit"`
		RateWindow       time.Duration `yaml:"rate_window"`
		MaxRetries       int           `yaml:"max_retries"`
		RetryBaseDelay   time.Duration `yaml:"retry_base_delay"`
		RetryMaxDelay    time.Duration `yaml:"retry_max_delay"`
		RateLimitDelay   time.Duration `yaml:"rate_limit_delay"`
	} `yaml:"resilience"`

	Trading struct {
		Mode              string          `yaml:"mode"` // PAPER or LIVE
		Strategy          string          `yaml:"strategy"`
		BetAmount         decimal.Decimal `yaml:"bet_amount"`
		MinBet            decimal.Decimal `yaml:"min_bet"`
		MinOrderSize      decimal.Decimal `yaml:"min_order_size"`
		StartingBankroll  decimal.Decimal `yaml:"starting_bankroll"`
		MaxDailyLoss      decimal.Decimal `yaml:"max_daily_loss"`
		MaxDailyTrades    int             `yaml:"max_daily_trades"`
		WorkingSetSize    int             `yaml:"working_set_size"`
		FeeBps            int             `yaml:"fee_bps"`
		Dedup             string          `yaml:"dedup"` // wallet_window, wallet_window_direction, none
		LoopInterval      time.Duration   `yaml:"loop_interval"`
		SettleInterval    time.Duration   `yaml:"settle_interval"`
		OrderPollInterval time.Duration   `yaml:"order_poll_interval"`
		OrderTimeout      time.Duration   `yaml:"order_timeout"`
	} `yaml:"trading"`

	DelayModel struct {
		Enabled         bool    `yaml:"enabled"`
		BaseCoefficient float64 `yaml:"base_coefficient"`
		MaxImpactPct    float64 `yaml:"max_impact_pct"`
	} `yaml:"delay_model"`

	Storage struct {
		DBPath       string `yaml:"db_path"`
		SnapshotDir  string `yaml:"snapshot_dir"`
		SnapshotKeep int    `yaml:"snapshot_keep"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
		File  string `yaml:"file"`
	} `yaml:"logging"`
}

// Default returns a config with every field at its production default.
func Default() *Config {
	var c Config
	c.App.Name = "poly_trader"
	c.App.Version = "0.1.0"

	c.API.GammaURL = "https://gamma-api.polymarket.com"
	c.API.ClobURL = "https://clob.polymarket.com"
	c.API.WSURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	c.API.HTTPTimeout = 10 * time.Second

	c.Market.SlugPrefix = "btc-updown-5m"
	c.Market.Window = 5 * time.Minute
	c.Market.PrefetchCount = 3
	c.Market.PrefetchInterval = 30 * time.Second

	c.Feed.PingInterval = 10 * time.Second
	c.Feed.ReadTimeout = 60 * time.Second
	c.Feed.MaxBackoff = 30 * time.Second

	c.Cache.BookFreshness = 5 * time.Second
	c.Cache.PriceFreshness = 2 * time.Second

	c.Resilience.FailureThreshold = 5
	c.Resilience.SuccessThreshold = 3
	c.Resilience.RecoveryTimeout = 60 * time.Second
	c.Resilience.RateLimit = 120
	c.Resilience.RateWindow = 60 * time.Second
	c.Resilience.MaxRetries = 3
	c.Resilience.RetryBaseDelay = 1 * time.Second
	c.Resilience.RetryMaxDelay = 16 * time.Second
	c.Resilience.RateLimitDelay = 5 * time.Second

	c.Trading.Mode = "PAPER"
	c.Trading.Strategy = "hold"
	c.Trading.BetAmount = decimal.NewFromInt(5)
	c.Trading.MinBet = decimal.NewFromInt(1)
	c.Trading.MinOrderSize = decimal.NewFromInt(1)
	c.Trading.StartingBankroll = decimal.NewFromInt(100)
	c.Trading.MaxDailyLoss = decimal.NewFromInt(50)
	c.Trading.MaxDailyTrades = 100
	c.Trading.WorkingSetSize = 100
	c.Trading.FeeBps = 1000
	c.Trading.Dedup = "wallet_window"
	c.Trading.LoopInterval = 1 * time.Second
	c.Trading.SettleInterval = 15 * time.Second
	c.Trading.OrderPollInterval = 500 * time.Millisecond
	c.Trading.OrderTimeout = 10 * time.Second

	c.DelayModel.Enabled = true
	c.DelayModel.BaseCoefficient = 0.8
	c.DelayModel.MaxImpactPct = 10

	c.Storage.DBPath = "data/trades.db"
	c.Storage.SnapshotDir = "data/state"
	c.Storage.SnapshotKeep = 3

	c.Logging.Level = "info"
	c.Logging.File = "logs/app.log"
	return &c
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	// .env는 선택 사항입니다.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env", slog.Any("error", err))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &domain.ConfigError{Field: "path", Err: fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)}
		}
		return nil, err
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// 4원칙: 보안 우선 - 환경 변수 오버라이드 지원
	overrideWithEnv(cfg)

	// 5원칙: 설정 유효성 검사
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	invalid := func(field, format string, args ...any) error {
		return &domain.ConfigError{Field: field, Err: fmt.Errorf(format, args...)}
	}

	// API
	if !hasPrefix(c.API.WSURL, "ws://") && !hasPrefix(c.API.WSURL, "wss://") {
		return invalid("api.ws_url", "invalid WS URL: %q", c.API.WSURL)
	}
	if !hasPrefix(c.API.ClobURL, "http") {
		return invalid("api.clob_url", "invalid URL: %q", c.API.ClobURL)
	}
	if !hasPrefix(c.API.GammaURL, "http") {
		return invalid("api.gamma_url", "invalid URL: %q", c.API.GammaURL)
	}

	// Market
	if c.Market.Window < time.Second {
		return invalid("market.window", "must be at least 1s")
	}
	if c.Market.SlugPrefix == "" {
		return invalid("market.slug_prefix", "must not be empty")
	}

	// Resilience
	r := c.Resilience
	if r.FailureThreshold <= 0 || r.SuccessThreshold <= 0 {
		return invalid("resilience", "breaker thresholds must be positive")
	}
	if r.RateLimit <= 0 || r.RateWindow <= 0 {
		return invalid("resilience.rate_limit", "limit and window must be positive")
	}
	if r.MaxRetries < 0 {
		return invalid("resilience.max_retries", "must not be negative")
	}

	// Trading
	switch strings.ToUpper(c.Trading.Mode) {
	case "PAPER", "LIVE":
	default:
		return invalid("trading.mode", "unknown mode %q", c.Trading.Mode)
	}
	if !c.Trading.BetAmount.IsPositive() {
		return invalid("trading.bet_amount", "must be positive")
	}
	if c.Trading.StartingBankroll.IsNegative() {
		return invalid("trading.starting_bankroll", "must not be negative")
	}
	if c.Trading.MaxDailyTrades <= 0 {
		return invalid("trading.max_daily_trades", "must be positive")
	}
	if c.Trading.WorkingSetSize <= 0 {
		return invalid("trading.working_set_size", "must be positive")
	}
	if c.Trading.LoopInterval <= 0 {
		return invalid("trading.loop_interval", "must be positive")
	}
	switch c.Trading.Dedup {
	case "wallet_window", "wallet_window_direction", "none":
	default:
		return invalid("trading.dedup", "unknown policy %q", c.Trading.Dedup)
	}

	// Storage
	if c.Storage.DBPath == "" || c.Storage.SnapshotDir == "" {
		return invalid("storage", "db_path and snapshot_dir are required")
	}

	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[0:len(prefix)] == prefix
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("POLY_API_KEY"); key != "" {
		cfg.API.APIKey = key
	}
	if secret := os.Getenv("POLY_API_SECRET"); secret != "" {
		cfg.API.APISecret = secret
	}
	if pass := os.Getenv("POLY_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if addr := os.Getenv("POLY_ADDRESS"); addr != "" {
		cfg.API.Address = addr
	}
	if url := os.Getenv("POLY_SIGNER_URL"); url != "" {
		cfg.API.SignerURL = url
	}
	if mode := os.Getenv("TRADING_MODE"); mode != "" {
		cfg.Trading.Mode = strings.ToUpper(mode)
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
