package infra

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"poly_trader/internal/domain"

	"github.com/shopspring/decimal"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default config should validate, got %v", err)
	}
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
market:
  window: 15m
  slug_prefix: eth-updown-15m
cache:
  book_freshness: 3s
trading:
  bet_amount: "2.5"
  dedup: none
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if cfg.Market.Window != 15*time.Minute {
		t.Errorf("Expected 15m window, got %s", cfg.Market.Window)
	}
	if cfg.Cache.BookFreshness != 3*time.Second {
		t.Errorf("Expected 3s book freshness, got %s", cfg.Cache.BookFreshness)
	}
	if cfg.Cache.PriceFreshness != 2*time.Second {
		t.Errorf("Expected default 2s price freshness, got %s", cfg.Cache.PriceFreshness)
	}
	if !cfg.Trading.BetAmount.Equal(decimal.RequireFromString("2.5")) {
		t.Errorf("Expected bet 2.5, got %s", cfg.Trading.BetAmount)
	}
	if cfg.Resilience.RateLimit != 120 {
		t.Errorf("Expected default rate limit 120, got %d", cfg.Resilience.RateLimit)
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("POLY_API_KEY", "key-from-env")
	t.Setenv("TRADING_MODE", "live")

	cfg, err := LoadConfig(writeConfig(t, "app:\n  name: test\n"))
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.API.APIKey != "key-from-env" {
		t.Errorf("Expected env api key, got %q", cfg.API.APIKey)
	}
	if cfg.Trading.Mode != "LIVE" {
		t.Errorf("Expected LIVE mode, got %q", cfg.Trading.Mode)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "trading:\n  dedup: sometimes\n"))
	if err == nil {
		t.Fatal("Expected validation error")
	}
	var cfgErr *domain.ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Field != "trading.dedup" {
		t.Errorf("Expected ConfigError on trading.dedup, got %v", err)
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if !errors.Is(err, domain.ErrConfigNotFound) {
		t.Errorf("Expected ErrConfigNotFound, got %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
