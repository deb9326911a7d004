package ledger

import (
	"fmt"

	"poly_trader/internal/domain"
)

// DedupPolicy decides which decisions count as repeats of an earlier trade.
type DedupPolicy interface {
	Name() string
	// Key returns the identity of a trade; ok is false when the trade
	// should never be treated as a duplicate.
	Key(wallet string, marketTs int64, dir domain.Direction) (key string, ok bool)
}

// WalletWindowPolicy allows one trade per source wallet per market window,
// whichever direction it took.
type WalletWindowPolicy struct{}

func (WalletWindowPolicy) Name() string { return "wallet_window" }

func (WalletWindowPolicy) Key(wallet string, marketTs int64, _ domain.Direction) (string, bool) {
	return fmt.Sprintf("%s|%d", wallet, marketTs), true
}

// WalletWindowDirectionPolicy also separates the two directions.
type WalletWindowDirectionPolicy struct{}

func (WalletWindowDirectionPolicy) Name() string { return "wallet_window_direction" }

func (WalletWindowDirectionPolicy) Key(wallet string, marketTs int64, dir domain.Direction) (string, bool) {
	return fmt.Sprintf("%s|%d|%s", wallet, marketTs, dir), true
}

// NoDedup never reports duplicates.
type NoDedup struct{}

func (NoDedup) Name() string { return "none" }

func (NoDedup) Key(string, int64, domain.Direction) (string, bool) { return "", false }

// ParseDedupPolicy maps the trading.dedup setting to a policy.
func ParseDedupPolicy(name string) (DedupPolicy, error) {
	switch name {
	case "", "wallet_window":
		return WalletWindowPolicy{}, nil
	case "wallet_window_direction":
		return WalletWindowDirectionPolicy{}, nil
	case "none":
		return NoDedup{}, nil
	default:
		return nil, fmt.Errorf("unknown dedup policy %q", name)
	}
}

func tradeKey(p DedupPolicy, t *domain.Trade) (string, bool) {
	wallet := ""
	if t.Copy != nil {
		wallet = t.Copy.Wallet
	}
	return p.Key(wallet, t.MarketTimestamp, t.Direction)
}

func decisionKey(p DedupPolicy, d domain.Decision) (string, bool) {
	if d.Market == nil {
		return "", false
	}
	wallet := ""
	if d.Copy != nil {
		wallet = d.Copy.Wallet
	}
	return p.Key(wallet, d.Market.Timestamp, d.Direction)
}
