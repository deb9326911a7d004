package execution

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"poly_trader/internal/domain"
	"poly_trader/internal/infra"
	"poly_trader/internal/infra/polymarket"
)

// Mode represents the trading execution mode
type Mode string

const (
	ModePaper Mode = "PAPER"
	ModeLive  Mode = "LIVE"
)

// ConfirmEnv must be "true" before real orders are allowed.
const ConfirmEnv = "CONFIRM_REAL_MONEY"

// Factory creates the execution engine for the configured mode
type Factory struct {
	config  *infra.Config
	quoter  Quoter
	client  *polymarket.Client
	metrics *infra.Metrics
	getenv  func(string) string
}

// NewFactory creates a new factory. client is only used in LIVE mode.
func NewFactory(cfg *infra.Config, quoter Quoter, client *polymarket.Client, m *infra.Metrics) *Factory {
	return &Factory{config: cfg, quoter: quoter, client: client, metrics: m, getenv: os.Getenv}
}

// EngineConfig maps the trading section of the config onto the engine.
func EngineConfig(cfg *infra.Config) Config {
	ec := Config{
		MinOrderSize: cfg.Trading.MinOrderSize,
		FeeBps:       cfg.Trading.FeeBps,
		PollInterval: cfg.Trading.OrderPollInterval,
		OrderTimeout: cfg.Trading.OrderTimeout,
	}
	if cfg.DelayModel.Enabled {
		m := DefaultDelayImpactModel()
		if cfg.DelayModel.BaseCoefficient > 0 {
			m.BaseCoefficient = cfg.DelayModel.BaseCoefficient
		}
		if cfg.DelayModel.MaxImpactPct > 0 {
			m.MaxImpactPct = cfg.DelayModel.MaxImpactPct
		}
		ec.DelayModel = m
	}
	return ec
}

// Create returns the engine for the configured mode.
func (f *Factory) Create() (*Engine, error) {
	mode := Mode(strings.ToUpper(f.config.Trading.Mode))

	slog.Info("Initializing Execution System", "mode", mode)

	switch mode {
	case ModePaper:
		return NewEngine(f.quoter, nil, EngineConfig(f.config), f.metrics), nil

	case ModeLive:
		// Real trading: SAFETY LATCH CHECK
		if f.getenv(ConfirmEnv) != "true" {
			err := &domain.ConfigError{
				Field: "trading.mode",
				Err:   fmt.Errorf("SAFETY_GUARD: real trading requires '%s=true'", ConfirmEnv),
			}
			slog.Error(err.Error())
			return nil, err
		}
		if f.config.API.SignerURL == "" {
			return nil, &domain.ConfigError{Field: "api.signer_url", Err: errors.New("required in LIVE mode")}
		}
		if f.config.API.APIKey == "" || f.config.API.APISecret == "" {
			return nil, &domain.ConfigError{Field: "api.api_key", Err: errors.New("CLOB credentials required in LIVE mode")}
		}
		if f.client == nil {
			return nil, &domain.ConfigError{Field: "api.clob_url", Err: errors.New("no CLOB client")}
		}

		slog.Warn("🚨🚨🚨 Connecting to Polymarket CLOB with REAL money 🚨🚨🚨")
		signer := polymarket.NewRemoteOrderSigner(f.config.API.SignerURL, f.config.API.HTTPTimeout)
		submitter := polymarket.NewSubmitter(signer, f.client)
		return NewEngine(f.quoter, submitter, EngineConfig(f.config), f.metrics), nil

	default:
		return nil, fmt.Errorf("unknown execution mode: %s", mode)
	}
}
