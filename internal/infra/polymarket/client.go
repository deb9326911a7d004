package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"poly_trader/internal/domain"
	"poly_trader/internal/infra"
	"poly_trader/internal/marketdata"

	"github.com/shopspring/decimal"
)

const (
	// DefaultFeeBps is the taker base fee assumed when the API omits it.
	DefaultFeeBps = 1000

	resolvedThreshold = "0.99"
)

// Client is the Gamma + CLOB REST client. Every call goes through the
// Guard of its call-class.
type Client struct {
	gammaURL   string
	clobURL    string
	slugPrefix string
	httpClient *http.Client
	signer     *Signer
	guards     *infra.Guards
	now        func() time.Time
	logger     *slog.Logger
}

// NewClient creates a new Polymarket API client.
func NewClient(cfg *infra.Config, guards *infra.Guards) *Client {
	timeout := cfg.API.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		gammaURL:   strings.TrimRight(cfg.API.GammaURL, "/"),
		clobURL:    strings.TrimRight(cfg.API.ClobURL, "/"),
		slugPrefix: cfg.Market.SlugPrefix,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		signer: NewSigner(cfg.API.Address, cfg.API.APIKey, cfg.API.APISecret, cfg.API.Passphrase),
		guards: guards,
		now:    time.Now,
		logger: slog.Default().With("module", "polymarket_client"),
	}
}

// Gamma API shapes. clobTokenIds and outcomePrices arrive as JSON-encoded strings.
type gammaEvent struct {
	Title   string          `json:"title"`
	Closed  bool            `json:"closed"`
	Volume  decimal.Decimal `json:"volume"`
	Markets []gammaMarket   `json:"markets"`
}

type gammaMarket struct {
	ClobTokenIDs        string           `json:"clobTokenIds"`
	OutcomePrices       string           `json:"outcomePrices"`
	Closed              bool             `json:"closed"`
	UmaResolutionStatus string           `json:"umaResolutionStatus"`
	AcceptingOrders     bool             `json:"acceptingOrders"`
	TakerBaseFee        *decimal.Decimal `json:"takerBaseFee"`
}

// GetMarket fetches the market of one window. A window the API does not
// know yet returns nil, nil.
func (c *Client) GetMarket(ctx context.Context, windowTs int64) (*domain.Market, error) {
	slug := domain.WindowSlug(c.slugPrefix, windowTs)
	query := url.Values{"slug": {slug}}

	body, err := infra.Call(ctx, c.guards.Gamma, func(ctx context.Context) ([]byte, error) {
		return c.doRequest(ctx, http.MethodGet, c.gammaURL, "/events", query, nil, false)
	})
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", slug, err)
	}

	var events []gammaEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("get market %s: decode: %w", slug, err)
	}
	if len(events) == 0 || len(events[0].Markets) == 0 {
		return nil, nil
	}

	m, err := parseMarket(windowTs, slug, events[0])
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", slug, err)
	}
	m.FetchedAt = c.now()
	return m, nil
}

func parseMarket(windowTs int64, slug string, ev gammaEvent) (*domain.Market, error) {
	gm := ev.Markets[0]

	var tokens []string
	if gm.ClobTokenIDs != "" {
		if err := json.Unmarshal([]byte(gm.ClobTokenIDs), &tokens); err != nil {
			return nil, fmt.Errorf("clobTokenIds: %w", err)
		}
	}

	half := decimal.RequireFromString("0.5")
	prices := []decimal.Decimal{half, half}
	if gm.OutcomePrices != "" {
		var parsed []decimal.Decimal
		if err := json.Unmarshal([]byte(gm.OutcomePrices), &parsed); err != nil {
			return nil, fmt.Errorf("outcomePrices: %w", err)
		}
		copy(prices, parsed)
	}

	m := &domain.Market{
		Timestamp:       windowTs,
		Slug:            slug,
		Title:           ev.Title,
		UpPrice:         prices[0],
		DownPrice:       prices[1],
		Volume:          ev.Volume,
		AcceptingOrders: gm.AcceptingOrders,
		Closed:          ev.Closed || gm.Closed,
		Resolved:        gm.UmaResolutionStatus == "resolved",
		TakerFeeBps:     DefaultFeeBps,
	}
	if len(tokens) > 0 {
		m.UpTokenID = tokens[0]
	}
	if len(tokens) > 1 {
		m.DownTokenID = tokens[1]
	}
	if gm.TakerBaseFee != nil {
		m.TakerFeeBps = int(gm.TakerBaseFee.IntPart())
	}

	// Final once closed and either UMA-resolved or priced at the extremes.
	threshold := decimal.RequireFromString(resolvedThreshold)
	upWins := m.UpPrice.GreaterThan(threshold)
	downWins := m.DownPrice.GreaterThan(threshold)
	if gm.Closed && (m.Resolved || upWins || downWins) {
		switch {
		case upWins:
			m.Outcome = domain.DirectionUp
		case downWins:
			m.Outcome = domain.DirectionDown
		}
	}
	return m, nil
}

type bookResponse struct {
	AssetID string                  `json:"asset_id"`
	Bids    []domain.OrderBookLevel `json:"bids"`
	Asks    []domain.OrderBookLevel `json:"asks"`
}

// GetOrderBook fetches a full book snapshot.
func (c *Client) GetOrderBook(ctx context.Context, tokenID string) (*marketdata.OrderBook, error) {
	query := url.Values{"token_id": {tokenID}}
	body, err := infra.Call(ctx, c.guards.CLOB, func(ctx context.Context) ([]byte, error) {
		return c.doRequest(ctx, http.MethodGet, c.clobURL, "/book", query, nil, false)
	})
	if err != nil {
		return nil, err
	}

	var resp bookResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode book: %w", err)
	}

	book := marketdata.NewOrderBook(tokenID, marketdata.SourceREST)
	book.ApplySnapshot(resp.Bids, resp.Asks, c.now())
	return book, nil
}

// GetFeeRate returns the token's taker base fee in bps.
// On failure it returns DefaultFeeBps together with the error.
func (c *Client) GetFeeRate(ctx context.Context, tokenID string) (int, error) {
	query := url.Values{"token_id": {tokenID}}
	body, err := infra.Call(ctx, c.guards.CLOB, func(ctx context.Context) ([]byte, error) {
		return c.doRequest(ctx, http.MethodGet, c.clobURL, "/fee-rate", query, nil, false)
	})
	if err != nil {
		return DefaultFeeBps, err
	}

	var resp struct {
		BaseFee *decimal.Decimal `json:"base_fee"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return DefaultFeeBps, fmt.Errorf("decode fee rate: %w", err)
	}
	if resp.BaseFee == nil {
		return DefaultFeeBps, nil
	}
	return int(resp.BaseFee.IntPart()), nil
}

type postOrderRequest struct {
	Order     json.RawMessage  `json:"order"`
	Owner     string           `json:"owner"`
	OrderType domain.OrderType `json:"orderType"`
}

type postOrderResponse struct {
	Success  bool   `json:"success"`
	ErrorMsg string `json:"errorMsg"`
	OrderID  string `json:"orderID"`
	ID       string `json:"id"`
	Status   string `json:"status"`
}

// PostOrder submits a signed order. Submission is never retried.
func (c *Client) PostOrder(ctx context.Context, signed json.RawMessage, orderType domain.OrderType) (string, error) {
	if !c.signer.Enabled() {
		return "", &domain.ConfigError{Field: "api.api_key", Err: errors.New("L2 credentials required to post orders")}
	}

	req := postOrderRequest{Order: signed, Owner: c.signer.apiKey, OrderType: orderType}
	body, err := infra.Call(ctx, c.guards.Orders, func(ctx context.Context) ([]byte, error) {
		return c.doRequest(ctx, http.MethodPost, c.clobURL, "/order", nil, req, true)
	})
	if err != nil {
		return "", fmt.Errorf("post order: %w", err)
	}

	var resp postOrderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("post order: decode: %w", err)
	}
	if !resp.Success || resp.ErrorMsg != "" {
		return "", rejectError(resp.ErrorMsg)
	}

	id := resp.OrderID
	if id == "" {
		id = resp.ID
	}
	if id == "" {
		return "", fmt.Errorf("post order: %w: no order id in response", domain.ErrInvalidOrder)
	}

	c.logger.Info("Order submitted", "order_id", id, "status", resp.Status, "type", orderType)
	return id, nil
}

func rejectError(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "balance"), strings.Contains(lower, "allowance"):
		return fmt.Errorf("%w: %s", domain.ErrInsufficientBalance, msg)
	case strings.Contains(lower, "fok"), strings.Contains(lower, "fully filled"), strings.Contains(lower, "killed"):
		return fmt.Errorf("%w: %s", domain.ErrOrderKilled, msg)
	default:
		return fmt.Errorf("%w: %s", domain.ErrInvalidOrder, msg)
	}
}

type orderResponse struct {
	ID           string          `json:"id"`
	Status       string          `json:"status"`
	SizeMatched  decimal.Decimal `json:"size_matched"`
	OriginalSize decimal.Decimal `json:"original_size"`
	Price        decimal.Decimal `json:"price"`
}

// GetOrder polls one order.
func (c *Client) GetOrder(ctx context.Context, orderID string) (domain.OrderState, error) {
	path := "/data/order/" + url.PathEscape(orderID)
	body, err := infra.Call(ctx, c.guards.CLOB, func(ctx context.Context) ([]byte, error) {
		return c.doRequest(ctx, http.MethodGet, c.clobURL, path, nil, nil, true)
	})
	if err != nil {
		return domain.OrderState{}, err
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.OrderState{}, fmt.Errorf("decode order: %w", err)
	}

	id := resp.ID
	if id == "" {
		id = orderID
	}
	return domain.OrderState{
		ID:          id,
		Status:      domain.NormalizeOrderStatus(resp.Status),
		RawStatus:   resp.Status,
		SizeMatched: resp.SizeMatched,
		Price:       resp.Price,
	}, nil
}

// doRequest executes one HTTP call and maps failures to classified errors.
func (c *Client) doRequest(ctx context.Context, method, baseURL, path string, query url.Values, body interface{}, auth bool) ([]byte, error) {
	op := method + " " + path

	var bodyReader io.Reader
	var bodyStr string
	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(jsonBytes)
		bodyStr = string(jsonBytes)
	}

	reqURL := baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", infra.DefaultUserAgent)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if auth && c.signer.Enabled() {
		headers, err := c.signer.GenerateHeaders(method, path, bodyStr)
		if err != nil {
			return nil, &domain.ConfigError{Field: "api.api_secret", Err: err}
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewNetworkError(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewNetworkError(op, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &domain.APIError{Op: op, StatusCode: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}
