package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"poly_trader/internal/domain"
)

// OrderSigner turns an order request into a signed, submittable CLOB order.
type OrderSigner interface {
	Sign(ctx context.Context, req domain.OrderRequest) (json.RawMessage, error)
}

// RemoteOrderSigner asks an external signing service for signed orders.
// The wallet key never enters this process.
type RemoteOrderSigner struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRemoteOrderSigner creates a signer client for baseURL.
func NewRemoteOrderSigner(baseURL string, timeout time.Duration) *RemoteOrderSigner {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RemoteOrderSigner{
		url:        strings.TrimRight(baseURL, "/") + "/sign",
		httpClient: &http.Client{Timeout: timeout},
		logger:     slog.Default().With("module", "order_signer"),
	}
}

// Sign posts the request and returns the signed order payload.
func (s *RemoteOrderSigner) Sign(ctx context.Context, req domain.OrderRequest) (json.RawMessage, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.NewNetworkError("sign order", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewNetworkError("sign order", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &domain.APIError{Op: "sign order", StatusCode: resp.StatusCode, Body: string(body)}
	}

	var out struct {
		Order json.RawMessage `json:"order"`
		Error string          `json:"error"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("sign order: decode: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("sign order: %w: %s", domain.ErrInvalidOrder, out.Error)
	}
	if len(out.Order) == 0 {
		return nil, fmt.Errorf("sign order: %w: empty signed order", domain.ErrInvalidOrder)
	}
	s.logger.Debug("Order signed", "token", req.TokenID, "amount", req.Amount.String())
	return out.Order, nil
}

// Submitter places and tracks real orders: external signing, then CLOB submission.
type Submitter struct {
	signer OrderSigner
	client *Client
}

// NewSubmitter combines a signer and a CLOB client.
func NewSubmitter(signer OrderSigner, client *Client) *Submitter {
	return &Submitter{signer: signer, client: client}
}

// FeeRate returns the taker base fee to embed in the signed order.
func (s *Submitter) FeeRate(ctx context.Context, tokenID string) (int, error) {
	return s.client.GetFeeRate(ctx, tokenID)
}

// Submit signs and posts req, returning the exchange order id.
func (s *Submitter) Submit(ctx context.Context, req domain.OrderRequest) (string, error) {
	signed, err := s.signer.Sign(ctx, req)
	if err != nil {
		return "", err
	}
	return s.client.PostOrder(ctx, signed, req.Type)
}

// Status polls one order.
func (s *Submitter) Status(ctx context.Context, orderID string) (domain.OrderState, error) {
	return s.client.GetOrder(ctx, orderID)
}
