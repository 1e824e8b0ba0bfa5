// Package exchange implements the OKX v5 REST and WebSocket clients.
//
// The REST client (Client) covers the order surface the platform needs:
//   - SubmitOrder:  POST /api/v5/trade/order
//   - CancelOrder:  POST /api/v5/trade/cancel-order
//   - QueryOrder:   GET  /api/v5/trade/order
//   - GetCandles:   GET  /api/v5/market/history-candles
//
// Every request is rate-limited via per-category token buckets and retried
// on transport errors and 5xx. Order requests carry HMAC-SHA256 headers;
// GetCandles calls the public endpoint unsigned. SubmitOrder and
// CancelOrder surface business errors (code != "0") as
// types.ErrExchangeRejected, which are never retried, and transport errors
// as types.ErrExchangeTransient (SubmitOrder also treats 5xx and 429 as
// transient). QueryOrder and GetCandles surface every failure as
// types.ErrExchangeTransient.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/heheshang/ea-okx/internal/order"
	"github.com/heheshang/ea-okx/pkg/types"
)

// Config holds OKX endpoints and credentials.
type Config struct {
	RestBaseURL  string `mapstructure:"rest_base_url"`
	WSPublicURL  string `mapstructure:"ws_public_url"`
	WSPrivateURL string `mapstructure:"ws_private_url"`
	APIKey       string `mapstructure:"api_key"`
	SecretKey    string `mapstructure:"secret_key"`
	Passphrase   string `mapstructure:"passphrase"`

	// Simulated routes requests to the OKX demo-trading environment.
	Simulated bool `mapstructure:"simulated"`
}

// Client is the OKX REST client.
type Client struct {
	http   *resty.Client
	creds  Credentials
	rl     *RateLimiter
	logger *slog.Logger

	// instruments remembers exchangeID -> instId so cancel and query can
	// supply the instrument OKX requires alongside the order ID.
	mu          sync.Mutex
	instruments map[string]string
}

// NewClient creates a REST client with rate limiting and retry.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.RestBaseURL).
		SetTimeout(10*time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(5*time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")
	if cfg.Simulated {
		httpClient.SetHeader("x-simulated-trading", "1")
	}

	return &Client{
		http: httpClient,
		creds: Credentials{
			APIKey:     cfg.APIKey,
			SecretKey:  cfg.SecretKey,
			Passphrase: cfg.Passphrase,
		},
		rl:          NewRateLimiter(),
		logger:      logger.With("component", "okx_rest"),
		instruments: make(map[string]string),
	}
}

// SubmitOrder places one order and returns the exchange order ID.
func (c *Client) SubmitOrder(ctx context.Context, o *types.Order) (string, error) {
	if err := c.rl.Trade.Wait(ctx); err != nil {
		return "", err
	}

	req := placeOrderRequest{
		InstID:  o.Symbol.String(),
		TdMode:  "cash",
		ClOrdID: o.ClientID,
		Side:    string(o.Side),
		OrdType: okxOrderType(o.Type),
		Sz:      o.Quantity.String(),
	}
	if !o.Price.IsZero() {
		req.Px = o.Price.String()
	}

	const path = "/api/v5/trade/order"
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal order: %w", err)
	}

	var result restResponse[placeOrderResult]
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.creds.RestHeaders(http.MethodPost, path, string(body))).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Post(path)
	if err != nil {
		return "", fmt.Errorf("%w: submit order: %v", types.ErrExchangeTransient, err)
	}
	if resp.StatusCode() >= 500 || resp.StatusCode() == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w: submit order: status %d", types.ErrExchangeTransient, resp.StatusCode())
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("%w: submit order: status %d: %s",
			types.ErrExchangeRejected, resp.StatusCode(), resp.String())
	}
	if result.Code != "0" || len(result.Data) == 0 {
		msg := result.Msg
		if len(result.Data) > 0 && result.Data[0].SMsg != "" {
			msg = result.Data[0].SMsg
		}
		return "", fmt.Errorf("%w: %s", types.ErrExchangeRejected, msg)
	}

	exchangeID := result.Data[0].OrdID
	c.mu.Lock()
	c.instruments[exchangeID] = o.Symbol.String()
	c.mu.Unlock()

	c.logger.Info("order submitted",
		"client_id", o.ClientID,
		"exchange_id", exchangeID,
		"symbol", o.Symbol.String(),
	)
	return exchangeID, nil
}

// CancelOrder cancels one order by exchange ID.
func (c *Client) CancelOrder(ctx context.Context, exchangeID string) error {
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	instID, ok := c.instruments[exchangeID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: unknown exchange id %s", types.ErrOrderNotFound, exchangeID)
	}

	const path = "/api/v5/trade/cancel-order"
	body, err := json.Marshal(cancelOrderRequest{InstID: instID, OrdID: exchangeID})
	if err != nil {
		return fmt.Errorf("marshal cancel: %w", err)
	}

	var result restResponse[placeOrderResult]
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.creds.RestHeaders(http.MethodPost, path, string(body))).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Post(path)
	if err != nil {
		return fmt.Errorf("%w: cancel order: %v", types.ErrExchangeTransient, err)
	}
	if resp.StatusCode() != http.StatusOK || result.Code != "0" {
		return fmt.Errorf("%w: cancel order: status %d: %s",
			types.ErrExchangeRejected, resp.StatusCode(), result.Msg)
	}

	c.logger.Info("order cancelled", "exchange_id", exchangeID)
	return nil
}

// QueryOrder fetches the exchange's authoritative view of one order.
func (c *Client) QueryOrder(ctx context.Context, exchangeID string) (*order.ExchangeStatus, error) {
	if err := c.rl.Account.Wait(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	instID, ok := c.instruments[exchangeID]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: unknown exchange id %s", types.ErrOrderNotFound, exchangeID)
	}

	path := fmt.Sprintf("/api/v5/trade/order?instId=%s&ordId=%s", instID, exchangeID)

	var result restResponse[orderDetails]
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(c.creds.RestHeaders(http.MethodGet, path, "")).
		SetResult(&result).
		Get(path)
	if err != nil {
		return nil, fmt.Errorf("%w: query order: %v", types.ErrExchangeTransient, err)
	}
	if resp.StatusCode() != http.StatusOK || result.Code != "0" || len(result.Data) == 0 {
		return nil, fmt.Errorf("%w: query order: status %d: %s",
			types.ErrExchangeTransient, resp.StatusCode(), result.Msg)
	}

	details := result.Data[0]
	state, err := parseOrderState(details.State)
	if err != nil {
		return nil, fmt.Errorf("query order %s: %w", exchangeID, err)
	}

	return &order.ExchangeStatus{
		State:     state,
		FilledQty: parseDecimal(details.AccFillSz),
		AvgPrice:  parseDecimal(details.AvgPx),
	}, nil
}

// GetCandles fetches historical candles, returned timestamp-ascending.
func (c *Client) GetCandles(ctx context.Context, symbol types.Symbol, interval string, start, end time.Time) ([]types.Candle, error) {
	if err := c.rl.Market.Wait(ctx); err != nil {
		return nil, err
	}

	var result restResponse[candleRow]
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"instId": symbol.String(),
			"bar":    interval,
			"before": fmt.Sprintf("%d", start.UnixMilli()),
			"after":  fmt.Sprintf("%d", end.UnixMilli()),
		}).
		SetResult(&result).
		Get("/api/v5/market/history-candles")
	if err != nil {
		return nil, fmt.Errorf("%w: get candles: %v", types.ErrExchangeTransient, err)
	}
	if resp.StatusCode() != http.StatusOK || result.Code != "0" {
		return nil, fmt.Errorf("%w: get candles: status %d: %s",
			types.ErrExchangeTransient, resp.StatusCode(), result.Msg)
	}

	// OKX returns newest first; reverse to ascending.
	candles := make([]types.Candle, 0, len(result.Data))
	for i := len(result.Data) - 1; i >= 0; i-- {
		candle, err := parseCandle(symbol, result.Data[i])
		if err != nil {
			return nil, err
		}
		candles = append(candles, candle)
	}
	return candles, nil
}
