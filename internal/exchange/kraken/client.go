package kraken

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/your-org/kraken-scalp-bot/internal/exchange"
	"github.com/your-org/kraken-scalp-bot/pkg/logger"
)

var (
	// defaultBaseURL can be overridden for testing.
	defaultBaseURL = "https://api.kraken.com"
)

// SetBaseURL sets the base URL for the client.
// This is intended for use in tests to redirect requests to a mock server.
func SetBaseURL(u string) {
	defaultBaseURL = u
}

// Client provides methods to interact with the Kraken API. It implements
// exchange.Client.
type Client struct {
	apiKey        string
	secretKey     []byte
	httpClient    *http.Client
	supportsAmend bool
}

// NewClient creates a new Kraken API client. The secret is the base64-encoded
// private key issued by Kraken. supportsAmend is decided here, once: accounts
// without the order-amend entitlement must pass false so callers take the
// cancel-and-replace path without probing.
func NewClient(apiKey, apiSecret string, supportsAmend bool) (*Client, error) {
	secret, err := base64.StdEncoding.DecodeString(apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to decode API secret: %w", err)
	}
	return &Client{
		apiKey:        apiKey,
		secretKey:     secret,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		supportsAmend: supportsAmend,
	}, nil
}

// SupportsAmend reports whether the AmendOrder endpoint is usable.
func (c *Client) SupportsAmend() bool {
	return c.supportsAmend
}

// sign computes the API-Sign header: HMAC-SHA512 over
// path + SHA256(nonce + postdata), keyed with the decoded secret.
func (c *Client) sign(path, nonce, postData string) string {
	sha := sha256.New()
	sha.Write([]byte(nonce + postData))
	mac := hmac.New(sha512.New, c.secretKey)
	mac.Write([]byte(path))
	mac.Write(sha.Sum(nil))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func (c *Client) private(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	if params == nil {
		params = url.Values{}
	}
	nonce := strconv.FormatInt(time.Now().UnixNano(), 10)
	params.Set("nonce", nonce)
	postData := params.Encode()

	path := "/0/private/" + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, defaultBaseURL+path, strings.NewReader(postData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("API-Key", c.apiKey)
	req.Header.Set("API-Sign", c.sign(path, nonce, postData))

	return c.do(req, out)
}

func (c *Client) public(ctx context.Context, endpoint string, params url.Values) (*apiResponse, error) {
	u := defaultBaseURL + "/0/public/" + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var resp apiResponse
	if err := c.doRaw(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) do(req *http.Request, out interface{}) error {
	var resp apiResponse
	if err := c.doRaw(req, &resp); err != nil {
		return err
	}
	if out != nil {
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("failed to decode %s result: %w", req.URL.Path, err)
		}
	}
	return nil
}

func (c *Client) doRaw(req *http.Request, resp *apiResponse) error {
	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return fmt.Errorf("%s: %w", req.URL.Path, exchange.ErrTimeout)
		}
		return fmt.Errorf("request to %s failed: %w", req.URL.Path, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response from %s (status %d): %w", req.URL.Path, httpResp.StatusCode, err)
	}
	if err := json.Unmarshal(body, resp); err != nil {
		return fmt.Errorf("failed to parse response from %s (status %d): %w", req.URL.Path, httpResp.StatusCode, err)
	}
	if len(resp.Error) > 0 {
		return fmt.Errorf("kraken API error on %s: %s", req.URL.Path, strings.Join(resp.Error, ", "))
	}
	return nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// PlaceMarketOrder submits a market order via AddOrder.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side exchange.Side, qty decimal.Decimal) (*exchange.OrderResult, error) {
	return c.addOrder(ctx, symbol, side, "market", qty, decimal.Decimal{})
}

// PlaceLimitOrder submits a limit order via AddOrder.
func (c *Client) PlaceLimitOrder(ctx context.Context, symbol string, side exchange.Side, qty, price decimal.Decimal) (*exchange.OrderResult, error) {
	return c.addOrder(ctx, symbol, side, "limit", qty, price)
}

func (c *Client) addOrder(ctx context.Context, symbol string, side exchange.Side, orderType string, qty, price decimal.Decimal) (*exchange.OrderResult, error) {
	params := url.Values{}
	params.Set("pair", symbol)
	params.Set("type", string(side))
	params.Set("ordertype", orderType)
	params.Set("volume", qty.String())
	if orderType == "limit" {
		params.Set("price", price.String())
	}

	logger.Infof("[kraken] AddOrder: pair=%s type=%s ordertype=%s volume=%s price=%s",
		symbol, side, orderType, qty, price)

	var result addOrderResult
	if err := c.private(ctx, "AddOrder", params, &result); err != nil {
		return nil, err
	}
	if len(result.TxID) == 0 {
		return nil, fmt.Errorf("AddOrder returned no transaction ID (descr: %q)", result.Descr.Order)
	}

	res := &exchange.OrderResult{OrderID: result.TxID[0], PlacedAt: time.Now().UTC()}
	if orderType == "market" {
		// Market orders execute immediately; fetch the average fill price.
		status, err := c.GetOrderStatus(ctx, res.OrderID)
		if err != nil {
			logger.Warnf("[kraken] Could not fetch fill price for market order %s: %v", res.OrderID, err)
			return res, nil
		}
		res.FillPrice = status.FilledPrice
	}
	return res, nil
}

// AmendOrder modifies a resting order's limit price in place, preserving its
// queue priority when the price change does not cross.
func (c *Client) AmendOrder(ctx context.Context, orderID string, price decimal.Decimal) (*exchange.Ack, error) {
	if !c.supportsAmend {
		return nil, exchange.ErrAmendUnsupported
	}
	params := url.Values{}
	params.Set("txid", orderID)
	params.Set("limit_price", price.String())

	var result amendOrderResult
	if err := c.private(ctx, "AmendOrder", params, &result); err != nil {
		return nil, err
	}
	logger.Infof("[kraken] Amended order %s to price %s (amend_id=%s)", orderID, price, result.AmendID)
	return &exchange.Ack{OrderID: orderID}, nil
}

// CancelOrder cancels a resting order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) (*exchange.Ack, error) {
	params := url.Values{}
	params.Set("txid", orderID)

	var result cancelOrderResult
	if err := c.private(ctx, "CancelOrder", params, &result); err != nil {
		return nil, err
	}
	if result.Count == 0 {
		return nil, fmt.Errorf("CancelOrder for %s cancelled nothing", orderID)
	}
	return &exchange.Ack{OrderID: orderID}, nil
}

// GetTicker fetches the public ticker snapshot for a symbol.
func (c *Client) GetTicker(ctx context.Context, symbol string) (*exchange.Ticker, error) {
	params := url.Values{}
	params.Set("pair", symbol)
	resp, err := c.public(ctx, "Ticker", params)
	if err != nil {
		return nil, err
	}

	var entries map[string]tickerEntry
	if err := json.Unmarshal(resp.Result, &entries); err != nil {
		return nil, fmt.Errorf("failed to decode ticker result: %w", err)
	}
	// Kraken keys the result by its normalized pair name, which may differ
	// from the requested one; a single-pair request has a single entry.
	for _, e := range entries {
		return tickerFromEntry(e)
	}
	return nil, fmt.Errorf("ticker response contained no pair data for %s", symbol)
}

func tickerFromEntry(e tickerEntry) (*exchange.Ticker, error) {
	first := func(arr []string) (decimal.Decimal, error) {
		if len(arr) == 0 {
			return decimal.Decimal{}, fmt.Errorf("empty ticker field")
		}
		return decimal.NewFromString(arr[0])
	}
	var t exchange.Ticker
	var err error
	if t.Ask, err = first(e.Ask); err != nil {
		return nil, fmt.Errorf("bad ask: %w", err)
	}
	if t.Bid, err = first(e.Bid); err != nil {
		return nil, fmt.Errorf("bad bid: %w", err)
	}
	if t.Last, err = first(e.Closed); err != nil {
		return nil, fmt.Errorf("bad last: %w", err)
	}
	if t.Volume, err = first(e.Volume); err != nil {
		return nil, fmt.Errorf("bad volume: %w", err)
	}
	if t.High, err = first(e.High); err != nil {
		return nil, fmt.Errorf("bad high: %w", err)
	}
	if t.Low, err = first(e.Low); err != nil {
		return nil, fmt.Errorf("bad low: %w", err)
	}
	return &t, nil
}

// GetOrderStatus queries one order via QueryOrders.
func (c *Client) GetOrderStatus(ctx context.Context, orderID string) (*exchange.OrderStatus, error) {
	params := url.Values{}
	params.Set("txid", orderID)

	var result map[string]queryOrderEntry
	if err := c.private(ctx, "QueryOrders", params, &result); err != nil {
		return nil, err
	}
	entry, ok := result[orderID]
	if !ok {
		return nil, fmt.Errorf("QueryOrders returned no entry for %s", orderID)
	}

	status := &exchange.OrderStatus{OrderID: orderID}
	switch entry.Status {
	case "closed":
		status.State = exchange.OrderFilled
		price, err := decimal.NewFromString(entry.Price)
		if err != nil {
			return nil, fmt.Errorf("bad fill price %q for %s: %w", entry.Price, orderID, err)
		}
		status.FilledPrice = price
	case "canceled", "expired":
		status.State = exchange.OrderCancelled
	default: // pending, open
		status.State = exchange.OrderOpen
	}
	return status, nil
}

// GetBalance returns the balance of a single asset.
func (c *Client) GetBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	var result map[string]string
	if err := c.private(ctx, "Balance", nil, &result); err != nil {
		return decimal.Decimal{}, err
	}
	raw, ok := result[asset]
	if !ok {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}

// OpenOrders lists all resting orders for the account.
func (c *Client) OpenOrders(ctx context.Context) ([]exchange.OpenOrder, error) {
	var result openOrdersResult
	if err := c.private(ctx, "OpenOrders", nil, &result); err != nil {
		return nil, err
	}

	orders := make([]exchange.OpenOrder, 0, len(result.Open))
	for txid, entry := range result.Open {
		price, err := decimal.NewFromString(entry.Descr.Price)
		if err != nil {
			return nil, fmt.Errorf("bad price %q on open order %s: %w", entry.Descr.Price, txid, err)
		}
		vol, err := decimal.NewFromString(entry.Vol)
		if err != nil {
			return nil, fmt.Errorf("bad volume %q on open order %s: %w", entry.Vol, txid, err)
		}
		orders = append(orders, exchange.OpenOrder{
			OrderID: txid,
			Symbol:  entry.Descr.Pair,
			Side:    exchange.Side(entry.Descr.Type),
			Price:   price,
			Qty:     vol,
		})
	}
	return orders, nil
}
