// Package exchange implements the Polymarket CLOB REST and WebSocket clients.
//
// The REST client (Client) covers the four operations the engine needs:
//   - PlaceLimitOrder:      POST   /order                 — sign + place one order
//   - CancelOrdersForToken: DELETE /cancel-market-orders  — free balance locked by resting orders
//   - GetAvailableBalance:  GET    /balance-allowance     — authoritative share count
//   - FetchBook:            GET    /book                  — seed + staleness fallback
//
// Requests are rate-limited via per-category token buckets and authenticated
// with L2 HMAC headers (book reads are public). API rejections are classified
// into RejectKind at this boundary so the engine never inspects strings.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"interval-sniper/internal/config"
	"interval-sniper/pkg/types"
)

// defaultFeeRateBps is signed into orders when the caller does not override it.
const defaultFeeRateBps = 1000

// conditionalBaseFactor scales balance-allowance base units to shares.
var conditionalBaseFactor = decimal.New(1, 6)

// Clob is the order-service façade the engine consumes.
type Clob interface {
	PlaceLimitOrder(ctx context.Context, params types.LimitOrderParams, orderType types.OrderType) (*types.PlaceOrderResult, error)
	PlaceSellOrder(ctx context.Context, tokenID string, price, size decimal.Decimal, tif types.OrderType) (*types.PlaceOrderResult, error)
	CancelOrdersForToken(ctx context.Context, tokenID string) (*types.CancelOrdersResult, error)
	GetAvailableBalance(ctx context.Context, tokenID string) (*decimal.Decimal, error)
	GetBalanceAllowance(ctx context.Context, tokenID string) (string, error)
	FetchBook(ctx context.Context, tokenID string) (*BookResult, error)
}

// BookResult is a REST book reduced to its top of book plus market limits.
type BookResult struct {
	Side         *types.BookSide
	MinOrderSize *decimal.Decimal
	TickSize     *decimal.Decimal
}

// bookResponse is the raw GET /book payload.
type bookResponse struct {
	Bids         []priceLevel `json:"bids"`
	Asks         []priceLevel `json:"asks"`
	MinOrderSize string       `json:"min_order_size"`
	TickSize     string       `json:"tick_size"`
}

type priceLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// orderBody is the POST /order request body.
type orderBody struct {
	Order     signedOrder `json:"order"`
	Owner     string      `json:"owner"`
	OrderType string      `json:"orderType"`
	DeferExec bool        `json:"deferExec"`
}

// signedOrder is the wire form of the EIP-712 Order struct. Amount fields are
// decimal strings of 6-decimal base units; salt is sent as a number.
type signedOrder struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Side          string `json:"side"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	Signature     string `json:"signature"`
	SignatureType int    `json:"signatureType"`
}

type orderResponse struct {
	Success      bool            `json:"success"`
	OrderID      string          `json:"orderID"`
	ErrorMsg     string          `json:"errorMsg"`
	TakingAmount json.RawMessage `json:"takingAmount"`
}

type cancelResponse struct {
	Canceled    []string          `json:"canceled"`
	NotCanceled map[string]string `json:"not_canceled"`
}

// Client is the live CLOB REST client.
type Client struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	dryRun bool
	logger *slog.Logger
}

// NewClient creates a REST client. With cfg.DryRun set, mutating calls log
// the order and return synthetic success with the requested size as filled.
func NewClient(cfg *config.Config, auth *Auth, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(cfg.ClobBaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// Only reads retry transparently; order placement failures are
			// the engine's to interpret.
			if r != nil && r.Request.Method != http.MethodGet {
				return false
			}
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json")

	return &Client{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		dryRun: cfg.DryRun,
		logger: logger.With("component", "clob"),
	}
}

// PlaceLimitOrder signs and posts a single limit order.
func (c *Client) PlaceLimitOrder(ctx context.Context, params types.LimitOrderParams, orderType types.OrderType) (*types.PlaceOrderResult, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would place order",
			"side", params.Side,
			"type", orderType,
			"price", params.Price,
			"size", params.Size,
			"token", shortToken(params.TokenID),
		)
		filled := params.Size
		return &types.PlaceOrderResult{
			OrderID:    "dry-run-" + uuid.NewString(),
			Success:    true,
			FilledSize: &filled,
		}, nil
	}
	if err := c.rl.Order.Wait(ctx); err != nil {
		return nil, err
	}

	makerAmt, takerAmt := orderAmounts(params.Side, params.Price, params.Size)
	var expiration int64
	if orderType == types.OrderTypeGTD {
		expiration = params.ExpirationUnix
	}
	feeRateBps := params.FeeRateBps
	if feeRateBps == 0 {
		feeRateBps = defaultFeeRateBps
	}
	salt := time.Now().UnixMilli()

	sig, err := c.auth.SignOrder(salt, params.TokenID, makerAmt, takerAmt, expiration, feeRateBps, params.Side)
	if err != nil {
		return nil, fmt.Errorf("sign order: %w", err)
	}

	payload := orderBody{
		Order: signedOrder{
			Salt:          salt,
			Maker:         c.auth.FunderAddress().Hex(),
			Signer:        c.auth.Address().Hex(),
			Taker:         "0x0000000000000000000000000000000000000000",
			TokenID:       params.TokenID,
			MakerAmount:   makerAmt.String(),
			TakerAmount:   takerAmt.String(),
			Side:          string(params.Side),
			Expiration:    strconv.FormatInt(expiration, 10),
			Nonce:         "0",
			FeeRateBps:    strconv.FormatInt(feeRateBps, 10),
			Signature:     sig,
			SignatureType: int(c.auth.SignatureType()),
		},
		Owner:     c.auth.creds.ApiKey,
		OrderType: string(orderType),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal order: %w", err)
	}
	headers, err := c.auth.L2Headers(time.Now().Unix(), http.MethodPost, "/order", string(body))
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result orderResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		SetError(&result).
		Post("/order")
	if err != nil {
		return nil, fmt.Errorf("post order: %w", err)
	}

	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		msg := result.ErrorMsg
		if msg == "" {
			msg = fmt.Sprintf("HTTP %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
		}
		return &types.PlaceOrderResult{
			OrderID:    result.OrderID,
			Success:    false,
			ErrorMsg:   msg,
			HTTPStatus: resp.StatusCode(),
		}, nil
	}

	return &types.PlaceOrderResult{
		OrderID:    result.OrderID,
		Success:    result.Success,
		ErrorMsg:   result.ErrorMsg,
		FilledSize: filledFromTakingAmount(result.TakingAmount, params.Side, params.Price),
		HTTPStatus: resp.StatusCode(),
	}, nil
}

// PlaceSellOrder places a sell with the given time-in-force.
func (c *Client) PlaceSellOrder(ctx context.Context, tokenID string, price, size decimal.Decimal, tif types.OrderType) (*types.PlaceOrderResult, error) {
	return c.PlaceLimitOrder(ctx, types.LimitOrderParams{
		TokenID: tokenID,
		Side:    types.SELL,
		Price:   price,
		Size:    size,
	}, tif)
}

// CancelOrdersForToken cancels every resting order on one outcome token.
// Used before SL/TP sells so a resting GTC order does not keep the balance
// locked and fail the sell with "not enough balance".
func (c *Client) CancelOrdersForToken(ctx context.Context, tokenID string) (*types.CancelOrdersResult, error) {
	if c.dryRun {
		c.logger.Info("DRY-RUN: would cancel orders for token", "token", shortToken(tokenID))
		return &types.CancelOrdersResult{}, nil
	}
	if err := c.rl.Cancel.Wait(ctx); err != nil {
		return nil, err
	}

	body := fmt.Sprintf(`{"asset_id":%q}`, tokenID)
	headers, err := c.auth.L2Headers(time.Now().Unix(), http.MethodDelete, "/cancel-market-orders", body)
	if err != nil {
		return nil, fmt.Errorf("l2 headers: %w", err)
	}

	var result cancelResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetBody(json.RawMessage(body)).
		SetResult(&result).
		Delete("/cancel-market-orders")
	if err != nil {
		return nil, fmt.Errorf("cancel market orders: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("cancel market orders: status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}

	if len(result.Canceled) > 0 {
		c.logger.Info("canceled open orders to free balance", "count", len(result.Canceled))
	}
	if len(result.NotCanceled) > 0 {
		c.logger.Warn("orders could not be canceled, balance may stay locked",
			"count", len(result.NotCanceled))
	}
	return &types.CancelOrdersResult{
		Canceled:    result.Canceled,
		NotCanceled: result.NotCanceled,
	}, nil
}

// GetBalanceAllowance returns the raw balance-allowance body for diagnostics.
// The HMAC covers the path only, without the query string.
func (c *Client) GetBalanceAllowance(ctx context.Context, tokenID string) (string, error) {
	if c.dryRun {
		return "(dry-run)", nil
	}
	if err := c.rl.Balance.Wait(ctx); err != nil {
		return "", err
	}

	headers, err := c.auth.L2Headers(time.Now().Unix(), http.MethodGet, "/balance-allowance", "")
	if err != nil {
		return "", fmt.Errorf("l2 headers: %w", err)
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetHeaders(headers).
		SetQueryParams(map[string]string{
			"asset_type":     "CONDITIONAL",
			"token_id":       tokenID,
			"signature_type": strconv.Itoa(int(c.auth.SignatureType())),
		}).
		Get("/balance-allowance")
	if err != nil {
		return "", fmt.Errorf("balance allowance: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("balance allowance: status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}
	return resp.String(), nil
}

// GetAvailableBalance returns the token's available shares, or nil when the
// response cannot be parsed. Conditional balances arrive in 1e6 base units.
func (c *Client) GetAvailableBalance(ctx context.Context, tokenID string) (*decimal.Decimal, error) {
	text, err := c.GetBalanceAllowance(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	return parseBalance(text), nil
}

// FetchBook fetches one token's book and reduces it to the top of book.
// Best bid is the highest bid and best ask the lowest ask regardless of the
// order the API returns levels in.
func (c *Client) FetchBook(ctx context.Context, tokenID string) (*BookResult, error) {
	if err := c.rl.Book.Wait(ctx); err != nil {
		return nil, err
	}

	var book bookResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("token_id", tokenID).
		SetResult(&book).
		Get("/book")
	if err != nil {
		return nil, fmt.Errorf("get book: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("get book: status %d: %s", resp.StatusCode(), truncate(resp.String(), 200))
	}

	side := &types.BookSide{}
	for _, l := range book.Bids {
		p, s := parsePositive(l.Price), parsePositive(l.Size)
		if p == nil || s == nil {
			continue
		}
		if side.BestBid == nil || p.GreaterThan(*side.BestBid) {
			side.BestBid, side.BestBidSize = p, s
		}
	}
	for _, l := range book.Asks {
		p, s := parsePositive(l.Price), parsePositive(l.Size)
		if p == nil || s == nil {
			continue
		}
		if side.BestAsk == nil || p.LessThan(*side.BestAsk) {
			side.BestAsk, side.BestAskSize = p, s
		}
	}

	return &BookResult{
		Side:         side,
		MinOrderSize: parsePositive(book.MinOrderSize),
		TickSize:     parsePositive(book.TickSize),
	}, nil
}

// filledFromTakingAmount converts the API's takingAmount (6-decimal base
// units, string or number) to shares. For BUY the taker leg is shares; for
// SELL it is USDC, so divide by the limit price.
func filledFromTakingAmount(raw json.RawMessage, side types.Side, price decimal.Decimal) *decimal.Decimal {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	s := strings.Trim(string(raw), `"`)
	taker, err := decimal.NewFromString(s)
	if err != nil {
		return nil
	}
	human := taker.Div(conditionalBaseFactor)
	if side == types.SELL && price.IsPositive() {
		human = human.Div(price)
	}
	return &human
}

// parseBalance extracts {"balance": "<base units>"} and scales to shares.
func parseBalance(text string) *decimal.Decimal {
	var body struct {
		Balance json.RawMessage `json:"balance"`
	}
	if err := json.Unmarshal([]byte(text), &body); err != nil || len(body.Balance) == 0 {
		return nil
	}
	raw, err := decimal.NewFromString(strings.Trim(string(body.Balance), `"`))
	if err != nil || raw.IsNegative() {
		return nil
	}
	shares := raw.Div(conditionalBaseFactor)
	return &shares
}

func parsePositive(s string) *decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil || !d.IsPositive() {
		return nil
	}
	return &d
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func shortToken(tokenID string) string {
	if len(tokenID) > 12 {
		return tokenID[:12] + "..."
	}
	return tokenID
}
