// Package exchange adapts the Coinbase Advanced Trade REST API to
// core.IExchange, plus a DRY_RUN/PAPER simulator satisfying the same
// contract so the rest of the cycle never branches on execution mode.
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cbtrader/internal/config"
	"cbtrader/internal/core"
	pkghttp "cbtrader/pkg/http"
	"cbtrader/pkg/ratelimit"

	"github.com/shopspring/decimal"
)

const coinbaseBaseURL = "https://api.coinbase.com"

// CoinbaseExchange implements core.IExchange against Coinbase Advanced
// Trade. Every request is HMAC-SHA256 signed over timestamp+method+path+body,
// rate-limited per endpoint class, and routed through the resilience
// pipeline (retry + circuit breaker) in pkg/http.
type CoinbaseExchange struct {
	client  *pkghttp.Client
	limiter *ratelimit.Limiter
	creds   config.Credentials
}

// NewCoinbaseExchange builds a live Coinbase adapter. creds must be
// non-empty; callers are expected to have already validated that via
// config.LoadCredentials.
func NewCoinbaseExchange(creds config.Credentials, limiter *ratelimit.Limiter) *CoinbaseExchange {
	cb := &CoinbaseExchange{creds: creds, limiter: limiter}
	cb.client = pkghttp.NewClient(coinbaseBaseURL, 10*time.Second, cb)
	return cb
}

// Name identifies the adapter in logs and metrics.
func (c *CoinbaseExchange) Name() string { return "coinbase" }

// ReadOnly is false: this adapter places real orders.
func (c *CoinbaseExchange) ReadOnly() bool { return false }

// SignRequest implements pkghttp.Signer, attaching the CB-ACCESS-* headers
// Coinbase's API key auth scheme requires.
func (c *CoinbaseExchange) SignRequest(req *http.Request) error {
	timestamp := strconv.FormatInt(time.Now().Unix(), 10)

	var body string
	if req.Body != nil {
		// Body already buffered by the caller (json.Marshal'd before
		// NewRequestWithContext); GetBody lets us read it without consuming
		// the stream the transport will send.
		if req.GetBody != nil {
			rc, err := req.GetBody()
			if err != nil {
				return fmt.Errorf("read body for signing: %w", err)
			}
			buf := make([]byte, 0, 512)
			tmp := make([]byte, 512)
			for {
				n, err := rc.Read(tmp)
				buf = append(buf, tmp[:n]...)
				if err != nil {
					break
				}
			}
			rc.Close()
			body = string(buf)
		}
	}

	message := timestamp + req.Method + req.URL.Path + body
	mac := hmac.New(sha256.New, []byte(string(c.creds.APISecret)))
	mac.Write([]byte(message))
	signature := hex.EncodeToString(mac.Sum(nil))

	req.Header.Set("CB-ACCESS-KEY", string(c.creds.APIKey))
	req.Header.Set("CB-ACCESS-SIGN", signature)
	req.Header.Set("CB-ACCESS-TIMESTAMP", timestamp)
	return nil
}

// ListProducts fetches every tradable product's static metadata.
func (c *CoinbaseExchange) ListProducts(ctx context.Context) ([]core.Product, error) {
	if err := c.limiter.Wait(ctx, ratelimit.ClassMarketData); err != nil {
		return nil, err
	}

	body, err := c.client.Get(ctx, "/api/v3/brokerage/products", nil)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	var resp struct {
		Products []struct {
			ProductID             string `json:"product_id"`
			Status                string `json:"status"`
			BaseIncrement         string `json:"base_increment"`
			QuoteIncrement        string `json:"quote_increment"`
			QuoteMinSize          string `json:"quote_min_size"`
			TradingDisabled       bool   `json:"trading_disabled"`
			IsDisabled            bool   `json:"is_disabled"`
		} `json:"products"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode products: %w", err)
	}

	out := make([]core.Product, 0, len(resp.Products))
	for _, p := range resp.Products {
		var status core.ProductStatus
		if p.IsDisabled || p.TradingDisabled {
			status = core.ProductOffline
		} else {
			status = mapProductStatus(p.Status)
		}
		lot, _ := decimal.NewFromString(p.BaseIncrement)
		priceIncrement, _ := decimal.NewFromString(p.QuoteIncrement)
		minNotional, _ := decimal.NewFromString(p.QuoteMinSize)
		out = append(out, core.Product{
			Symbol:         p.ProductID,
			Status:         status,
			LotSize:        lot,
			PriceIncrement: priceIncrement,
			MinNotional:    minNotional,
		})
	}
	return out, nil
}

func mapProductStatus(raw string) core.ProductStatus {
	switch strings.ToLower(raw) {
	case "online":
		return core.ProductOnline
	case "post_only":
		return core.ProductPostOnly
	case "limit_only":
		return core.ProductLimitOnly
	case "cancel_only":
		return core.ProductCancelOnly
	default:
		return core.ProductOffline
	}
}

// GetQuote fetches the current top-of-book snapshot for symbol.
func (c *CoinbaseExchange) GetQuote(ctx context.Context, symbol string) (core.Quote, error) {
	if err := c.limiter.Wait(ctx, ratelimit.ClassMarketData); err != nil {
		return core.Quote{}, err
	}

	book, err := c.GetOrderBook(ctx, symbol)
	if err != nil {
		return core.Quote{}, err
	}
	if len(book.Bids) == 0 || len(book.Asks) == 0 {
		return core.Quote{}, fmt.Errorf("empty order book for %s", symbol)
	}

	bid := book.Bids[0].Price
	ask := book.Asks[0].Price
	mid := bid.Add(ask).Div(decimal.NewFromInt(2))

	return core.Quote{Bid: bid, Ask: ask, Mid: mid, Timestamp: time.Now()}, nil
}

// GetOrderBook fetches the level-2 order book for symbol.
func (c *CoinbaseExchange) GetOrderBook(ctx context.Context, symbol string) (core.OrderBook, error) {
	if err := c.limiter.Wait(ctx, ratelimit.ClassMarketData); err != nil {
		return core.OrderBook{}, err
	}

	body, err := c.client.Get(ctx, fmt.Sprintf("/api/v3/brokerage/product_book"), map[string]string{
		"product_id": symbol,
		"limit":      "20",
	})
	if err != nil {
		return core.OrderBook{}, fmt.Errorf("order book %s: %w", symbol, err)
	}

	var resp struct {
		Pricebook struct {
			Bids []struct {
				Price string `json:"price"`
				Size  string `json:"size"`
			} `json:"bids"`
			Asks []struct {
				Price string `json:"price"`
				Size  string `json:"size"`
			} `json:"asks"`
		} `json:"pricebook"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.OrderBook{}, fmt.Errorf("decode order book %s: %w", symbol, err)
	}

	book := core.OrderBook{}
	for _, b := range resp.Pricebook.Bids {
		price, _ := decimal.NewFromString(b.Price)
		size, _ := decimal.NewFromString(b.Size)
		book.Bids = append(book.Bids, core.BookLevel{Price: price, Size: size})
	}
	for _, a := range resp.Pricebook.Asks {
		price, _ := decimal.NewFromString(a.Price)
		size, _ := decimal.NewFromString(a.Size)
		book.Asks = append(book.Asks, core.BookLevel{Price: price, Size: size})
	}
	return book, nil
}

// GetOHLCV fetches candles for symbol at granularity covering lookback.
func (c *CoinbaseExchange) GetOHLCV(ctx context.Context, symbol, granularity string, lookback time.Duration) ([]core.Candle, error) {
	if err := c.limiter.Wait(ctx, ratelimit.ClassMarketData); err != nil {
		return nil, err
	}

	end := time.Now()
	start := end.Add(-lookback)

	body, err := c.client.Get(ctx, fmt.Sprintf("/api/v3/brokerage/products/%s/candles", symbol), map[string]string{
		"start":       strconv.FormatInt(start.Unix(), 10),
		"end":         strconv.FormatInt(end.Unix(), 10),
		"granularity": granularity,
	})
	if err != nil {
		return nil, fmt.Errorf("candles %s: %w", symbol, err)
	}

	var resp struct {
		Candles []struct {
			Start  string `json:"start"`
			Low    string `json:"low"`
			High   string `json:"high"`
			Open   string `json:"open"`
			Close  string `json:"close"`
			Volume string `json:"volume"`
		} `json:"candles"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode candles %s: %w", symbol, err)
	}

	out := make([]core.Candle, 0, len(resp.Candles))
	for _, cd := range resp.Candles {
		ts, _ := strconv.ParseInt(cd.Start, 10, 64)
		open, _ := decimal.NewFromString(cd.Open)
		high, _ := decimal.NewFromString(cd.High)
		low, _ := decimal.NewFromString(cd.Low)
		clo, _ := decimal.NewFromString(cd.Close)
		vol, _ := decimal.NewFromString(cd.Volume)
		out = append(out, core.Candle{
			Timestamp: time.Unix(ts, 0),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     clo,
			Volume:    vol,
		})
	}
	return out, nil
}

// GetAccounts fetches every currency balance on the account.
func (c *CoinbaseExchange) GetAccounts(ctx context.Context) ([]core.AccountBalance, error) {
	if err := c.limiter.Wait(ctx, ratelimit.ClassAccounts); err != nil {
		return nil, err
	}

	body, err := c.client.Get(ctx, "/api/v3/brokerage/accounts", nil)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}

	var resp struct {
		Accounts []struct {
			Currency         string `json:"currency"`
			AvailableBalance struct {
				Value string `json:"value"`
			} `json:"available_balance"`
			Hold struct {
				Value string `json:"value"`
			} `json:"hold"`
		} `json:"accounts"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode accounts: %w", err)
	}

	out := make([]core.AccountBalance, 0, len(resp.Accounts))
	for _, a := range resp.Accounts {
		bal, _ := decimal.NewFromString(a.AvailableBalance.Value)
		hold, _ := decimal.NewFromString(a.Hold.Value)
		out = append(out, core.AccountBalance{Currency: a.Currency, Balance: bal, Hold: hold})
	}
	return out, nil
}

// PlaceOrder submits a new order, mapping core.OrderType to Coinbase's
// order_configuration variants.
func (c *CoinbaseExchange) PlaceOrder(ctx context.Context, req core.PlaceOrderRequest) (core.PlaceOrderResponse, error) {
	if err := c.limiter.Wait(ctx, ratelimit.ClassOrders); err != nil {
		return core.PlaceOrderResponse{}, err
	}

	side := "BUY"
	if req.Side == core.SideSell {
		side = "SELL"
	}

	payload := map[string]interface{}{
		"client_order_id": req.ClientOrderID,
		"product_id":      req.Symbol,
		"side":            side,
	}

	switch req.OrderType {
	case core.OrderTypeMarket:
		payload["order_configuration"] = map[string]interface{}{
			"market_market_ioc": map[string]string{
				"base_size": req.SizeBase.String(),
			},
		}
	case core.OrderTypeIOCLimit:
		payload["order_configuration"] = map[string]interface{}{
			"limit_limit_ioc": map[string]string{
				"base_size":   req.SizeBase.String(),
				"limit_price": req.Price.String(),
			},
		}
	default: // post_only_limit
		payload["order_configuration"] = map[string]interface{}{
			"limit_limit_gtc": map[string]interface{}{
				"base_size":   req.SizeBase.String(),
				"limit_price": req.Price.String(),
				"post_only":   true,
			},
		}
	}

	body, err := c.client.Post(ctx, "/api/v3/brokerage/orders", payload)
	if err != nil {
		if apiErr, ok := err.(*pkghttp.APIError); ok {
			return core.PlaceOrderResponse{Error: string(apiErr.Body)}, nil
		}
		return core.PlaceOrderResponse{}, fmt.Errorf("place order %s: %w", req.ClientOrderID, err)
	}

	var resp struct {
		Success      bool `json:"success"`
		SuccessResp  struct {
			OrderID string `json:"order_id"`
		} `json:"success_response"`
		ErrorResp map[string]string `json:"error_response"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return core.PlaceOrderResponse{}, fmt.Errorf("decode place order response: %w", err)
	}
	if !resp.Success {
		return core.PlaceOrderResponse{ErrorResponse: resp.ErrorResp}, nil
	}
	return core.PlaceOrderResponse{OrderID: resp.SuccessResp.OrderID}, nil
}

// CancelOrder cancels a single exchange order.
func (c *CoinbaseExchange) CancelOrder(ctx context.Context, exchangeOrderID string) error {
	return c.CancelOrders(ctx, []string{exchangeOrderID})
}

// CancelOrders cancels a batch of exchange orders in one request.
func (c *CoinbaseExchange) CancelOrders(ctx context.Context, exchangeOrderIDs []string) error {
	if len(exchangeOrderIDs) == 0 {
		return nil
	}
	if err := c.limiter.Wait(ctx, ratelimit.ClassOrders); err != nil {
		return err
	}

	_, err := c.client.Post(ctx, "/api/v3/brokerage/orders/batch_cancel", map[string]interface{}{
		"order_ids": exchangeOrderIDs,
	})
	if err != nil {
		return fmt.Errorf("cancel orders: %w", err)
	}
	return nil
}

// ListOpenOrders fetches every order still in a non-terminal state.
func (c *CoinbaseExchange) ListOpenOrders(ctx context.Context) ([]core.Order, error) {
	if err := c.limiter.Wait(ctx, ratelimit.ClassOrders); err != nil {
		return nil, err
	}

	body, err := c.client.Get(ctx, "/api/v3/brokerage/orders/historical/batch", map[string]string{
		"order_status": "OPEN",
	})
	if err != nil {
		return nil, fmt.Errorf("list open orders: %w", err)
	}

	var resp struct {
		Orders []struct {
			OrderID       string `json:"order_id"`
			ClientOrderID string `json:"client_order_id"`
			ProductID     string `json:"product_id"`
			Side          string `json:"side"`
			Status        string `json:"status"`
			CreatedTime   string `json:"created_time"`
		} `json:"orders"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}

	out := make([]core.Order, 0, len(resp.Orders))
	for _, o := range resp.Orders {
		createdAt, _ := time.Parse(time.RFC3339, o.CreatedTime)
		side := core.SideBuy
		if strings.EqualFold(o.Side, "SELL") {
			side = core.SideSell
		}
		out = append(out, core.Order{
			ExchangeOrderID: o.OrderID,
			ClientOrderID:   o.ClientOrderID,
			Symbol:          o.ProductID,
			Side:            side,
			Status:          mapOrderStatus(o.Status),
			CreatedAt:       createdAt,
		})
	}
	return out, nil
}

func mapOrderStatus(raw string) core.OrderStatus {
	switch strings.ToUpper(raw) {
	case "OPEN":
		return core.OrderStatusOpen
	case "FILLED":
		return core.OrderStatusFilled
	case "CANCELLED", "CANCELED":
		return core.OrderStatusCanceled
	case "EXPIRED":
		return core.OrderStatusExpired
	case "FAILED", "REJECTED":
		return core.OrderStatusRejected
	default:
		return core.OrderStatusSubmitted
	}
}

// ListFills fetches fills for one order within lookback, capped at limit.
func (c *CoinbaseExchange) ListFills(ctx context.Context, exchangeOrderID string, lookback time.Duration, limit int) ([]core.Fill, error) {
	if err := c.limiter.Wait(ctx, ratelimit.ClassOrders); err != nil {
		return nil, err
	}

	body, err := c.client.Get(ctx, "/api/v3/brokerage/orders/historical/fills", map[string]string{
		"order_id":  exchangeOrderID,
		"limit":     strconv.Itoa(limit),
		"start_sequence_timestamp": time.Now().Add(-lookback).Format(time.RFC3339),
	})
	if err != nil {
		return nil, fmt.Errorf("list fills %s: %w", exchangeOrderID, err)
	}

	var resp struct {
		Fills []struct {
			TradeID     string `json:"trade_id"`
			Price       string `json:"price"`
			Size        string `json:"size"`
			SizeInQuote bool   `json:"size_in_quote"`
			Commission  string `json:"commission"`
			Liquidity   string `json:"liquidity_indicator"`
			TradeTime   string `json:"trade_time"`
		} `json:"fills"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode fills %s: %w", exchangeOrderID, err)
	}

	out := make([]core.Fill, 0, len(resp.Fills))
	for _, f := range resp.Fills {
		price, _ := decimal.NewFromString(f.Price)
		size, _ := decimal.NewFromString(f.Size)
		fee, _ := decimal.NewFromString(f.Commission)
		ts, _ := time.Parse(time.RFC3339, f.TradeTime)
		liquidity := core.LiquidityTaker
		if strings.EqualFold(f.Liquidity, "MAKER") {
			liquidity = core.LiquidityMaker
		}

		// size_in_quote must be checked before size is given meaning:
		// Coinbase sometimes reports size in quote currency rather than
		// base. Getting this backwards silently corrupts position
		// accounting.
		var sizeBase, sizeQuote decimal.Decimal
		if f.SizeInQuote {
			sizeQuote = size
			if price.IsPositive() {
				sizeBase = size.Div(price)
			}
		} else {
			sizeBase = size
			sizeQuote = price.Mul(size)
		}

		out = append(out, core.Fill{
			TradeID:   f.TradeID,
			Price:     price,
			SizeBase:  sizeBase,
			SizeQuote: sizeQuote,
			Fee:       fee,
			Liquidity: liquidity,
			Timestamp: ts,
		})
	}
	return out, nil
}
