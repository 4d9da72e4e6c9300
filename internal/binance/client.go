package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"binance-futures-bot/internal/orders"
)

// Retry configuration for transport-level API retries
const (
	maxRetries     = 3
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 5 * time.Second
)

// FuturesBaseURL is the production Binance Futures API URL
const FuturesBaseURL = "https://fapi.binance.com"

// FuturesClient is the signed REST client for the USDT-M Futures API.
type FuturesClient struct {
	apiKey     string
	secretKey  string
	baseURL    string
	recvWindow int64
	httpClient *http.Client
	precision  *PrecisionCache
	ids        *orders.IDGenerator
}

// NewFuturesClient creates a new client. An empty baseURL selects
// production.
func NewFuturesClient(apiKey, secretKey, baseURL string, recvWindow int64) *FuturesClient {
	if baseURL == "" {
		baseURL = FuturesBaseURL
	}
	if recvWindow <= 0 {
		recvWindow = 10000
	}

	// Trim any whitespace from keys - critical for signature generation
	c := &FuturesClient{
		apiKey:     strings.TrimSpace(apiKey),
		secretKey:  strings.TrimSpace(secretKey),
		baseURL:    strings.TrimRight(baseURL, "/"),
		recvWindow: recvWindow,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		ids:        orders.NewIDGenerator("BOT"),
	}
	c.precision = NewPrecisionCache(c)
	return c
}

// ==================== ACCOUNT ====================

// GetBalances retrieves all asset balances from /fapi/v2/balance.
func (c *FuturesClient) GetBalances() ([]FuturesBalance, error) {
	resp, err := c.signedGet("/fapi/v2/balance", map[string]string{})
	if err != nil {
		return nil, fmt.Errorf("error fetching balances: %w", err)
	}

	var balances []FuturesBalance
	if err := json.Unmarshal(resp, &balances); err != nil {
		return nil, fmt.Errorf("error parsing balances: %w", err)
	}
	return balances, nil
}

// GetAvailableBalance returns the available balance for one asset.
func (c *FuturesClient) GetAvailableBalance(asset string) (float64, error) {
	balances, err := c.GetBalances()
	if err != nil {
		return 0, err
	}
	for _, b := range balances {
		if b.Asset == asset {
			return b.AvailableBalance, nil
		}
	}
	return 0, nil
}

// GetPositions retrieves positions for a symbol from /fapi/v2/positionRisk.
func (c *FuturesClient) GetPositions(symbol string) ([]FuturesPosition, error) {
	params := map[string]string{}
	if symbol != "" {
		params["symbol"] = symbol
	}

	resp, err := c.signedGet("/fapi/v2/positionRisk", params)
	if err != nil {
		return nil, fmt.Errorf("error fetching positions: %w", err)
	}

	var positions []FuturesPosition
	if err := json.Unmarshal(resp, &positions); err != nil {
		return nil, fmt.Errorf("error parsing positions: %w", err)
	}
	return positions, nil
}

// GetPosition retrieves the hedge-mode position for one position side.
func (c *FuturesClient) GetPosition(symbol string, positionSide PositionSide) (*FuturesPosition, error) {
	positions, err := c.GetPositions(symbol)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		if positions[i].PositionSide == string(positionSide) {
			return &positions[i], nil
		}
	}
	return nil, fmt.Errorf("position not found for %s %s", symbol, positionSide)
}

// ==================== TRADING ====================

// PlaceOrder places a futures order from pre-formatted parameters.
func (c *FuturesClient) PlaceOrder(params FuturesOrderParams) (*FuturesOrderResponse, error) {
	reqParams := map[string]string{
		"symbol": params.Symbol,
		"side":   string(params.Side),
		"type":   string(params.Type),
	}

	if params.Quantity != "" {
		reqParams["quantity"] = params.Quantity
	}
	if params.PositionSide != "" {
		reqParams["positionSide"] = string(params.PositionSide)
	}
	if params.Price != "" {
		reqParams["price"] = params.Price
	}
	if params.StopPrice != "" {
		reqParams["stopPrice"] = params.StopPrice
	}
	if params.TimeInForce != "" {
		reqParams["timeInForce"] = string(params.TimeInForce)
	} else if params.Type == FuturesOrderTypeLimit || params.Type == FuturesOrderTypeTakeProfit {
		reqParams["timeInForce"] = string(TimeInForceGTC)
	}
	if params.ReduceOnly {
		reqParams["reduceOnly"] = "true"
	}
	if params.ClosePosition {
		reqParams["closePosition"] = "true"
	}
	if params.WorkingType != "" {
		reqParams["workingType"] = string(params.WorkingType)
	}
	if params.NewClientOrderId != "" {
		reqParams["newClientOrderId"] = params.NewClientOrderId
	}

	resp, err := c.signedPost("/fapi/v1/order", reqParams)
	if err != nil {
		return nil, fmt.Errorf("error placing order: %w", err)
	}

	var orderResp FuturesOrderResponse
	if err := json.Unmarshal(resp, &orderResp); err != nil {
		return nil, fmt.Errorf("error parsing order response: %w", err)
	}
	return &orderResp, nil
}

// PlaceMarketOrder places a MARKET order with the quantity snapped to the
// step grid.
func (c *FuturesClient) PlaceMarketOrder(symbol string, side OrderSide, positionSide PositionSide, quantity float64) (*FuturesOrderResponse, error) {
	qty, err := c.FormatQuantity(symbol, quantity)
	if err != nil {
		return nil, err
	}
	return c.PlaceOrder(FuturesOrderParams{
		Symbol:           symbol,
		Side:             side,
		PositionSide:     positionSide,
		Type:             FuturesOrderTypeMarket,
		Quantity:         qty,
		NewClientOrderId: c.ids.Next("EN"),
	})
}

// PlaceStopMarketOrder places a STOP_MARKET order with quantity and stop
// price snapped to their grids.
func (c *FuturesClient) PlaceStopMarketOrder(symbol string, side OrderSide, positionSide PositionSide, quantity, stopPrice float64) (*FuturesOrderResponse, error) {
	qty, err := c.FormatQuantity(symbol, quantity)
	if err != nil {
		return nil, err
	}
	stop, err := c.FormatPrice(symbol, stopPrice)
	if err != nil {
		return nil, err
	}
	return c.PlaceOrder(FuturesOrderParams{
		Symbol:           symbol,
		Side:             side,
		PositionSide:     positionSide,
		Type:             FuturesOrderTypeStopMarket,
		Quantity:         qty,
		StopPrice:        stop,
		NewClientOrderId: c.ids.Next("SL"),
	})
}

// PlaceTakeProfitOrder places a TAKE_PROFIT limit order. The stop trigger
// and the limit price are snapped to the tick grid independently.
func (c *FuturesClient) PlaceTakeProfitOrder(symbol string, side OrderSide, positionSide PositionSide, quantity, stopPrice, limitPrice float64) (*FuturesOrderResponse, error) {
	qty, err := c.FormatQuantity(symbol, quantity)
	if err != nil {
		return nil, err
	}
	stop, err := c.FormatPrice(symbol, stopPrice)
	if err != nil {
		return nil, err
	}
	limit, err := c.FormatPrice(symbol, limitPrice)
	if err != nil {
		return nil, err
	}
	return c.PlaceOrder(FuturesOrderParams{
		Symbol:           symbol,
		Side:             side,
		PositionSide:     positionSide,
		Type:             FuturesOrderTypeTakeProfit,
		Quantity:         qty,
		Price:            limit,
		StopPrice:        stop,
		TimeInForce:      TimeInForceGTC,
		NewClientOrderId: c.ids.Next("TP"),
	})
}

// CancelOrder cancels an existing futures order.
func (c *FuturesClient) CancelOrder(symbol string, orderID int64) error {
	params := map[string]string{
		"symbol":  symbol,
		"orderId": strconv.FormatInt(orderID, 10),
	}

	_, err := c.signedDelete("/fapi/v1/order", params)
	if err != nil {
		return fmt.Errorf("error canceling order: %w", err)
	}
	return nil
}

// CancelAllOpenOrders cancels all open orders for a symbol.
func (c *FuturesClient) CancelAllOpenOrders(symbol string) error {
	params := map[string]string{
		"symbol": symbol,
	}

	_, err := c.signedDelete("/fapi/v1/allOpenOrders", params)
	if err != nil {
		return fmt.Errorf("error canceling all orders: %w", err)
	}
	return nil
}

// GetOrder retrieves a specific order.
func (c *FuturesClient) GetOrder(symbol string, orderID int64) (*FuturesOrder, error) {
	params := map[string]string{
		"symbol":  symbol,
		"orderId": strconv.FormatInt(orderID, 10),
	}

	resp, err := c.signedGet("/fapi/v1/order", params)
	if err != nil {
		return nil, fmt.Errorf("error fetching order: %w", err)
	}

	var order FuturesOrder
	if err := json.Unmarshal(resp, &order); err != nil {
		return nil, fmt.Errorf("error parsing order: %w", err)
	}
	return &order, nil
}

// GetOpenOrders retrieves all open orders for a symbol.
func (c *FuturesClient) GetOpenOrders(symbol string) ([]FuturesOrder, error) {
	params := map[string]string{}
	if symbol != "" {
		params["symbol"] = symbol
	}

	resp, err := c.signedGet("/fapi/v1/openOrders", params)
	if err != nil {
		return nil, fmt.Errorf("error fetching open orders: %w", err)
	}

	var orders []FuturesOrder
	if err := json.Unmarshal(resp, &orders); err != nil {
		return nil, fmt.Errorf("error parsing open orders: %w", err)
	}
	return orders, nil
}

// ==================== PRECISION ====================

// GetSymbolPrecision returns the cached precision grids for a symbol.
func (c *FuturesClient) GetSymbolPrecision(symbol string) (SymbolPrecision, error) {
	return c.precision.Get(symbol)
}

// FormatPrice snaps a price down to the symbol's tick grid.
func (c *FuturesClient) FormatPrice(symbol string, price float64) (string, error) {
	p, err := c.precision.Get(symbol)
	if err != nil {
		return "", err
	}
	return p.FormatPrice(price), nil
}

// FormatQuantity snaps a quantity down to the symbol's step grid.
func (c *FuturesClient) FormatQuantity(symbol string, quantity float64) (string, error) {
	p, err := c.precision.Get(symbol)
	if err != nil {
		return "", err
	}
	return p.FormatQuantity(quantity), nil
}

// ReloadPrecision refetches exchange info and rebuilds the precision cache.
func (c *FuturesClient) ReloadPrecision() error {
	return c.precision.Reload()
}

// ==================== MARKET DATA ====================

// GetKlines retrieves candlestick data.
func (c *FuturesClient) GetKlines(symbol, interval string, limit int) ([]Kline, error) {
	resp, err := c.publicGet("/fapi/v1/klines", map[string]string{
		"symbol":   symbol,
		"interval": interval,
		"limit":    strconv.Itoa(limit),
	})
	if err != nil {
		return nil, fmt.Errorf("error fetching klines: %w", err)
	}

	var rawKlines [][]interface{}
	if err := json.Unmarshal(resp, &rawKlines); err != nil {
		return nil, fmt.Errorf("error parsing klines: %w", err)
	}

	klines := make([]Kline, len(rawKlines))
	for i, raw := range rawKlines {
		if len(raw) < 11 {
			return nil, fmt.Errorf("malformed kline entry at index %d", i)
		}
		klines[i] = Kline{
			OpenTime:                 int64(raw[0].(float64)),
			Open:                     parseFloat(raw[1]),
			High:                     parseFloat(raw[2]),
			Low:                      parseFloat(raw[3]),
			Close:                    parseFloat(raw[4]),
			Volume:                   parseFloat(raw[5]),
			CloseTime:                int64(raw[6].(float64)),
			QuoteAssetVolume:         parseFloat(raw[7]),
			NumberOfTrades:           int(raw[8].(float64)),
			TakerBuyBaseAssetVolume:  parseFloat(raw[9]),
			TakerBuyQuoteAssetVolume: parseFloat(raw[10]),
		}
	}
	return klines, nil
}

// GetExchangeInfo retrieves futures exchange information.
func (c *FuturesClient) GetExchangeInfo() (*FuturesExchangeInfo, error) {
	resp, err := c.publicGet("/fapi/v1/exchangeInfo", nil)
	if err != nil {
		return nil, fmt.Errorf("error fetching exchange info: %w", err)
	}

	var exchangeInfo FuturesExchangeInfo
	if err := json.Unmarshal(resp, &exchangeInfo); err != nil {
		return nil, fmt.Errorf("error parsing exchange info: %w", err)
	}
	return &exchangeInfo, nil
}

// ==================== USER DATA STREAM ====================

// GetListenKey creates a new user data stream listen key.
func (c *FuturesClient) GetListenKey() (string, error) {
	resp, err := c.signedPost("/fapi/v1/listenKey", nil)
	if err != nil {
		return "", fmt.Errorf("error getting listen key: %w", err)
	}

	var listenKeyResp ListenKeyResponse
	if err := json.Unmarshal(resp, &listenKeyResp); err != nil {
		return "", fmt.Errorf("error parsing listen key: %w", err)
	}
	return listenKeyResp.ListenKey, nil
}

// KeepAliveListenKey extends the validity of a listen key. Bypasses the
// circuit breaker: losing the keepalive means losing the order stream.
func (c *FuturesClient) KeepAliveListenKey(listenKey string) error {
	params := map[string]string{
		"listenKey": listenKey,
	}

	_, err := c.criticalPut("/fapi/v1/listenKey", params)
	if err != nil {
		return fmt.Errorf("error keeping listen key alive: %w", err)
	}
	return nil
}

// CloseListenKey closes a user data stream.
func (c *FuturesClient) CloseListenKey(listenKey string) error {
	params := map[string]string{
		"listenKey": listenKey,
	}

	_, err := c.signedDelete("/fapi/v1/listenKey", params)
	if err != nil {
		return fmt.Errorf("error closing listen key: %w", err)
	}
	return nil
}

// ==================== HTTP HELPERS ====================

// buildQueryString builds a query string from params (without signature)
func (c *FuturesClient) buildQueryString(params map[string]string) string {
	query := ""
	for k, v := range params {
		if k != "signature" {
			if query != "" {
				query += "&"
			}
			query += k + "=" + url.QueryEscape(v)
		}
	}
	return query
}

// sign creates an HMAC-SHA256 signature for the given query string
func (c *FuturesClient) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

// signParams builds query string with signature appended
func (c *FuturesClient) signParams(params map[string]string) string {
	query := c.buildQueryString(params)
	signature := c.sign(query)
	return query + "&signature=" + signature
}

// isRetryableError checks if an error is transient and should be retried
func isRetryableError(statusCode int, body string) bool {
	// Retry on rate limits (429) and server errors (5xx)
	if statusCode == http.StatusTooManyRequests || statusCode >= 500 {
		return true
	}
	// Retry on specific Binance errors that are transient
	if strings.Contains(body, "-1001") || // DISCONNECTED
		strings.Contains(body, "-1003") || // TOO_MANY_REQUESTS
		strings.Contains(body, "-1015") || // TOO_MANY_ORDERS
		strings.Contains(body, "-1016") { // SERVICE_SHUTTING_DOWN
		return true
	}
	return false
}

// calculateRetryDelay returns delay with exponential backoff and jitter
func calculateRetryDelay(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt)) // 2^attempt
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	// Add jitter (±25%)
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))
	return delay + jitter - (delay / 4)
}

// publicGet performs an unauthenticated GET request with rate limiting and retry
func (c *FuturesClient) publicGet(endpoint string, params map[string]string) ([]byte, error) {
	rateLimiter := GetRateLimiter()
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if !rateLimiter.WaitForSlot(endpoint, 30*time.Second) {
			return nil, fmt.Errorf("rate limit: circuit breaker open, request blocked")
		}

		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}

		reqURL := fmt.Sprintf("%s%s", c.baseURL, endpoint)
		if len(values) > 0 {
			reqURL = fmt.Sprintf("%s?%s", reqURL, values.Encode())
		}

		resp, err := c.httpClient.Get(reqURL)
		if err != nil {
			lastErr = err
			if attempt < maxRetries {
				time.Sleep(calculateRetryDelay(attempt))
				continue
			}
			return nil, err
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		if usedWeight := resp.Header.Get("X-MBX-USED-WEIGHT-1M"); usedWeight != "" {
			if weight, err := strconv.Atoi(usedWeight); err == nil {
				rateLimiter.UpdateFromHeaders(weight)
			}
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("API error: %s", string(body))

			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418 ||
				strings.Contains(string(body), "-1003") {
				rateLimiter.RecordRateLimitError(ParseBanUntilFromError(string(body)))
			}

			if isRetryableError(resp.StatusCode, string(body)) && attempt < maxRetries {
				time.Sleep(calculateRetryDelay(attempt))
				continue
			}
			return nil, lastErr
		}

		rateLimiter.RecordRequest(endpoint)
		return body, nil
	}

	return nil, lastErr
}

// signedRequest performs an authenticated request with rate limiting and
// retry. The timestamp and recvWindow are refreshed on every attempt.
func (c *FuturesClient) signedRequest(method, endpoint string, params map[string]string) ([]byte, error) {
	rateLimiter := GetRateLimiter()
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if !rateLimiter.WaitForSlot(endpoint, 30*time.Second) {
			return nil, fmt.Errorf("rate limit: circuit breaker open, request blocked")
		}

		if params == nil {
			params = make(map[string]string)
		}
		params["timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)
		params["recvWindow"] = strconv.FormatInt(c.recvWindow, 10)
		query := c.signParams(params)

		req, err := http.NewRequest(method, fmt.Sprintf("%s%s", c.baseURL, endpoint), nil)
		if err != nil {
			return nil, err
		}
		req.URL.RawQuery = query
		req.Header.Set("X-MBX-APIKEY", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxRetries {
				time.Sleep(calculateRetryDelay(attempt))
				continue
			}
			return nil, err
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		if usedWeight := resp.Header.Get("X-MBX-USED-WEIGHT-1M"); usedWeight != "" {
			if weight, err := strconv.Atoi(usedWeight); err == nil {
				rateLimiter.UpdateFromHeaders(weight)
			}
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("API error: %s", string(body))

			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == 418 ||
				strings.Contains(string(body), "-1003") {
				rateLimiter.RecordRateLimitError(ParseBanUntilFromError(string(body)))
			}

			if isRetryableError(resp.StatusCode, string(body)) && attempt < maxRetries {
				time.Sleep(calculateRetryDelay(attempt))
				continue
			}
			return nil, lastErr
		}

		rateLimiter.RecordRequest(endpoint)
		return body, nil
	}

	return nil, lastErr
}

func (c *FuturesClient) signedGet(endpoint string, params map[string]string) ([]byte, error) {
	return c.signedRequest(http.MethodGet, endpoint, params)
}

func (c *FuturesClient) signedPost(endpoint string, params map[string]string) ([]byte, error) {
	return c.signedRequest(http.MethodPost, endpoint, params)
}

func (c *FuturesClient) signedDelete(endpoint string, params map[string]string) ([]byte, error) {
	return c.signedRequest(http.MethodDelete, endpoint, params)
}

// criticalPut performs an authenticated PUT request that bypasses the
// circuit breaker. Used for the listen key keepalive, which must go
// through even when rate limited.
func (c *FuturesClient) criticalPut(endpoint string, params map[string]string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		// Weight accounting still happens, but an open circuit does not
		// block the keepalive.
		GetRateLimiter().TryAcquire(endpoint, PriorityCritical)

		if params == nil {
			params = make(map[string]string)
		}
		params["timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)
		params["recvWindow"] = strconv.FormatInt(c.recvWindow, 10)
		query := c.signParams(params)

		req, err := http.NewRequest(http.MethodPut, fmt.Sprintf("%s%s", c.baseURL, endpoint), nil)
		if err != nil {
			return nil, err
		}
		req.URL.RawQuery = query
		req.Header.Set("X-MBX-APIKEY", c.apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if attempt < maxRetries {
				time.Sleep(calculateRetryDelay(attempt))
				continue
			}
			return nil, err
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, err
		}

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("API error: %s", string(body))
			if isRetryableError(resp.StatusCode, string(body)) && attempt < maxRetries {
				time.Sleep(calculateRetryDelay(attempt))
				continue
			}
			return nil, lastErr
		}
		return body, nil
	}

	return nil, lastErr
}

var _ FuturesGateway = (*FuturesClient)(nil)
