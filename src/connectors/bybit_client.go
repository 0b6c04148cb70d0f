// REST CLIENT FOR BYBIT V5 (UNIFIED ACCOUNT)
// RESTY ONLY, NO INTERNAL RETRY: callers own the retry policy.
package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	logger "github.com/sirupsen/logrus"
	"tradejournal/src/model"
)

const (
	defaultBybitBaseURL = "https://api.bybit.com"
	defaultRecvWindow   = 5000

	maxExecutionLimit = 100
	maxPositionLimit  = 200
	maxClosedPnLLimit = 100
	maxKlineLimit     = 1000
)

// -----------------------------
// API RESPONSE WRAPPER
// -----------------------------
type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

type listResult struct {
	Category       string            `json:"category"`
	List           []json.RawMessage `json:"list"`
	NextPageCursor string            `json:"nextPageCursor"`
}

// -----------------------------
// AUTHENTICATED CLIENT
// -----------------------------
type BybitClient struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	recvWindow int
	http       *resty.Client
	now        func() time.Time
}

var _ Adapter = (*BybitClient)(nil)

func NewBybitClient(apiKey, apiSecret string, config Config) *BybitClient {
	baseURL := strings.TrimRight(config.BybitBaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBybitBaseURL
		logger.Warnf("No base URL provided, using default: %s", baseURL)
	}
	recvWindow := config.RecvWindow
	if recvWindow <= 0 {
		recvWindow = defaultRecvWindow
	}
	timeout := config.HTTPTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(0)

	return &BybitClient{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    baseURL,
		recvWindow: recvWindow,
		http:       httpClient,
		now:        time.Now,
	}
}

func (c *BybitClient) Name() string { return model.ExchangeBybit }

// SignRequest returns hex(HMAC_SHA256(secret, timestamp + apiKey + recvWindow + payload)).
// payload is the query string for GET requests.
func (c *BybitClient) SignRequest(timestamp int64, payload string) string {
	return signRequest(timestamp, c.apiKey, c.recvWindow, payload, c.apiSecret)
}

func signRequest(timestamp int64, apiKey string, recvWindow int, payload, secret string) string {
	base := strconv.FormatInt(timestamp, 10) + apiKey + strconv.Itoa(recvWindow) + payload
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

// encodeQuery renders params with sorted keys. The same string is signed and sent.
func encodeQuery(params url.Values) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, v := range params[k] {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(parts, "&")
}

func (c *BybitClient) doRequest(ctx context.Context, method, path string, params url.Values, signed bool) (*apiResponse, error) {
	query := encodeQuery(params)

	req := c.http.R().SetContext(ctx)
	if signed {
		ts := c.now().UnixMilli()
		req = req.
			SetHeader("X-BAPI-API-KEY", c.apiKey).
			SetHeader("X-BAPI-TIMESTAMP", strconv.FormatInt(ts, 10)).
			SetHeader("X-BAPI-RECV-WINDOW", strconv.Itoa(c.recvWindow)).
			SetHeader("X-BAPI-SIGN", c.SignRequest(ts, query))
	}
	if query != "" {
		req = req.SetQueryString(query)
	}

	// credentials and signature are never logged
	logger.WithFields(logger.Fields{
		"method": method,
		"path":   path,
		"query":  query,
		"signed": signed,
	}).Debug("Bybit HTTP request")

	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, errors.Join(ErrTransient, fmt.Errorf("%s %s: %w", method, path, err))
	}

	raw := resp.Body()
	if resp.StatusCode() != http.StatusOK {
		exErr := &ExchangeError{
			Endpoint:   path,
			HTTPStatus: resp.StatusCode(),
			Message:    truncate(string(raw), 256),
		}
		logger.WithFields(logger.Fields{
			"path":   path,
			"status": resp.StatusCode(),
			"class":  Classify(exErr),
		}).Warn("Bybit HTTP non-200 status")
		return nil, exErr
	}

	var apiResp apiResponse
	if err := json.Unmarshal(raw, &apiResp); err != nil {
		return nil, fmt.Errorf("%w: %s envelope: %v", ErrMalformed, path, err)
	}
	if apiResp.RetCode != 0 {
		exErr := &ExchangeError{
			Endpoint:   path,
			HTTPStatus: resp.StatusCode(),
			Code:       apiResp.RetCode,
			Message:    apiResp.RetMsg,
		}
		logger.WithFields(logger.Fields{
			"path":  path,
			"code":  apiResp.RetCode,
			"msg":   apiResp.RetMsg,
			"class": Classify(exErr),
		}).Warn("Bybit API returned error code")
		return nil, exErr
	}

	return &apiResp, nil
}

func (c *BybitClient) getList(ctx context.Context, path string, params url.Values, signed bool) (*listResult, error) {
	resp, err := c.doRequest(ctx, http.MethodGet, path, params, signed)
	if err != nil {
		return nil, err
	}
	var lr listResult
	if len(resp.Result) > 0 {
		if err := json.Unmarshal(resp.Result, &lr); err != nil {
			return nil, fmt.Errorf("%w: %s result: %v", ErrMalformed, path, err)
		}
	}
	return &lr, nil
}

// -----------------------------
// EXECUTIONS / POSITIONS / CLOSED PNL
// -----------------------------

func (c *BybitClient) FetchExecutions(ctx context.Context, q ExecutionQuery) (*Page[Execution], error) {
	params := url.Values{}
	params.Set("category", q.Category)
	setOptional(params, "symbol", q.Symbol)
	setWindow(params, q.StartTime, q.EndTime)
	params.Set("limit", strconv.Itoa(clampLimit(q.Limit, maxExecutionLimit)))
	setOptional(params, "cursor", q.Cursor)

	lr, err := c.getList(ctx, "/v5/execution/list", params, true)
	if err != nil {
		return nil, err
	}

	page := &Page[Execution]{NextCursor: lr.NextPageCursor}
	for _, item := range lr.List {
		e, err := ParseExecution(item)
		if err != nil {
			page.Malformed++
			logger.WithError(err).WithField("category", q.Category).Warn("Skipping malformed execution")
			continue
		}
		if e.Category == "" {
			e.Category = q.Category
		}
		page.List = append(page.List, e)
	}
	return page, nil
}

func (c *BybitClient) FetchPositions(ctx context.Context, q PositionQuery) (*Page[Position], error) {
	params := url.Values{}
	params.Set("category", q.Category)
	setOptional(params, "symbol", q.Symbol)
	settle := q.SettleCoin
	if settle == "" && q.Symbol == "" && q.Category == model.CategoryLinear {
		// linear positions must be scoped by symbol or settle coin
		settle = "USDT"
	}
	setOptional(params, "settleCoin", settle)
	params.Set("limit", strconv.Itoa(clampLimit(q.Limit, maxPositionLimit)))
	setOptional(params, "cursor", q.Cursor)

	lr, err := c.getList(ctx, "/v5/position/list", params, true)
	if err != nil {
		return nil, err
	}

	page := &Page[Position]{NextCursor: lr.NextPageCursor}
	for _, item := range lr.List {
		p, err := ParsePosition(item)
		if err != nil {
			page.Malformed++
			logger.WithError(err).WithField("category", q.Category).Warn("Skipping malformed position")
			continue
		}
		if p.Category == "" {
			p.Category = q.Category
		}
		page.List = append(page.List, p)
	}
	return page, nil
}

func (c *BybitClient) FetchClosedPnL(ctx context.Context, q ClosedPnLQuery) (*Page[ClosedPnL], error) {
	params := url.Values{}
	params.Set("category", q.Category)
	setOptional(params, "symbol", q.Symbol)
	setWindow(params, q.StartTime, q.EndTime)
	params.Set("limit", strconv.Itoa(clampLimit(q.Limit, maxClosedPnLLimit)))
	setOptional(params, "cursor", q.Cursor)

	lr, err := c.getList(ctx, "/v5/position/closed-pnl", params, true)
	if err != nil {
		return nil, err
	}

	page := &Page[ClosedPnL]{NextCursor: lr.NextPageCursor}
	for _, item := range lr.List {
		r, err := ParseClosedPnL(item)
		if err != nil {
			page.Malformed++
			logger.WithError(err).WithField("category", q.Category).Warn("Skipping malformed closed pnl record")
			continue
		}
		page.List = append(page.List, r)
	}
	return page, nil
}

// -----------------------------
// MARKET DATA (PUBLIC, UNSIGNED)
// -----------------------------

var bybitIntervals = map[string]string{
	model.Timeframe5m:  "5",
	model.Timeframe15m: "15",
	model.Timeframe1h:  "60",
	model.Timeframe4h:  "240",
	model.Timeframe1D:  "D",
}

// BybitInterval maps a detector timeframe to the kline interval parameter.
func BybitInterval(timeframe string) (string, error) {
	if iv, ok := bybitIntervals[timeframe]; ok {
		return iv, nil
	}
	return "", fmt.Errorf("unsupported timeframe %q", timeframe)
}

// FetchKline returns candles sorted oldest first.
func (c *BybitClient) FetchKline(ctx context.Context, q KlineQuery) ([]model.Candle, error) {
	interval, err := BybitInterval(q.Timeframe)
	if err != nil {
		return nil, err
	}
	category := q.Category
	if category == "" {
		category = model.CategoryLinear
	}
	params := url.Values{}
	params.Set("category", category)
	params.Set("symbol", q.Symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(clampLimit(q.Limit, maxKlineLimit)))

	resp, err := c.doRequest(ctx, http.MethodGet, "/v5/market/kline", params, false)
	if err != nil {
		return nil, err
	}

	var result struct {
		Symbol string     `json:"symbol"`
		List   [][]string `json:"list"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("%w: kline result: %v", ErrMalformed, err)
	}

	candles := make([]model.Candle, 0, len(result.List))
	for _, row := range result.List {
		candle, err := parseKlineRow(q.Symbol, row)
		if err != nil {
			logger.WithError(err).WithField("symbol", q.Symbol).Warn("Skipping malformed kline row")
			continue
		}
		candles = append(candles, candle)
	}
	// the exchange returns newest first
	sort.Slice(candles, func(i, j int) bool { return candles[i].Datetime.Before(candles[j].Datetime) })
	return candles, nil
}

// -----------------------------
// ACCOUNT
// -----------------------------

func (c *BybitClient) FetchWalletBalance(ctx context.Context, accountType string) ([]WalletCoin, error) {
	if accountType == "" {
		accountType = "UNIFIED"
	}
	params := url.Values{}
	params.Set("accountType", accountType)

	resp, err := c.doRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params, true)
	if err != nil {
		return nil, err
	}

	var result struct {
		List []rawWallet `json:"list"`
	}
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return nil, fmt.Errorf("%w: wallet result: %v", ErrMalformed, err)
	}

	var coins []WalletCoin
	for _, acc := range result.List {
		for _, rc := range acc.Coin {
			p := numParser{}
			coin := WalletCoin{
				AccountType:   acc.AccountType,
				Coin:          rc.Coin,
				Equity:        p.dec("equity", rc.Equity),
				WalletBalance: p.dec("walletBalance", rc.WalletBalance),
				UnrealizedPnl: p.dec("unrealisedPnl", rc.UnrealisedPnl),
				UsdValue:      p.dec("usdValue", rc.UsdValue),
			}
			if p.err != nil {
				logger.WithError(p.err).WithField("coin", rc.Coin).Warn("Skipping malformed wallet coin")
				continue
			}
			coins = append(coins, coin)
		}
	}
	return coins, nil
}

// -----------------------------
// HELPERS
// -----------------------------

func setOptional(params url.Values, key, value string) {
	if value != "" {
		params.Set(key, value)
	}
}

func setWindow(params url.Values, start, end time.Time) {
	if !start.IsZero() {
		params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	}
	if !end.IsZero() {
		params.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	}
}

func clampLimit(limit, max int) int {
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
