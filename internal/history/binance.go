package history

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"market-workbench/internal/model"

	"go.uber.org/zap"
)

// BinanceBaseURL is the public REST endpoint.
const BinanceBaseURL = "https://api.binance.com/api/v3"

// binanceInvalidSymbol is the API error code for an unknown symbol.
const binanceInvalidSymbol = -1121

var binanceIntervals = map[string]bool{
	"1s": true, "1m": true, "3m": true, "5m": true, "15m": true, "30m": true,
	"1h": true, "2h": true, "4h": true, "6h": true, "8h": true, "12h": true,
	"1d": true, "3d": true, "1w": true,
}

// APIError is a non-200 response from the provider.
type APIError struct {
	Status int
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
}

func (e *APIError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("binance api status %d: code %d: %s", e.Status, e.Code, e.Msg)
	}
	return fmt.Sprintf("binance api status %d", e.Status)
}

// BinanceProvider fetches klines from the Binance REST API.
type BinanceProvider struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewBinanceProvider returns a provider for baseURL (BinanceBaseURL when
// empty) with the given request timeout.
func NewBinanceProvider(baseURL string, timeout time.Duration, logger *zap.Logger) *BinanceProvider {
	if baseURL == "" {
		baseURL = BinanceBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BinanceProvider{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(zap.String("component", "binance")),
	}
}

// GetHistoricalCandles implements Provider.
func (p *BinanceProvider) GetHistoricalCandles(ctx context.Context, symbol, interval string, limit int, endTime int64) ([]model.Candle, error) {
	if !binanceIntervals[interval] {
		return nil, fmt.Errorf("binance: unsupported interval %q", interval)
	}
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(symbol))
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(clampLimit(limit)))
	if endTime > 0 {
		params.Set("endTime", strconv.FormatInt(endTime, 10))
	}
	reqURL := p.baseURL + "/klines?" + params.Encode()
	p.logger.Debug("fetching klines", zap.String("url", reqURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("binance request: %w", err)
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("binance klines %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode}
		json.Unmarshal(body, apiErr)
		p.logger.Warn("binance api error",
			zap.String("symbol", symbol),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		if resp.StatusCode == http.StatusBadRequest && apiErr.Code == binanceInvalidSymbol {
			return nil, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
		}
		return nil, apiErr
	}

	var raw [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("binance decode klines: %w", err)
	}
	out := make([]model.Candle, 0, len(raw))
	for i, k := range raw {
		c, err := parseKline(k)
		if err != nil {
			p.logger.Warn("skipping malformed kline", zap.Int("index", i), zap.Error(err))
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

// GetLatestCandle implements Provider.
func (p *BinanceProvider) GetLatestCandle(ctx context.Context, symbol, interval string) (model.Candle, error) {
	cs, err := p.GetHistoricalCandles(ctx, symbol, interval, 1, 0)
	if err != nil {
		return model.Candle{}, err
	}
	if len(cs) == 0 {
		return model.Candle{}, fmt.Errorf("%w: %s has no klines", ErrSymbolNotFound, symbol)
	}
	return cs[len(cs)-1], nil
}

// parseKline reads [openTime, "open", "high", "low", "close", "volume", ...].
func parseKline(k []json.RawMessage) (model.Candle, error) {
	if len(k) < 6 {
		return model.Candle{}, fmt.Errorf("kline has %d fields", len(k))
	}
	var c model.Candle
	if err := json.Unmarshal(k[0], &c.T); err != nil {
		return model.Candle{}, fmt.Errorf("open time: %w", err)
	}
	for i, dst := range []*float64{&c.O, &c.H, &c.L, &c.C, &c.V} {
		var s string
		if err := json.Unmarshal(k[i+1], &s); err != nil {
			return model.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.Candle{}, fmt.Errorf("field %d: %w", i+1, err)
		}
		*dst = v
	}
	return c, nil
}
