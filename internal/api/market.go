package api

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"market-workbench/internal/history"
	"market-workbench/internal/indicator"
	"market-workbench/internal/model"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultInterval   = "1m"
	defaultTradeLimit = 100
	defaultTradeAge   = 24 * time.Hour
)

type marketHandler struct {
	store      Store
	candles    Candles
	indicators Indicators
	live       LiveCandles
	logger     *zap.Logger
}

func symbolParam(c *gin.Context) string {
	return strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
}

// seriesParams reads symbol, interval and limit shared by the candle and
// indicator routes.
func seriesParams(c *gin.Context) (symbol, interval string, limit int, ok bool) {
	symbol = symbolParam(c)
	interval = c.DefaultQuery("interval", defaultInterval)
	if !model.ValidInterval(interval) {
		badRequest(c, "unsupported interval "+strconv.Quote(interval))
		return "", "", 0, false
	}
	limit, ok = intQuery(c, "limit", history.DefaultLimit)
	return symbol, interval, limit, ok
}

func (h *marketHandler) getCandles(c *gin.Context) {
	symbol, interval, limit, ok := seriesParams(c)
	if !ok {
		return
	}
	start, end, ranged, ok := rangeQuery(c, time.Now)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	if ranged {
		cs, err := h.store.GetCandlesInRange(ctx, symbol, interval, start, end)
		if err != nil {
			writeError(c, err)
			return
		}
		writeCandles(c, symbol, interval, history.Result{Candles: cs, Source: history.SourceCache})
		return
	}
	res, err := h.series(ctx, symbol, interval, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	writeCandles(c, symbol, interval, res)
}

// series is the cached or fetched history with the streamed bar merged in.
func (h *marketHandler) series(ctx context.Context, symbol, interval string, limit int) (history.Result, error) {
	res, err := h.candles.GetCandles(ctx, symbol, interval, limit)
	if err != nil {
		return res, err
	}
	res.Candles = h.mergeLive(symbol, interval, limit, res.Candles)
	return res, nil
}

func (h *marketHandler) mergeLive(symbol, interval string, limit int, cs []model.Candle) []model.Candle {
	if h.live == nil {
		return cs
	}
	bar, ok := h.live.LiveCandle(symbol, interval)
	if !ok || (len(cs) > 0 && bar.T < cs[0].T) {
		return cs
	}
	merged := model.MergeCandles(cs, []model.Candle{bar})
	if limit > 0 && len(merged) > limit {
		merged = merged[len(merged)-limit:]
	}
	return merged
}

func (h *marketHandler) refreshCandles(c *gin.Context) {
	symbol, interval, limit, ok := seriesParams(c)
	if !ok {
		return
	}
	res, err := h.candles.RefreshCandles(c.Request.Context(), symbol, interval, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	res.Candles = h.mergeLive(symbol, interval, limit, res.Candles)
	writeCandles(c, symbol, interval, res)
}

func writeCandles(c *gin.Context, symbol, interval string, res history.Result) {
	c.Header("X-Cache-Source", string(res.Source))
	body := gin.H{
		"symbol":   symbol,
		"interval": interval,
		"source":   res.Source,
		"stale":    res.Stale,
		"count":    len(res.Candles),
		"candles":  res.Candles,
	}
	if res.Err != nil {
		body["error"] = res.Err.Error()
	}
	c.JSON(http.StatusOK, body)
}

func (h *marketHandler) cacheInfo(c *gin.Context) {
	symbol := symbolParam(c)
	interval := c.DefaultQuery("interval", defaultInterval)
	info, err := h.store.GetCacheInfo(c.Request.Context(), symbol, interval)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "interval": interval, "info": info})
}

func (h *marketHandler) trades(c *gin.Context) {
	symbol := symbolParam(c)
	limit, ok := intQuery(c, "limit", defaultTradeLimit)
	if !ok {
		return
	}
	start, end, ranged, ok := rangeQuery(c, time.Now)
	if !ok {
		return
	}
	var (
		trades []model.Trade
		err    error
	)
	if ranged {
		trades, err = h.store.GetTradesInRange(c.Request.Context(), symbol, start, end)
	} else {
		trades, err = h.store.GetTrades(c.Request.Context(), symbol, limit)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "count": len(trades), "trades": trades})
}

func (h *marketHandler) tradeStats(c *gin.Context) {
	symbol := symbolParam(c)
	stats, err := h.store.GetTradeStats(c.Request.Context(), symbol)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "stats": stats})
}

func (h *marketHandler) purgeTrades(c *gin.Context) {
	symbol := symbolParam(c)
	maxAge := defaultTradeAge
	if raw := c.Query("maxAge"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			badRequest(c, "maxAge must be a positive duration such as 1h")
			return
		}
		maxAge = d
	}
	n, err := h.store.PurgeTradesOlderThan(c.Request.Context(), symbol, maxAge)
	if err != nil {
		writeError(c, err)
		return
	}
	h.logger.Info("trades purged", zap.String("symbol", symbol), zap.Int64("deleted", n), zap.Duration("max_age", maxAge))
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "deleted": n})
}

func (h *marketHandler) orderBook(c *gin.Context) {
	symbol := symbolParam(c)
	ob, err := h.store.GetLatestOrderBook(c.Request.Context(), symbol)
	if err != nil {
		writeError(c, err)
		return
	}
	body := gin.H{"orderBook": ob}
	if spread, ok := ob.Spread(); ok {
		body["spread"] = spread
	}
	if mid, ok := ob.MidPrice(); ok {
		body["midPrice"] = mid
	}
	c.JSON(http.StatusOK, body)
}

func (h *marketHandler) orderBookStats(c *gin.Context) {
	symbol := symbolParam(c)
	stats, err := h.store.GetOrderBookStats(c.Request.Context(), symbol)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "stats": stats})
}

// computeIndicators computes over the same series GET /candles would return.
func (h *marketHandler) computeIndicators(c *gin.Context) {
	symbol, interval, limit, ok := seriesParams(c)
	if !ok {
		return
	}
	req := indicator.Request{Kind: indicator.Kind(c.DefaultQuery("kind", string(indicator.KindAll)))}
	if !req.Kind.Valid() {
		badRequest(c, "unknown indicator kind "+strconv.Quote(string(req.Kind)))
		return
	}
	if raw := c.Query("period"); raw != "" {
		p, err := strconv.Atoi(raw)
		if err != nil || p <= 0 {
			badRequest(c, "period must be a positive integer")
			return
		}
		req.Period = p
	}
	if raw := c.Query("stdDev"); raw != "" {
		sd, err := strconv.ParseFloat(raw, 64)
		if err != nil || sd <= 0 || math.IsNaN(sd) || math.IsInf(sd, 0) {
			badRequest(c, "stdDev must be a positive finite number")
			return
		}
		req.StdDev = sd
	}

	ctx := c.Request.Context()
	series, err := h.series(ctx, symbol, interval, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := h.indicators.Compute(series.Candles, req).Wait(ctx)
	if err != nil {
		writeError(c, err)
		return
	}

	times := make([]int64, len(series.Candles))
	for i, cd := range series.Candles {
		times[i] = cd.T
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":   symbol,
		"interval": interval,
		"source":   series.Source,
		"times":    times,
		"result":   res,
	})
}
