// Package api exposes the workbench over HTTP: watchlist, cached market
// data, indicators, settings and feed control under /api/v1, plus the
// live WebSocket at /ws.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"market-workbench/internal/feed"
	"market-workbench/internal/gateway"
	"market-workbench/internal/history"
	"market-workbench/internal/indicator"
	"market-workbench/internal/metrics"
	"market-workbench/internal/model"
	"market-workbench/internal/settings"
	"market-workbench/internal/store/sqlite"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Store is the part of the cache the API reads and writes directly.
type Store interface {
	model.SymbolStore
	model.TradeStore
	model.OrderBookStore
	GetCacheInfo(ctx context.Context, symbol, interval string) (model.CandleCacheInfo, error)
	GetCandlesInRange(ctx context.Context, symbol, interval string, start, end int64) ([]model.Candle, error)
	GetTradesInRange(ctx context.Context, symbol string, start, end int64) ([]model.Trade, error)
	UpdateSymbol(ctx context.Context, id string, patch sqlite.SymbolPatch) error
}

// LiveCandles exposes the newest streamed bar per symbol.
type LiveCandles interface {
	LiveCandle(symbol, interval string) (model.Candle, bool)
}

// Candles serves candle series with cache/network provenance.
type Candles interface {
	GetCandles(ctx context.Context, symbol, interval string, limit int) (history.Result, error)
	RefreshCandles(ctx context.Context, symbol, interval string, limit int) (history.Result, error)
}

// Indicators computes indicators off the request goroutine.
type Indicators interface {
	Compute(candles []model.Candle, req indicator.Request) *indicator.Future[indicator.Result]
}

// Feed controls the upstream connection.
type Feed interface {
	State() feed.State
	Connect()
	Disconnect(ctx context.Context) error
	Subscribe(symbol string)
	Unsubscribe(symbol string)
	Subscriptions(ctx context.Context) ([]string, error)
}

// Replayer backfills gateway envelopes.
type Replayer interface {
	Replay(channel string, from, to int64) []json.RawMessage
	Seq(channel string) int64
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// Deps are the services behind the routes.
type Deps struct {
	Store      Store
	Candles    Candles
	Indicators Indicators
	Live       LiveCandles // optional
	Settings   *settings.Service
	Feed       Feed
	Gateway    Replayer
	Health     *metrics.Health // optional
}

// NewRouter builds the gin engine.
func NewRouter(d Deps, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "api"))

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestID())
	router.Use(Logger(logger))

	if d.Gateway != nil {
		router.GET("/ws", gin.WrapF(d.Gateway.ServeWS))
	}

	v1 := router.Group("/api/v1")
	v1.GET("/health", healthHandler(d.Health))

	symbols := &symbolHandler{store: d.Store, logger: logger}
	v1.GET("/symbols", symbols.list)
	v1.GET("/symbols/search", symbols.search)
	v1.GET("/symbols/pinned", symbols.pinned)
	v1.POST("/symbols", symbols.add)
	v1.PATCH("/symbols/:id", symbols.update)
	v1.DELETE("/symbols/:id", symbols.remove)
	v1.POST("/symbols/:id/pin", symbols.pin)
	v1.DELETE("/symbols/:id/pin", symbols.unpin)

	market := &marketHandler{store: d.Store, candles: d.Candles, indicators: d.Indicators, live: d.Live, logger: logger}
	v1.GET("/candles/:symbol", market.getCandles)
	v1.POST("/candles/:symbol/refresh", market.refreshCandles)
	v1.GET("/candles/:symbol/info", market.cacheInfo)
	v1.GET("/trades/:symbol", market.trades)
	v1.GET("/trades/:symbol/stats", market.tradeStats)
	v1.DELETE("/trades/:symbol/old", market.purgeTrades)
	v1.GET("/orderbook/:symbol", market.orderBook)
	v1.GET("/orderbook/:symbol/stats", market.orderBookStats)
	v1.GET("/indicators/:symbol", market.computeIndicators)

	if d.Settings != nil {
		st := &settingsHandler{svc: d.Settings, logger: logger}
		v1.GET("/settings", st.get)
		v1.PUT("/settings", st.update)
		v1.DELETE("/settings", st.reset)
		v1.GET("/settings/export", st.export)
		v1.POST("/settings/import", st.importSettings)
	}

	if d.Feed != nil {
		fh := &feedHandler{feed: d.Feed, logger: logger}
		v1.GET("/feed/status", fh.status)
		v1.POST("/feed/connect", fh.connect)
		v1.POST("/feed/disconnect", fh.disconnect)
		v1.POST("/feed/subscriptions/:symbol", fh.subscribe)
		v1.DELETE("/feed/subscriptions/:symbol", fh.unsubscribe)
	}

	if d.Gateway != nil {
		v1.GET("/replay", replayHandler(d.Gateway))
	}

	return router
}

func healthHandler(h *metrics.Health) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h == nil {
			c.JSON(http.StatusOK, gin.H{"status": metrics.StatusHealthy})
			return
		}
		r := h.Report()
		code := http.StatusOK
		if r.Status == metrics.StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, r)
	}
}

func replayHandler(g Replayer) gin.HandlerFunc {
	return func(c *gin.Context) {
		channel := c.Query("channel")
		if gateway.ChannelSymbol(channel) == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "channel must look like kind:SYMBOL"})
			return
		}
		from, err1 := strconv.ParseInt(c.DefaultQuery("from", "1"), 10, 64)
		to, err2 := strconv.ParseInt(c.DefaultQuery("to", strconv.FormatInt(g.Seq(channel), 10)), 10, 64)
		if err1 != nil || err2 != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from and to must be integers"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"channel":   channel,
			"seq":       g.Seq(channel),
			"envelopes": g.Replay(channel, from, to),
		})
	}
}

// writeError maps domain errors onto status codes.
func writeError(c *gin.Context, err error) {
	var verr *model.ValidationError
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, sqlite.ErrNotFound), errors.Is(err, history.ErrSymbolNotFound):
		code = http.StatusNotFound
	case errors.As(err, &verr), errors.Is(err, settings.ErrInvalidSettings):
		code = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		code = http.StatusGatewayTimeout
	}
	_ = c.Error(err)
	c.JSON(code, gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// intQuery parses an optional positive integer query parameter.
func intQuery(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		badRequest(c, name+" must be a positive integer")
		return 0, false
	}
	return n, true
}

// rangeQuery reads optional start/end epoch-ms bounds. ranged is false when
// neither is given; a missing end means now.
func rangeQuery(c *gin.Context, now func() time.Time) (start, end int64, ranged, ok bool) {
	rawStart, rawEnd := c.Query("start"), c.Query("end")
	if rawStart == "" && rawEnd == "" {
		return 0, 0, false, true
	}
	end = now().UnixMilli()
	var err error
	if rawStart != "" {
		if start, err = strconv.ParseInt(rawStart, 10, 64); err != nil || start < 0 {
			badRequest(c, "start must be a non-negative epoch-ms integer")
			return 0, 0, false, false
		}
	}
	if rawEnd != "" {
		if end, err = strconv.ParseInt(rawEnd, 10, 64); err != nil || end < 0 {
			badRequest(c, "end must be a non-negative epoch-ms integer")
			return 0, 0, false, false
		}
	}
	if start > end {
		badRequest(c, "start must not be after end")
		return 0, 0, false, false
	}
	return start, end, true, true
}
