// cmd/feedserver serves simulated market data over WebSocket in the feed
// protocol, so the workbench can run against ws:// without an exchange.
//
// Each connection gets its own sim.Session over one shared generator. The
// client subscribes per symbol and receives trade, candle and orderbook
// frames:
//
//	{"type":"trade","symbol":"BTCUSDT","data":{...}}
//
// Config (env vars):
//
//	FEEDSERVER_ADDR        listen address (default ":9001")
//	FEEDSERVER_TICK        per-symbol emission period (default "250ms")
//	FEEDSERVER_INTERVAL    candle interval tag (default "1m")
//	FEEDSERVER_VOLATILITY  max fractional move per step (default 0.001)
//	FEEDSERVER_SEED        fixed random seed, 0 for clock (default 0)
//	FEEDSERVER_LOG_LEVEL   zap level (default "info")
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"market-workbench/internal/feed"
	"market-workbench/internal/logger"
	"market-workbench/internal/marketdata/sim"

	"github.com/gorilla/websocket"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

func loadConfig() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("feedserver")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("addr", ":9001")
	v.SetDefault("tick", "250ms")
	v.SetDefault("interval", "1m")
	v.SetDefault("volatility", 0.001)
	v.SetDefault("seed", 0)
	v.SetDefault("log_level", "info")
	return v
}

// wsHandler bridges one WebSocket connection to a fresh session.
func wsHandler(gen *sim.Generator, tick time.Duration, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("upgrade failed", zap.Error(err))
			return
		}
		log.Info("client connected", zap.String("remote", r.RemoteAddr))

		sess := sim.NewSession(gen, tick)
		defer func() {
			sess.Close()
			conn.Close()
			log.Info("client disconnected", zap.String("remote", r.RemoteAddr), zap.Strings("subscriptions", sess.Subscriptions()))
		}()

		// read pump: control frames from the client
		go func() {
			defer sess.Close()
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				if err := sess.WriteMessage(msg); err != nil {
					log.Debug("bad control frame", zap.Error(err))
				}
			}
		}()

		// write pump: session frames to the client
		for {
			msg, err := sess.ReadMessage()
			if err != nil {
				if !errors.Is(err, feed.ErrNormalClosure) {
					log.Warn("session read failed", zap.Error(err))
				}
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func main() {
	cfg := loadConfig()
	log, err := logger.New("feedserver", cfg.GetString("log_level"))
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	tick := cfg.GetDuration("tick")
	gen := sim.NewGenerator(sim.Config{
		CandleInterval: cfg.GetString("interval"),
		Volatility:     cfg.GetFloat64("volatility"),
		Seed:           cfg.GetInt64("seed"),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", wsHandler(gen, tick, log))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"feedserver"}`))
	})

	addr := cfg.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("feed server listening", zap.String("addr", addr), zap.Duration("tick", tick))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown failed", zap.Error(err))
	}
}
