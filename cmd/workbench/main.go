// cmd/workbench runs the market-data workbench: feed client, SQLite cache,
// indicator engine, HTTP API and WebSocket gateway in one process.
//
// Configuration comes from an optional YAML file (-config) overlaid with
// WORKBENCH_* environment variables, e.g. WORKBENCH_FEED_URL=ws://localhost:9001/ws.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"market-workbench/config"
	"market-workbench/internal/app"
	"market-workbench/internal/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "workbench: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New("workbench", cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "workbench: init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if logger.ParseLevel(cfg.Logging.Level) > zap.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to build workbench", zap.Error(err))
	}
	log.Info("workbench starting",
		zap.String("feed_url", cfg.Feed.URL),
		zap.String("cache", cfg.Cache.Path),
		zap.String("history", cfg.History.Provider),
		zap.Strings("relay_sinks", a.Relay.Sinks()),
	)

	runErr := a.Run(ctx)
	if err := a.Close(); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}
	if runErr != nil {
		log.Error("workbench stopped with error", zap.Error(runErr))
		os.Exit(1)
	}
	log.Info("workbench stopped")
}
