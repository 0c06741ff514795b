// Command gateway is the trading gateway entry point. It loads configuration,
// validates it, builds the redacting logger, sets up signal handling, and runs
// the selected mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/app"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/config"
	"github.com/pumpamp/pumpamp-trading-gateway-sub000/internal/logging"
)

func main() {
	configPath := flag.String("config", "gateway.toml", "path to configuration file")
	mode := flag.String("mode", "run", "operating mode: run, pair, or simulate")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: load config %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(cfg.Gateway.Version)
		return
	}

	// Every log line goes through the redacting handler; credentials in
	// config or URLs never reach the log stream.
	logger := logging.New(os.Stdout, logging.ParseLevel(cfg.Log.Level), cfg.Log.Format)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("trading gateway starting",
		slog.String("mode", *mode),
		slog.String("config", *configPath),
		slog.String("version", cfg.Gateway.Version),
	)

	application := app.New(cfg, logger)
	defer application.Close()

	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx, *mode); err != nil {
		// context.Canceled is expected on clean shutdown.
		if errors.Is(err, context.Canceled) {
			logger.Info("application shut down gracefully")
		} else {
			logger.Error("application exited with error", slog.String("error", err.Error()))
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	}

	logger.Info("trading gateway stopped")
}
