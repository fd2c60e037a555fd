package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"market_go/internal/api"
	"market_go/internal/app"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to config file")
	dumpPath := flag.String("dump", "", "write a state dump here on shutdown")
	flag.Parse()

	// 1. System Bootstrapping
	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("❌ Bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer bootstrap.Close()

	// 2. Graceful Shutdown Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := bootstrap.Config

	// 3. Simulated ticks (started exactly once)
	if cfg.Simulation.Enabled {
		sim, err := bootstrap.Engine.StartSimulation(ctx)
		if err != nil {
			slog.Error("Failed to start simulation", slog.Any("error", err))
			os.Exit(1)
		}
		defer sim.Stop()
		slog.InfoContext(ctx, "✅ Market simulation started", slog.Duration("interval", cfg.SimulationInterval()))
	}

	// 4. UI boundary
	server := api.NewServer(bootstrap.Market, bootstrap.Theme, bootstrap.Metrics)
	server.SetCORSOrigins(cfg.Server.CORSOrigins)

	slog.InfoContext(ctx, "✨ Market Go fully operational. Press Ctrl+C to exit.")
	if err := server.ListenAndServe(ctx, cfg.Server.Addr); err != nil {
		slog.Error("HTTP server failed", slog.Any("error", err))
	}

	slog.Info("👋 Shutting down gracefully...")
	if *dumpPath != "" {
		if err := bootstrap.Engine.DumpState(*dumpPath); err != nil {
			slog.Error("Failed to dump state", slog.Any("error", err))
		}
	}
}
