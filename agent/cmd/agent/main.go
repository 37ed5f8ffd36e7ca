package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aeroledger/aeroledger/agent/internal/compute"
	"github.com/aeroledger/aeroledger/agent/internal/config"
	"github.com/aeroledger/aeroledger/agent/internal/security"
	"github.com/aeroledger/aeroledger/agent/internal/shipper"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("aeroledger-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"server_url", cfg.Agent.ServerURL,
		"devices", len(cfg.Agent.Devices),
		"scrape_interval", cfg.Agent.ScrapeInterval,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	act := shipper.NewDeviceActuator(cfg.Agent.Devices)
	ship, err := shipper.New(cfg.Agent, act)
	if err != nil {
		slog.Error("failed to build shipper", "err", err)
		os.Exit(1)
	}
	go ship.Run(ctx)

	fl := newFleet(compute.NewEngine(), ship.Ship)
	if fl.set(cfg.Agent.Devices) == 0 {
		slog.Warn("no devices configured, agent will idle")
	}

	// Device list and actuator URLs follow the config file. Server URL,
	// auth and scrape interval need a restart.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			n := fl.set(updated.Agent.Devices)
			act.Update(updated.Agent.Devices)
			slog.Info("config hot-reloaded", "devices", n)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	go fl.run(ctx, cfg.Agent.ScrapeInterval)
	go certLoop(ctx, fl)

	<-ctx.Done()
	slog.Info("aeroledger-agent shutting down", "unsent_samples", ship.Pending())
}

// certCheckInterval is how often exporter TLS certificates are inspected.
const certCheckInterval = 12 * time.Hour

// certLoop warns about expiring exporter certificates at startup and then
// every certCheckInterval.
func certLoop(ctx context.Context, fl *fleet) {
	security.Report(ctx, fl.configs())
	ticker := time.NewTicker(certCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			security.Report(ctx, fl.configs())
		}
	}
}
