package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/aeroledger/aeroledger/server/internal/alerts"
	"github.com/aeroledger/aeroledger/server/internal/api"
	"github.com/aeroledger/aeroledger/server/internal/archive"
	"github.com/aeroledger/aeroledger/server/internal/audit"
	"github.com/aeroledger/aeroledger/server/internal/config"
	"github.com/aeroledger/aeroledger/server/internal/control"
	"github.com/aeroledger/aeroledger/server/internal/fault"
	"github.com/aeroledger/aeroledger/server/internal/healing"
	"github.com/aeroledger/aeroledger/server/internal/history"
	"github.com/aeroledger/aeroledger/server/internal/judgment"
	"github.com/aeroledger/aeroledger/server/internal/ledger"
	"github.com/aeroledger/aeroledger/server/internal/pipeline"
	"github.com/aeroledger/aeroledger/server/internal/receiver"
	"github.com/aeroledger/aeroledger/server/internal/telemetry"
	"github.com/aeroledger/aeroledger/server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("aeroledger-server starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	sc := cfg.Server

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(sc.LogLevel)}))
	slog.SetDefault(logger)

	slog.Info("config loaded",
		"http_port", sc.HTTPPort,
		"auth_mode", sc.Auth.Mode,
		"provider", sc.Judgment.Provider,
		"model", sc.Judgment.Model,
		"ledger", sc.Ledger.Backend,
		"archive", sc.Archive.Enabled,
	)

	if err := run(*configPath, cfg); err != nil {
		slog.Error("aeroledger-server stopped", "err", err)
		os.Exit(1)
	}
}

func run(configPath string, cfg *config.Config) error {
	sc := cfg.Server

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.InitTracing(ctx, sc.Telemetry)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown", "err", err)
		}
	}()

	// Audit ledger and the non-blocking emitter in front of it.
	led, err := ledger.Open(ctx, sc.Ledger)
	if err != nil {
		return err
	}
	defer led.Close() //nolint:errcheck
	emitter := audit.New(led, sc.Audit.QueueSize, sc.Audit.AppendTimeout)

	arc, err := archive.Open(sc.Archive)
	if err != nil {
		return err
	}
	defer arc.Close()

	// Judgment capabilities behind one guarded provider client.
	llm, err := judgment.NewLLM(sc.Judgment)
	if err != nil {
		return err
	}
	agents := judgment.NewAgents(llm, judgment.NewGuard(sc.Judgment))

	st := history.New(sc.History.Capacity, sc.History.Window, sc.History.OnlineWindow)
	detector := fault.NewDetector(fault.ConfigFrom(sc.Detector))
	supervisor := healing.New()
	ctl := control.New(sc.Control.Levels)

	orch := pipeline.New(pipeline.Deps{
		Detector:   detector,
		Healer:     supervisor,
		Predictor:  agents,
		Classifier: agents,
		Decider:    agents,
		Emitter:    emitter,
		Levels:     sc.Control.Levels,
	})
	recv := receiver.New(sc.Ingest, st, orch, ctl, arc, emitter)

	// WebSocket hub: device overview every tick plus every appended audit event.
	hub := ws.New(func() any { return api.BuildDevices(st, supervisor, ctl) }, sc.Broadcast)
	emitter.Subscribe(hub)

	alertEngine := alerts.New(sc.Alerts)
	emitter.Subscribe(alertEngine)
	if n := len(sc.Alerts.Rules); n > 0 {
		slog.Info("alert rules loaded", "rules", n, "webhooks", len(sc.Alerts.Webhooks))
	}

	gin.SetMode(gin.ReleaseMode)
	httpSrv := &http.Server{
		Addr: fmt.Sprintf(":%d", sc.HTTPPort),
		Handler: api.New(api.Deps{
			Store:       st,
			Ingester:    recv,
			Control:     ctl,
			Healing:     supervisor,
			Ledger:      led,
			Audit:       emitter,
			Alerts:      alertEngine,
			Stream:      hub,
			Auth:        sc.Auth,
			ServiceName: sc.Telemetry.ServiceName,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// The emitter outlives the HTTP server so in-flight cycles still get audited.
	auditCtx, stopAudit := context.WithCancel(context.Background())
	auditDone := make(chan struct{})
	go func() {
		defer close(auditDone)
		emitter.Run(auditCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		st.Run(gctx, sc.History.Retention)
		return nil
	})
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		err := config.Watch(gctx, configPath, func(next *config.Config) {
			detector.Update(fault.ConfigFrom(next.Server.Detector))
			st.SetWindow(next.Server.History.Window)
			slog.Info("config reloaded",
				"stuck_threshold", next.Server.Detector.StuckThreshold,
				"window", next.Server.History.Window,
			)
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		}
		return nil
	})
	g.Go(func() error {
		slog.Info("HTTP server listening", "port", sc.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("aeroledger-server shutting down")
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		return httpSrv.Shutdown(sctx)
	})

	err = g.Wait()

	stopAudit()
	<-auditDone
	s := emitter.Stats()
	slog.Info("audit emitter stopped", "appended", s.Appended, "failed", s.Failed, "dropped", s.Dropped)
	return err
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}
