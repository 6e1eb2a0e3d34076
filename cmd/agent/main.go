// Package main is the adaptivefps agent entrypoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/mg7d/adaptivefps/internal/actions"
	"github.com/mg7d/adaptivefps/internal/agent"
	"github.com/mg7d/adaptivefps/internal/api"
	"github.com/mg7d/adaptivefps/internal/config"
	"github.com/mg7d/adaptivefps/internal/host"
	"github.com/mg7d/adaptivefps/internal/logtail"
	"github.com/mg7d/adaptivefps/internal/metrics"
	"github.com/mg7d/adaptivefps/internal/settings"
	"github.com/mg7d/adaptivefps/internal/state"
	"github.com/mg7d/adaptivefps/internal/status"
	"github.com/mg7d/adaptivefps/internal/telnet"
)

const restoreTimeout = 5 * time.Second

func main() {
	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	store := settings.NewFileStore(cfg.Settings.Path, cfg.Settings.Defaults())
	userSettings, err := store.Load()
	switch {
	case errors.Is(err, settings.ErrInvalidTier):
		logger.Warn("stored settings hold an unknown tier, using defaults", zap.String("path", store.Path()), zap.Error(err))
		userSettings = cfg.Settings.Defaults()
	case err != nil:
		logger.Fatal("settings load failed", zap.String("path", store.Path()), zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	// I/O outlives the tick so the restore write on shutdown can still reach the console.
	ioCtx, ioCancel := context.WithCancel(context.Background())
	defer ioCancel()

	var lifecycle conc.WaitGroup

	audit := state.NewAuditRing(cfg.Host.AuditSize)
	metricsReg := metrics.NewRegistry()
	ticker := host.NewTicker(clockwork.NewRealClock(), cfg.Host.TickInterval)

	var writer host.Enqueuer
	if cfg.Telnet.Enabled() {
		client := telnet.NewClient(telnet.Config{
			Host:               cfg.Telnet.Host,
			Port:               cfg.Telnet.Port,
			Password:           cfg.Telnet.Password,
			RateLimitPerSec:    cfg.Telnet.RateLimitPerSec,
			CommandTimeout:     cfg.Telnet.CommandTimeout,
			CircuitBreakAfter:  cfg.Telnet.CircuitBreakAfter,
			CircuitBreakWindow: cfg.Telnet.CircuitBreakWindow,
		}, logger)
		applier := actions.NewApplier(client, audit, actions.Options{
			QueueSize: cfg.Host.QueueSize,
			Option:    cfg.Host.CapOption,
			Logger:    logger,
		})
		writer = applier
		lifecycle.Go(func() { client.Run(ioCtx) })
		lifecycle.Go(func() { applier.Run(ioCtx) })
	} else {
		logger.Warn("no console configured, cap writes are disabled")
	}

	logHost := host.NewLogHost(ticker, writer, host.LogHostOptions{
		StaleAfter: cfg.Host.StaleAfter,
		Logger:     logger,
	})

	tailer, err := logtail.NewTailer(cfg.Host.LogPath, logtail.Options{Logger: logger})
	if err != nil {
		logger.Fatal("tailer create failed", zap.String("log_path", cfg.Host.LogPath), zap.Error(err))
	}
	lifecycle.Go(func() {
		if err := tailer.Run(ioCtx); err != nil && ioCtx.Err() == nil {
			logger.Error("tailer exited", zap.Error(err))
		}
	})
	lifecycle.Go(func() { logHost.Consume(ioCtx, tailer.Lines()) })

	var surfaces []status.Surface
	if cfg.Status.File != "" {
		surfaces = append(surfaces, status.NewFileSink(cfg.Status.File, logger))
	}
	a := agent.New(agent.Options{
		Source:           logHost,
		Writer:           logHost,
		Store:            store,
		Settings:         userSettings,
		Surfaces:         surfaces,
		Observer:         metricsReg,
		Logger:           logger,
		ResetCombat:      cfg.Settings.ResetCombatCap,
		ResetOutOfCombat: cfg.Settings.ResetOutOfCombatCap,
	})
	a.Start()
	lifecycle.Go(func() { ticker.Run(ctx) })

	apiOpts := api.Options{
		Listen:    cfg.API.Listen,
		AuthToken: cfg.API.AuthToken,
		Engine:    a.Engine(),
		Entry:     a.Entry(),
		Commands:  a.Commands(),
		Audit:     audit,
		Logger:    logger,
	}
	if cfg.Metrics.Enable {
		apiOpts.Metrics = metricsReg.Handler()
		apiOpts.MetricsPath = cfg.Metrics.Path
	}
	srv := api.NewServer(apiOpts)
	lifecycle.Go(func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server failed", zap.Error(err))
		}
	})

	logger.Info("agent running",
		zap.String("log_path", cfg.Host.LogPath),
		zap.Duration("tick", cfg.Host.TickInterval),
		zap.Bool("console", cfg.Telnet.Enabled()))
	<-ctx.Done()
	logger.Info("agent shutting down")

	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Warn("api shutdown", zap.Error(err))
	}
	stopCtx, stopCancel := context.WithTimeout(context.Background(), restoreTimeout)
	if err := a.Stop(stopCtx); err != nil {
		logger.Warn("user cap not restored, will retry on next start", zap.Error(err))
	}
	stopCancel()
	ioCancel()
	lifecycle.Wait()
}

func newLogger(cfg config.Log) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = level
	return zcfg.Build()
}
