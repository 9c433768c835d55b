package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantor/scheduler/broker"
	"github.com/quantor/scheduler/cleanup"
	"github.com/quantor/scheduler/config"
	"github.com/quantor/scheduler/db"
	"github.com/quantor/scheduler/engine"
	"github.com/quantor/scheduler/job"
	"github.com/quantor/scheduler/logger"
	"github.com/quantor/scheduler/schedule"
	"github.com/quantor/scheduler/server"
	"github.com/quantor/scheduler/version"
)

// ServeCmd runs the scheduler daemon in the foreground.
var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduler daemon",
	Long: `Run the scheduler daemon in foreground mode.

The daemon will:
- Open the job store and apply pending migrations
- Connect to the message broker and consume worker results
- Fire periodic job definitions and dispatch them to workers
- Sweep overdue jobs into retry or expiry
- Serve /health until interrupted (Ctrl+C) with graceful shutdown`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		return runServe(configPath)
	},
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.Logger

	database, err := db.Open(cfg.Store.Path, log)
	if err != nil {
		return fmt.Errorf("failed to open job store: %w", err)
	}
	defer database.Close()

	if err := db.Migrate(database, log); err != nil {
		return fmt.Errorf("failed to migrate job store: %w", err)
	}

	store := job.NewStore(database)
	consumer := engine.NewResultConsumer(store, log)

	brokerCfg := broker.DefaultConfig()
	brokerCfg.URL = cfg.Broker.URL
	brokerCfg.Exchange = cfg.Broker.Exchange
	brokerCfg.Queue = cfg.Broker.Queue
	brokerCfg.Prefetch = cfg.Broker.Prefetch
	gateway := broker.NewGateway(brokerCfg, consumer.Handle, log)

	executor := engine.NewExecutor(store, gateway, cfg.Jobs.DefaultTimeout(), cfg.Jobs.DefaultMaxAttempts, log)

	checkerCfg := engine.DefaultCheckerConfig()
	checkerCfg.BatchSize = cfg.Checker.BatchSize
	checkerCfg.PendingGrace = cfg.Checker.PendingGrace()
	checker := engine.NewChecker(store, executor, nil, checkerCfg, log)

	scheduler := schedule.New(executor, schedule.DefaultConfig(), log)
	scheduler.RegisterTask("overdue-checker", schedule.Every(cfg.Checker.Interval()), checker.Sweep)
	cleanup.RegisterAll(scheduler, cleanup.Settings{
		Interval:    cfg.Cleanup.Interval(),
		Timeout:     cfg.Cleanup.Timeout(),
		MaxAttempts: cfg.Cleanup.MaxAttempts,
	})

	httpServer := server.New(cfg.HTTP.Addr, gateway, store, version.Get().Version, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := gateway.Start(ctx); err != nil {
		return fmt.Errorf("failed to start broker gateway: %w", err)
	}
	scheduler.Start(ctx)
	httpServer.Start()

	log.Infow("Scheduler daemon started",
		"store", cfg.Store.Path,
		"exchange", cfg.Broker.Exchange,
		"checker_interval", cfg.Checker.Interval(),
		"http_addr", cfg.HTTP.Addr,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Infow("Shutting down")

	// Stop components in reverse order of startup. The HTTP server goes
	// first so health stops reporting ready, then no new dispatches, then
	// the broker connection.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Stop(shutdownCtx); err != nil {
		log.Warnw("HTTP server shutdown failed", "error", err)
	}
	scheduler.Stop()
	gateway.Stop()

	log.Infow("Scheduler daemon stopped")
	return nil
}
