package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketsim/internal/config"
	"marketsim/internal/game"
	"marketsim/internal/scenario"
	"marketsim/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config.LoadDotEnv()
	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	st, closeStore, err := store.Open(ctx, cfg.Store, "msim-worker")
	if err != nil {
		logger.Error("store open failed", "store", cfg.Store.Kind, "err", err)
		os.Exit(1)
	}
	defer closeStore()

	catalog := scenario.Default()
	if cfg.ScenariosFile != "" {
		catalog, err = scenario.Load(cfg.ScenariosFile)
		if err != nil {
			logger.Error("load scenarios failed", "path", cfg.ScenariosFile, "err", err)
			os.Exit(1)
		}
	}
	svc := game.NewService(st, catalog, logger)

	if cfg.RunOnce {
		n, err := svc.AdvanceOverdue(ctx, time.Now().UTC())
		if err != nil {
			logger.Error("sweep failed", "advanced", n, "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed", "advanced", n)
		return
	}

	ticker := time.NewTicker(cfg.TickEvery)
	defer ticker.Stop()

	logger.Info("worker started", "tick_every", cfg.TickEvery.String(), "store", cfg.Store.Kind)
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker shutdown")
			return
		case <-ticker.C:
			n, err := svc.AdvanceOverdue(ctx, time.Now().UTC())
			if err != nil {
				logger.Error("sweep failed", "advanced", n, "err", err)
				continue
			}
			if n > 0 {
				logger.Info("overdue rounds advanced", "advanced", n)
			}
		}
	}
}
