package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"marketsim/internal/api"
	"marketsim/internal/config"
	"marketsim/internal/game"
	"marketsim/internal/scenario"
	"marketsim/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config.LoadDotEnv()
	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	st, closeStore, err := store.Open(ctx, cfg.Store, "msim-api")
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

	gameSvc := game.NewService(st, catalog, logger)
	gameSvc.SetRoundDuration(cfg.RoundDuration)

	server := api.New(cfg, logger, gameSvc)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("msim api listening", "addr", cfg.Addr, "store", cfg.Store.Kind)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
