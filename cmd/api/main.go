// Package main - точка входа для HTTP API AtCoder Ranking Hub.
//
// API только читает рейтинг и отчёты и принимает админские команды
// (пользователи, цели, настройки). Опрос ленты и закрытие недели живут в
// worker; события уходят к нему через шину.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ac-hub/atcoder-ranking-hub/config"
	"github.com/ac-hub/atcoder-ranking-hub/internal/app"
	"github.com/ac-hub/atcoder-ranking-hub/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := app.NewLogger(cfg)
	log.Info("starting AtCoder Ranking Hub API",
		logger.String("version", cfg.App.Version),
		logger.String("addr", cfg.HTTP.Addr),
	)
	if cfg.HTTP.AdminKeyHash == "" {
		log.Warn("ADMIN_KEY_HASH is not set, admin routes are disabled")
	}

	a, err := app.New(ctx, cfg, log, app.RoleAPI)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := a.NewHTTPServer()
	serverErr := srv.StartAsync()

	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-serverErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown failed: %w", err)
	}

	log.Info("shutdown completed")
	return nil
}
