// Package main - точка входа для фонового процесса (Worker) AtCoder Ranking Hub.
//
// Worker отвечает за:
// - Опрос ленты посылок и начисление очков
// - Синхронизацию каталога задач и рейтингов
// - Закрытие недели и итоговый отчёт (понедельник 07:00 JST)
// - Обработку доменных событий (кеш рейтинга, уведомления)
//
// HTTP API поднимается здесь же, если HTTP_ENABLED=true: тогда
// доступны и ручной запуск задач, и их история.
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
	// ─────────────────────────────────────────────────────────────────────────
	// 1. КОНФИГУРАЦИЯ И ЛОГИРОВАНИЕ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := app.NewLogger(cfg)
	log.Info("starting AtCoder Ranking Hub worker",
		logger.String("version", cfg.App.Version),
		logger.String("driver", cfg.Database.Driver),
		logger.Bool("scheduler", cfg.Scheduler.Enabled),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. СБОРКА ПРИЛОЖЕНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	a, err := app.New(ctx, cfg, log, app.RoleWorker)
	if err != nil {
		return err
	}
	defer a.Close()

	// ─────────────────────────────────────────────────────────────────────────
	// 3. ПЛАНИРОВЩИК
	// ─────────────────────────────────────────────────────────────────────────
	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer a.Stop()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. HTTP (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	var serverErr <-chan error
	srv := a.NewHTTPServer()
	if cfg.HTTP.Enabled {
		serverErr = srv.StartAsync()
	}

	log.Info("worker is running")

	// ─────────────────────────────────────────────────────────────────────────
	// 5. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			log.Error("http server failed", logger.Err(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown failed", logger.Err(err))
	}

	log.Info("shutdown completed")
	return nil
}
