// Package main запускает HTTP-сервер сервиса доски вакансий.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/jobboard-system/internal/config"
	"github.com/mmeshcher/jobboard-system/internal/handler"
	"github.com/mmeshcher/jobboard-system/internal/middleware"
	"github.com/mmeshcher/jobboard-system/internal/payment"
	"github.com/mmeshcher/jobboard-system/internal/repository"
	"github.com/mmeshcher/jobboard-system/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	var processor service.Processor
	if cfg.PaymentSystemAddress != "" {
		processor = payment.NewClient(cfg.PaymentSystemAddress)
	} else {
		sugar.Warn("payment system address is not set, paid plans will be unavailable")
	}

	svc := service.NewService(repo, processor, sugar)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware("jobboard-secret")
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск фоновой очистки истёкших вакансий и брошенных платежей
	g.Go(func() error {
		return svc.StartExpirationSweep(ctx, cfg.ExpireSweepSpec)
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting jobboard server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
