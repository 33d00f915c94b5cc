// Package main запускает HTTP-сервер сервиса доставки воды.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/water-delivery-system/internal/config"
	"github.com/mmeshcher/water-delivery-system/internal/handler"
	"github.com/mmeshcher/water-delivery-system/internal/metrics"
	"github.com/mmeshcher/water-delivery-system/internal/middleware"
	"github.com/mmeshcher/water-delivery-system/internal/repository"
	"github.com/mmeshcher/water-delivery-system/internal/service"
	"github.com/mmeshcher/water-delivery-system/internal/token"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	// .env удобен при локальном запуске, в проде переменные задаёт окружение.
	_ = godotenv.Load()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	tokens := token.NewManager(cfg.JWTSecretKey, cfg.TokenLifetimeMinutes)

	svc := service.NewService(repo, tokens, service.Settings{
		BotToken:        cfg.BotToken,
		BootstrapSecret: cfg.BootstrapSecret,
		PricePerBottle:  cfg.PricePerBottle,
	})
	defer svc.Close()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	authMiddleware := middleware.NewAuthMiddleware(tokens, repo)
	h := handler.NewHandler(svc, logger, authMiddleware, m, registry, cfg.AllowedOrigins)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting water delivery server", "addr", cfg.RunAddress)
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
