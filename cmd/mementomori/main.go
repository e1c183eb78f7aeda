// Package main запускает HTTP-сервер сервиса заказов Memento Mori.
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

	"github.com/mmeshcher/memento-mori/internal/config"
	"github.com/mmeshcher/memento-mori/internal/handler"
	"github.com/mmeshcher/memento-mori/internal/middleware"
	"github.com/mmeshcher/memento-mori/internal/processor"
	"github.com/mmeshcher/memento-mori/internal/repository"
	"github.com/mmeshcher/memento-mori/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}
	if err := cfg.Validate(); err != nil {
		sugar.Fatalw("invalid configuration", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	var processorClient *processor.Client
	if cfg.ProcessorAddress != "" {
		processorClient = processor.NewClient(cfg.ProcessorAddress)
	} else {
		sugar.Infow("payment processor address not set, processor fees are simulated",
			"rate", cfg.ProcessorFeeRate.String())
	}

	svc := service.NewService(repo, processorClient, service.Options{
		TaxRate:          cfg.TaxRate,
		PlatformFeeRate:  cfg.PlatformFeeRate,
		ProcessorFeeRate: cfg.ProcessorFeeRate,
		Currency:         cfg.Currency,
	}, logger.Named("service"))
	defer svc.Close()

	if cfg.JWTSecret == "" {
		sugar.Warn("JWT secret not set, using a random key; tokens will not survive a restart")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sugar.Infow("starting memento mori server", "addr", cfg.RunAddress, "currency", cfg.Currency)
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
