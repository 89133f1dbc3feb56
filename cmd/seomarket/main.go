// Package main запускает HTTP-сервер сервиса seomarket.
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

	"github.com/mmeshcher/seomarket-system/internal/config"
	"github.com/mmeshcher/seomarket-system/internal/filestore"
	"github.com/mmeshcher/seomarket-system/internal/gateway"
	"github.com/mmeshcher/seomarket-system/internal/handler"
	"github.com/mmeshcher/seomarket-system/internal/middleware"
	"github.com/mmeshcher/seomarket-system/internal/model"
	"github.com/mmeshcher/seomarket-system/internal/notify"
	"github.com/mmeshcher/seomarket-system/internal/repository"
	"github.com/mmeshcher/seomarket-system/internal/service"
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

	files, err := filestore.New(cfg.UploadDir)
	if err != nil {
		sugar.Fatalw("file storage initialization error", "error", err.Error())
	}

	gateways := make(map[model.PaymentMethod]gateway.Client)
	if cfg.PayPalClientID != "" {
		gateways[model.PaymentMethodPayPal] = gateway.NewPayPalClient(
			cfg.PayPalBaseURL, cfg.PayPalClientID, cfg.PayPalSecret, cfg.PayPalWebhookID)
	}
	if cfg.StripeSecretKey != "" {
		gateways[model.PaymentMethodStripe] = gateway.NewStripeClient(
			cfg.StripeBaseURL, cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	}

	sender := notify.NewLogSender(logger)

	svc := service.NewService(repo, gateways, sender, files, logger, cfg.TrackingPrefix, cfg.Currency)

	staffAuth := middleware.NewStaffAuth(cfg.StaffSecret)
	h := handler.NewHandler(svc, logger, staffAuth, cfg.StaffLogin, cfg.StaffPassword)

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
		sugar.Infow("starting seomarket server", "addr", cfg.RunAddress)
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
