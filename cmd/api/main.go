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

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lmdrive/drive-backend/api/routes"
	"github.com/lmdrive/drive-backend/internal/bootstrap"
	"github.com/lmdrive/drive-backend/internal/checkout"
	"github.com/lmdrive/drive-backend/internal/payments"
	stripewebhook "github.com/lmdrive/drive-backend/internal/webhooks/stripe"
	"github.com/lmdrive/drive-backend/pkg/logger"
	"github.com/lmdrive/drive-backend/pkg/metrics"
	pkgstripe "github.com/lmdrive/drive-backend/pkg/stripe"
)

const (
	serviceKind       = "api"
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.New(logger.Options{ServiceName: serviceKind}).Error(ctx, "api server stopped", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	rt, err := bootstrap.Start(ctx, bootstrap.Options{ServiceKind: serviceKind, WithRedis: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			rt.Logger.Error(ctx, "error releasing resources", err)
		}
	}()
	cfg, logg := rt.Config, rt.Logger

	domain, err := bootstrap.NewDomain(rt, prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	stripeClient, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return fmt.Errorf("bootstrap stripe: %w", err)
	}
	gateway, err := payments.NewStripeGateway(stripeClient)
	if err != nil {
		return fmt.Errorf("payment gateway: %w", err)
	}
	checkoutService, err := checkout.NewService(domain.Orders, domain.Attempts, gateway, domain.Coordinator, logg, domain.Currency)
	if err != nil {
		return fmt.Errorf("checkout service: %w", err)
	}
	webhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		Reconciler: domain.Coordinator,
		Refunder:   gateway,
		Logger:     logg,
	})
	if err != nil {
		return fmt.Errorf("stripe webhook service: %w", err)
	}
	webhookDedupe, err := stripewebhook.NewEventDedupe(rt.Redis, cfg.Eventing.WebhookIdempotencyTTL, "stripe-webhook")
	if err != nil {
		return fmt.Errorf("stripe webhook dedupe: %w", err)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	server := &http.Server{
		Addr: ":" + port,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:       cfg,
			Logger:       logg,
			DB:           rt.DB,
			Redis:        rt.Redis,
			HTTPMetrics:  metrics.NewHTTPMetrics(prometheus.DefaultRegisterer),
			Gatherer:     prometheus.DefaultGatherer,
			Orders:       domain.Orders,
			Transitions:  domain.Coordinator,
			Checkout:     checkoutService,
			Stock:        domain.Stock,
			StripeEvents: webhookService,
			StripeClient: stripeClient,
			StripeDedupe: webhookDedupe,
		}),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	logCtx := logg.WithFields(rt.BaseContext(ctx), map[string]any{
		"addr":        server.Addr,
		"stripe_mode": string(stripeClient.Mode()),
	})
	logg.Info(logCtx, "starting api server")

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logg.Info(logCtx, "api server shut down gracefully")
	return nil
}
