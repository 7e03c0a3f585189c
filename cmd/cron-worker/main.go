package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lmdrive/drive-backend/internal/bootstrap"
	"github.com/lmdrive/drive-backend/internal/cron"
	"github.com/lmdrive/drive-backend/pkg/logger"
	"github.com/lmdrive/drive-backend/pkg/metrics"
	"github.com/lmdrive/drive-backend/pkg/outbox"
)

const serviceKind = "cron-worker"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.New(logger.Options{ServiceName: serviceKind}).Error(ctx, "cron worker stopped", err)
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

	expiry, err := cron.NewPendingExpiryJob(cron.PendingExpiryJobParams{
		Logger:      logg,
		Orders:      domain.Orders,
		Transitions: domain.Coordinator,
		TTL:         cfg.Orders.PendingTTL,
	})
	if err != nil {
		return fmt.Errorf("pending expiry job: %w", err)
	}
	prune, err := cron.NewOutboxPruneJob(cron.OutboxPruneParams{
		Logger:      logg,
		DB:          rt.DB,
		Published:   domain.Outbox,
		DeadLetters: outbox.NewDLQRepository(rt.DB.DB()),
		Retention:   cfg.Outbox.Retention,
	})
	if err != nil {
		return fmt.Errorf("outbox prune job: %w", err)
	}

	env := cfg.App.Env
	if env == "" {
		env = "local"
	}
	lock, err := cron.NewRedisLock(rt.Redis, rt.Redis.LockKey(serviceKind+":"+env), cfg.Cron.LockTTL)
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}

	scheduler, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(expiry, prune),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}

	logCtx := rt.BaseContext(ctx)
	logg.Info(logCtx, "starting cron worker")
	if err := scheduler.Run(logCtx); err != nil {
		return err
	}
	logg.Info(logCtx, "cron worker shut down gracefully")
	return nil
}
