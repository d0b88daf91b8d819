package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"example.com/streaks/internal/app"
	"example.com/streaks/internal/config"
	"example.com/streaks/internal/logger"
	"example.com/streaks/internal/outbox"
	httptransport "example.com/streaks/internal/transport/http"
)

const (
	defaultDLQBatchSize = 50
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("dlq manager exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	backend, err := app.OpenBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backend.Close()
	if err := backend.RequireOutbox(); err != nil {
		return err
	}

	manager := outbox.NewDLQManager(backend.DLQ, cfg.DLQMaxRetries, cfg.DLQBaseDelay)

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddress != "" {
		metricsSrv := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.MetricsAddress), promhttp.Handler())
		g.Go(func() error {
			return metricsSrv.Run(gctx, "dlq-metrics", log)
		})
	}

	g.Go(func() error {
		ticker := time.NewTicker(cfg.DLQPollInterval)
		defer ticker.Stop()

		log.Info("dlq manager started", "interval", cfg.DLQPollInterval, "max_retries", cfg.DLQMaxRetries)
		for {
			select {
			case <-gctx.Done():
				log.Info("dlq manager received shutdown signal")
				return nil
			case <-ticker.C:
				report, err := manager.RunOnce(gctx, defaultDLQBatchSize)
				if err != nil {
					log.Warn("dlq manager error", "error", err)
				}
				if !report.Empty() {
					log.Info("dlq pass complete",
						"requeued", report.Requeued,
						"rescheduled", report.Rescheduled,
						"quarantined", report.Quarantined,
					)
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
