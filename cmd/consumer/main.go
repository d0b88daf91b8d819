package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"example.com/streaks/internal/app"
	"example.com/streaks/internal/config"
	"example.com/streaks/internal/consumer"
	"example.com/streaks/internal/events"
	"example.com/streaks/internal/logger"
	httptransport "example.com/streaks/internal/transport/http"
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
		log.Error("consumer exited with error", "error", err)
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

	handler := consumer.NewPersistenceHandler(backend.EventLog)

	topics := cfg.ConsumerTopics
	if len(topics) == 0 {
		topics = events.Topics()
	}

	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddress != "" {
		metricsSrv := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.MetricsAddress), promhttp.Handler())
		g.Go(func() error {
			return metricsSrv.Run(gctx, "consumer-metrics", log)
		})
	}

	for _, topic := range topics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:         cfg.KafkaBrokers,
			GroupID:         cfg.ConsumerGroupID,
			Topic:           topic,
			MinBytes:        1e3,
			MaxBytes:        10e6,
			CommitInterval:  time.Second,
			RetentionTime:   24 * time.Hour,
			ReadLagInterval: -1,
		})
		topicLog := log.With("topic", topic, "group", cfg.ConsumerGroupID)
		proc := consumer.NewProcessor(reader, handler,
			consumer.WithLogger(topicLog),
			consumer.WithHandlerRetries(cfg.ConsumerRetries, cfg.ConsumerBackoff),
		)

		g.Go(func() error {
			defer reader.Close()
			topicLog.Info("consumer started")
			if err := proc.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				topicLog.Error("consumer stopped with error", "error", err)
				return err
			}
			return nil
		})
	}

	err = g.Wait()
	log.Info("consumer shutdown complete")
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
