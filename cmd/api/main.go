package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	gorillaHandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"example.com/streaks/internal/api"
	"example.com/streaks/internal/app"
	"example.com/streaks/internal/auth"
	"example.com/streaks/internal/config"
	"example.com/streaks/internal/logger"
	"example.com/streaks/internal/middleware"
	"example.com/streaks/internal/outbox"
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
		log.Error("streak-service exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *logger.Logger) error {
	backend, err := app.OpenBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backend.Close()

	service, err := app.NewService(cfg, backend.Store, log)
	if err != nil {
		return err
	}

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	router := mux.NewRouter()
	router.Use(middleware.Monitor, authMiddleware.Wrap)
	api.NewHandler(service, backend.Store, log).RegisterRoutes(router)
	if cfg.MetricsAddress == "" {
		router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	}

	cors := gorillaHandlers.CORS(
		gorillaHandlers.AllowedOrigins(cfg.CORSOrigins),
		gorillaHandlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		gorillaHandlers.AllowedHeaders([]string{"Content-Type", "Authorization", middleware.RequestIDHeader}),
		gorillaHandlers.AllowCredentials(),
	)
	handler := cors(limiter.Middleware(middleware.RequestLogger(log)(router)))

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		limiter.Cleanup(gctx)
		return nil
	})

	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress), handler)
	g.Go(func() error {
		return server.Run(gctx, "api", log)
	})

	if cfg.MetricsAddress != "" {
		metricsSrv := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.MetricsAddress), promhttp.Handler())
		g.Go(func() error {
			return metricsSrv.Run(gctx, "metrics", log)
		})
	}

	if cfg.OutboxEnabled {
		if err := backend.RequireOutbox(); err != nil {
			return err
		}
		producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()

		registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
		dispatcher := outbox.NewDispatcher(backend.Outbox, producer, registry,
			outbox.WithDispatcherLogger(log.With("component", "outbox")),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithReplayBackoff(cfg.DLQBaseDelay),
		)
		g.Go(func() error {
			dispatcher.Start(gctx)
			return nil
		})
		log.Info("outbox dispatcher started", "interval", cfg.OutboxPollInterval, "batch", cfg.OutboxBatchSize)
	}

	log.Info("streak-service started", "driver", cfg.StoreDriver, "timezone", cfg.Timezone)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
