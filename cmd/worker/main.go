package main

import (
	"context"
	"errors"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/helioslabs/userhub/internal/addresses"
	"github.com/helioslabs/userhub/internal/events"
	"github.com/helioslabs/userhub/pkg/config"
	"github.com/helioslabs/userhub/pkg/db"
	"github.com/helioslabs/userhub/pkg/instance"
	"github.com/helioslabs/userhub/pkg/kafka"
	"github.com/helioslabs/userhub/pkg/logger"
	"github.com/helioslabs/userhub/pkg/metrics"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "worker"

	logg = logger.New(logger.Options{
		ServiceName: "worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	kafkaClient, err := kafka.NewClient(context.Background(), cfg.Kafka, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap kafka", err)
		os.Exit(1)
	}
	defer func() {
		if err := kafkaClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing kafka client", err)
		}
	}()

	ledgerRepo := events.NewLedgerRepository(dbClient.DB())
	failedRepo := events.NewFailedEventRepository(dbClient.DB())
	addressRepo := addresses.NewRepository(dbClient.DB())
	addressService, err := addresses.NewService(addressRepo, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create address service", err)
		os.Exit(1)
	}

	collector := metrics.NewConsumerMetrics(prometheus.DefaultRegisterer)

	consumer, err := events.NewConsumer(events.ConsumerParams{
		DB:      dbClient,
		Ledger:  ledgerRepo,
		Failed:  failedRepo,
		Effects: addressService,
		Logger:  logg,
		Metrics: collector,
		Policy: events.RetryPolicy{
			MaxAttempts:    cfg.Consumer.MaxAttempts,
			InitialBackoff: cfg.Consumer.InitialBackoff,
			Multiplier:     cfg.Consumer.BackoffMultiple,
			MaxBackoff:     cfg.Consumer.MaxBackoff,
		},
		HandleTimeout: cfg.Consumer.HandleTimeout,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create event consumer", err)
		os.Exit(1)
	}

	service, err := NewService(ServiceParams{
		Config: cfg,
		Logger: logg,
		DB:     dbClient,
		Bus:    kafkaClient,
		Ledger: ledgerRepo,
		Readers: []topicConsumer{
			{
				topic:   cfg.Kafka.UserEventsTopic,
				reader:  kafkaClient.Reader(cfg.Kafka.UserEventsTopic),
				handler: consumer.HandleUserEvent,
			},
			{
				topic:   cfg.Kafka.ProfileUpdatedTopic,
				reader:  kafkaClient.Reader(cfg.Kafka.ProfileUpdatedTopic),
				handler: consumer.HandleProfileUpdated,
			},
		},
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create worker", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": "worker",
		"instance":    instance.GetID(),
	})
	logg.Info(ctx, "starting event worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "event worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "event worker shutting down gracefully")
}
