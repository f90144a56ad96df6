package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/helioslabs/userhub/pkg/config"
	"github.com/helioslabs/userhub/pkg/logger"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
}

type messageHandler func(ctx context.Context, msg kafkago.Message) error

type ledgerCleaner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type dependencyPinger interface {
	Ping(context.Context) error
}

type topicConsumer struct {
	topic   string
	reader  messageReader
	handler messageHandler
}

type ServiceParams struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      dependencyPinger
	Bus     dependencyPinger
	Ledger  ledgerCleaner
	Readers []topicConsumer
}

// Service runs one fetch-handle-commit loop per subscribed topic plus a
// periodic ledger cleanup. Handlers own the dead-letter path, so every
// fetched message is committed; the only error that stops a loop is
// context cancellation.
type Service struct {
	cfg     *config.Config
	logg    *logger.Logger
	db      dependencyPinger
	bus     dependencyPinger
	ledger  ledgerCleaner
	readers []topicConsumer
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Bus == nil {
		return nil, errors.New("kafka client is required")
	}
	if params.Ledger == nil {
		return nil, errors.New("ledger repository is required")
	}
	if len(params.Readers) == 0 {
		return nil, errors.New("at least one topic reader is required")
	}
	for _, consumer := range params.Readers {
		if consumer.topic == "" || consumer.reader == nil || consumer.handler == nil {
			return nil, errors.New("topic reader is incomplete")
		}
	}

	return &Service{
		cfg:     params.Config,
		logg:    params.Logger,
		db:      params.DB,
		bus:     params.Bus,
		ledger:  params.Ledger,
		readers: params.Readers,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	return pingDependency(ctx, s.logg, "kafka", s.bus.Ping)
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, len(s.readers)+1)

	for _, consumer := range s.readers {
		wg.Add(1)
		go func(consumer topicConsumer) {
			defer wg.Done()
			if err := s.consumeLoop(runCtx, consumer); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("consumer %s: %w", consumer.topic, err)
				cancel()
			}
		}(consumer)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.cleanupLoop(runCtx)
	}()

	<-runCtx.Done()
	wg.Wait()
	close(errCh)

	for err := range errCh {
		return err
	}
	return ctx.Err()
}

func (s *Service) consumeLoop(ctx context.Context, consumer topicConsumer) error {
	loopCtx := s.logg.WithTopic(ctx, consumer.topic)
	s.logg.Info(loopCtx, "consumer loop started")

	for {
		msg, err := consumer.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				s.logg.Info(loopCtx, "consumer loop stopping")
				return ctx.Err()
			}
			s.logg.Error(loopCtx, "fetch failed", err)
			continue
		}

		if err := consumer.handler(ctx, msg); err != nil {
			// Handler errors mean cancellation mid-backoff. The message was
			// neither applied nor dead-lettered, so leave it uncommitted for
			// the next instance to pick up.
			return err
		}

		commitTimeout := time.Duration(s.cfg.Kafka.CommitTimeoutSeconds) * time.Second
		commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
		err = consumer.reader.CommitMessages(commitCtx, msg)
		cancel()
		if err != nil {
			s.logg.Error(loopCtx, "commit failed", err)
		}
	}
}

// cleanupLoop trims old idempotency ledger rows so the table stops growing
// unbounded. Re-delivery of an event older than the retention window would
// be reapplied, which the retention period makes practically impossible.
func (s *Service) cleanupLoop(ctx context.Context) {
	interval := s.cfg.Ledger.CleanupInterval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -s.cfg.Ledger.RetentionDays)
			removed, err := s.ledger.DeleteOlderThan(ctx, cutoff)
			if err != nil {
				s.logg.Error(ctx, "ledger cleanup failed", err)
				continue
			}
			cleanCtx := s.logg.WithFields(ctx, map[string]any{
				"removed": removed,
				"cutoff":  cutoff.Format(time.RFC3339),
			})
			s.logg.Info(cleanCtx, "ledger cleanup complete")
		}
	}
}
