package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/multierr"

	"github.com/helioslabs/userhub/pkg/config"
	"github.com/helioslabs/userhub/pkg/db/models"
	"github.com/helioslabs/userhub/pkg/enums"
	"github.com/helioslabs/userhub/pkg/logger"
	"github.com/helioslabs/userhub/pkg/metrics"
	"github.com/helioslabs/userhub/pkg/outbox"
	"github.com/google/uuid"
)

const (
	defaultBatchSize      = 100
	defaultPollMs         = 5000
	defaultPublishTimeout = 15 * time.Second
	maxLoopBackoff        = 30 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

type dbPinger interface {
	Ping(context.Context) error
}

type busPinger interface {
	Ping(context.Context) error
}

type outboxRepository interface {
	FetchPending(ctx context.Context, limit int) ([]models.OutboxEvent, error)
	MarkProcessed(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, cause error) error
}

type topicRouter interface {
	TopicFor(eventType enums.OutboxEventType) string
}

type publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
}

type publisherFactory func(topic string) publisher

type ServiceParams struct {
	Config           *config.Config
	Logger           *logger.Logger
	DB               dbPinger
	Bus              busPinger
	Repository       outboxRepository
	Router           topicRouter
	PublisherFactory publisherFactory
	Metrics          *metrics.PublisherMetrics
}

// Service sweeps PENDING outbox rows oldest-first and publishes each to its
// topic. Rows are marked individually so one bad row never stalls the rest
// of the batch, and a publish failure is terminal for that row: operators
// re-drive FAILED rows by hand, the sweeper never retries them.
type Service struct {
	cfg          *config.Config
	logg         *logger.Logger
	db           dbPinger
	bus          busPinger
	repo         outboxRepository
	router       topicRouter
	factory      publisherFactory
	metrics      *metrics.PublisherMetrics
	batchSize    int
	pollInterval time.Duration
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
	if params.Repository == nil {
		return nil, errors.New("outbox repository is required")
	}
	if params.Router == nil {
		return nil, errors.New("topic router is required")
	}
	if params.PublisherFactory == nil {
		return nil, errors.New("publisher factory is required")
	}

	batch := params.Config.Outbox.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	pollMs := params.Config.Outbox.PollIntervalMS
	if pollMs <= 0 {
		pollMs = defaultPollMs
	}

	return &Service{
		cfg:          params.Config,
		logg:         params.Logger,
		db:           params.DB,
		bus:          params.Bus,
		repo:         params.Repository,
		router:       params.Router,
		factory:      params.PublisherFactory,
		metrics:      params.Metrics,
		batchSize:    batch,
		pollInterval: time.Duration(pollMs) * time.Millisecond,
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

// Run sweeps until the context is canceled. Sweeps never overlap: the next
// poll is scheduled only after the previous batch settles.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	interval := s.pollInterval
	backoff := interval

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "outbox publisher context canceled")
			return ctx.Err()
		default:
		}

		drained, err := s.processBatch(ctx)
		if err != nil {
			s.logg.Error(ctx, "outbox sweep error", err)
			backoff = nextBackoff(backoff, interval, maxLoopBackoff)
			if err := s.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = interval

		// A full batch means there is likely more waiting; sweep again
		// immediately instead of sitting out the poll interval.
		if !drained {
			continue
		}

		if err := s.sleep(ctx, withJitter(interval)); err != nil {
			return err
		}
	}
}

// processBatch publishes one sweep's worth of rows. It returns drained=true
// when the fetch came back short, meaning the backlog is empty.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	started := time.Now()
	defer func() {
		s.metrics.ObserveSweep(time.Since(started))
	}()

	events, err := s.repo.FetchPending(ctx, s.batchSize)
	if err != nil {
		return true, fmt.Errorf("fetch pending outbox rows: %w", err)
	}
	if len(events) == 0 {
		return true, nil
	}

	var errs error
	for _, event := range events {
		if err := s.publishOne(ctx, event); err != nil {
			if ctx.Err() != nil {
				return true, multierr.Append(errs, ctx.Err())
			}
			errs = multierr.Append(errs, err)
		}
	}
	return len(events) < s.batchSize, errs
}

func (s *Service) publishOne(ctx context.Context, event models.OutboxEvent) error {
	topic := s.router.TopicFor(event.EventType)
	fields := map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID,
		"topic":          topic,
	}
	logCtx := s.logg.WithFields(ctx, fields)

	pub := s.factory(topic)
	if pub == nil {
		err := fmt.Errorf("no publisher for topic %s", topic)
		return s.markFailed(logCtx, event, topic, err)
	}

	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()

	// Keyed by aggregate so events for one aggregate stay in one partition.
	msg := kafkago.Message{
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
	}
	if err := pub.WriteMessages(publishCtx, msg); err != nil {
		return s.markFailed(logCtx, event, topic, err)
	}

	if err := s.repo.MarkProcessed(ctx, event.ID); err != nil {
		return fmt.Errorf("mark processed %s: %w", event.ID, err)
	}
	s.metrics.IncPublished(topic)
	s.logg.Info(logCtx, "outbox event published")
	return nil
}

func (s *Service) markFailed(ctx context.Context, event models.OutboxEvent, topic string, cause error) error {
	s.logg.Error(ctx, "outbox publish failed, marking row FAILED", cause)
	if err := s.repo.MarkFailed(context.WithoutCancel(ctx), event.ID, cause); err != nil {
		return fmt.Errorf("mark failed %s: %w", event.ID, err)
	}
	s.metrics.IncFailed(topic)
	return nil
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(jitterSource.Int63n(int64(jitterWindow)))
	return d + jitter
}

var _ topicRouter = (*outbox.TopicRouter)(nil)
