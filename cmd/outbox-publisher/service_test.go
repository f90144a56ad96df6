package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/helioslabs/userhub/pkg/config"
	"github.com/helioslabs/userhub/pkg/db/models"
	"github.com/helioslabs/userhub/pkg/enums"
	"github.com/helioslabs/userhub/pkg/logger"
	"github.com/helioslabs/userhub/pkg/outbox"
)

type fakeRepo struct {
	events    []models.OutboxEvent
	processed []uuid.UUID
	failed    []uuid.UUID
	fetchErr  error
}

func (f *fakeRepo) FetchPending(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if limit > len(f.events) {
		limit = len(f.events)
	}
	return f.events[:limit], nil
}

func (f *fakeRepo) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	f.processed = append(f.processed, id)
	return nil
}

func (f *fakeRepo) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	f.failed = append(f.failed, id)
	return nil
}

type fakePublisher struct {
	errs     []error
	messages []kafkago.Message
	topics   []string
	calls    int
}

func (f *fakePublisher) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	f.messages = append(f.messages, msgs...)
	call := f.calls
	f.calls++
	if call < len(f.errs) {
		return f.errs[call]
	}
	return nil
}

type alwaysUp struct{}

func (alwaysUp) Ping(ctx context.Context) error { return nil }

func newTestService(t *testing.T, repo *fakeRepo, pub *fakePublisher) *Service {
	t.Helper()
	cfg := &config.Config{}
	cfg.Kafka = config.KafkaConfig{
		UserEventsTopic:     "user-events",
		ProfileUpdatedTopic: "profile-updated",
	}
	cfg.Outbox = config.OutboxConfig{BatchSize: 10, PollIntervalMS: 100}

	service, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		DB:         alwaysUp{},
		Bus:        alwaysUp{},
		Repository: repo,
		Router:     outbox.NewTopicRouter(cfg.Kafka),
		PublisherFactory: func(topic string) publisher {
			pub.topics = append(pub.topics, topic)
			return pub
		},
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

func pendingEvent(t *testing.T, eventType enums.OutboxEventType, aggregateID string) models.OutboxEvent {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"aggregateId": aggregateID})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return models.OutboxEvent{
		ID:            uuid.New(),
		AggregateID:   aggregateID,
		AggregateType: enums.AggregateUser,
		EventType:     eventType,
		Payload:       payload,
		Status:        enums.OutboxStatusPending,
	}
}

func TestProcessBatchContinuesAfterPublishFailure(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{
		pendingEvent(t, enums.EventUserCreated, "42"),
		pendingEvent(t, enums.EventUserCreated, "7"),
	}}
	pub := &fakePublisher{errs: []error{errors.New("broker unreachable")}}
	service := newTestService(t, repo, pub)

	drained, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !drained {
		t.Fatal("short batch should report drained")
	}

	if len(repo.failed) != 1 || repo.failed[0] != repo.events[0].ID {
		t.Fatalf("expected first event marked FAILED, got %v", repo.failed)
	}
	if len(repo.processed) != 1 || repo.processed[0] != repo.events[1].ID {
		t.Fatalf("expected second event marked PROCESSED, got %v", repo.processed)
	}
}

func TestProcessBatchRoutesAndKeysMessages(t *testing.T) {
	repo := &fakeRepo{events: []models.OutboxEvent{
		pendingEvent(t, enums.EventUserDeleted, "42"),
		pendingEvent(t, enums.EventProfileUpdated, "42"),
	}}
	pub := &fakePublisher{}
	service := newTestService(t, repo, pub)

	if _, err := service.processBatch(context.Background()); err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}

	if len(pub.topics) != 2 || pub.topics[0] != "user-events" || pub.topics[1] != "profile-updated" {
		t.Fatalf("unexpected topic routing: %v", pub.topics)
	}
	if len(pub.messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(pub.messages))
	}
	for _, msg := range pub.messages {
		if string(msg.Key) != "42" {
			t.Fatalf("message not keyed by aggregate id: %q", msg.Key)
		}
	}
	if string(pub.messages[0].Value) != string(repo.events[0].Payload) {
		t.Fatal("published bytes must be the stored payload verbatim")
	}
}

func TestProcessBatchEmptyIsDrained(t *testing.T) {
	repo := &fakeRepo{}
	service := newTestService(t, repo, &fakePublisher{})

	drained, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if !drained {
		t.Fatal("empty fetch should report drained")
	}
}

func TestProcessBatchFullBatchIsNotDrained(t *testing.T) {
	events := make([]models.OutboxEvent, 10)
	for i := range events {
		events[i] = pendingEvent(t, enums.EventUserCreated, uuid.NewString())
	}
	repo := &fakeRepo{events: events}
	service := newTestService(t, repo, &fakePublisher{})

	drained, err := service.processBatch(context.Background())
	if err != nil {
		t.Fatalf("process batch returned error: %v", err)
	}
	if drained {
		t.Fatal("full batch should trigger an immediate re-sweep")
	}
}

func TestProcessBatchFetchErrorPropagates(t *testing.T) {
	repo := &fakeRepo{fetchErr: errors.New("db down")}
	service := newTestService(t, repo, &fakePublisher{})

	if _, err := service.processBatch(context.Background()); err == nil {
		t.Fatal("expected fetch error to propagate")
	}
}

func TestNextBackoffDoublesAndCaps(t *testing.T) {
	base := 100 * time.Millisecond
	if got := nextBackoff(base, base, maxLoopBackoff); got != 2*base {
		t.Fatalf("expected doubling, got %s", got)
	}
	if nextBackoff(maxLoopBackoff, base, maxLoopBackoff) != maxLoopBackoff {
		t.Fatal("backoff must cap")
	}
	if nextBackoff(0, base, maxLoopBackoff) != 2*base {
		t.Fatal("zero current falls back to base before doubling")
	}
}
