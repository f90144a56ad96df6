package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"gorm.io/gorm"

	"github.com/helioslabs/userhub/pkg/db"
	"github.com/helioslabs/userhub/pkg/db/models"
	"github.com/helioslabs/userhub/pkg/enums"
	pkgerrors "github.com/helioslabs/userhub/pkg/errors"
	"github.com/helioslabs/userhub/pkg/logger"
	"github.com/helioslabs/userhub/pkg/metrics"
	"github.com/helioslabs/userhub/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// effectApplier is the business-effect surface the consumer drives. Every
// method must run inside the supplied transaction.
type effectApplier interface {
	ApplyUserDeleted(ctx context.Context, tx *gorm.DB, userID string) error
	ApplyProfileUpdated(ctx context.Context, tx *gorm.DB, event *payloads.ProfileUpdatedEvent) error
}

// Consumer is the per-message state machine: deserialize, gate on the
// idempotency ledger, apply the business effect, and record the ledger entry
// in one transaction. Transient failures are redriven under the retry policy;
// everything else lands in the failed-event store and the message is acked so
// a poison message never blocks its partition.
type Consumer struct {
	db      txRunner
	ledger  *LedgerRepository
	failed  *FailedEventRepository
	effects effectApplier
	logg    *logger.Logger
	metrics *metrics.ConsumerMetrics
	policy  RetryPolicy

	handleTimeout time.Duration
	now           func() time.Time
	sleep         func(ctx context.Context, d time.Duration) error
}

type ConsumerParams struct {
	DB            txRunner
	Ledger        *LedgerRepository
	Failed        *FailedEventRepository
	Effects       effectApplier
	Logger        *logger.Logger
	Metrics       *metrics.ConsumerMetrics
	Policy        RetryPolicy
	HandleTimeout time.Duration
}

func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.DB == nil {
		return nil, errors.New("transaction runner is required")
	}
	if params.Ledger == nil {
		return nil, errors.New("ledger repository is required")
	}
	if params.Failed == nil {
		return nil, errors.New("failed-event repository is required")
	}
	if params.Effects == nil {
		return nil, errors.New("effect applier is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	timeout := params.HandleTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Consumer{
		db:            params.DB,
		ledger:        params.Ledger,
		failed:        params.Failed,
		effects:       params.Effects,
		logg:          params.Logger,
		metrics:       params.Metrics,
		policy:        params.Policy.normalized(),
		handleTimeout: timeout,
		now:           time.Now,
		sleep:         sleepContext,
	}, nil
}

// HandleUserEvent processes one message from the user-events topic. A nil
// return means the offset can be committed; the only non-nil returns are
// context cancellation while waiting out a backoff.
func (c *Consumer) HandleUserEvent(ctx context.Context, msg kafkago.Message) error {
	logCtx := c.messageContext(ctx, msg)

	var event payloads.UserEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.deadLetterDeserialize(logCtx, enums.FailedKindUserEvent, msg, err)
		return nil
	}
	if event.ID == uuid.Nil {
		c.deadLetterDeserialize(logCtx, enums.FailedKindUserEvent, msg, errors.New("user event missing id"))
		return nil
	}

	key := userEventKey(&event)
	apply := func(ctx context.Context, tx *gorm.DB) error {
		return c.dispatchUserEvent(ctx, tx, &event)
	}
	return c.runWithRetry(logCtx, enums.FailedKindUserEvent, key, event.Type, msg, apply)
}

// HandleProfileUpdated processes one message from the profile-updated topic.
func (c *Consumer) HandleProfileUpdated(ctx context.Context, msg kafkago.Message) error {
	logCtx := c.messageContext(ctx, msg)

	var event payloads.ProfileUpdatedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.deadLetterDeserialize(logCtx, enums.FailedKindProfileUpdated, msg, err)
		return nil
	}
	if strings.TrimSpace(event.UserID) == "" {
		c.deadLetterDeserialize(logCtx, enums.FailedKindProfileUpdated, msg, errors.New("profile event missing user id"))
		return nil
	}

	key := profileEventKey(&event)
	apply := func(ctx context.Context, tx *gorm.DB) error {
		return c.effects.ApplyProfileUpdated(ctx, tx, &event)
	}
	return c.runWithRetry(logCtx, enums.FailedKindProfileUpdated, key, string(enums.FailedKindProfileUpdated), msg, apply)
}

// dispatchUserEvent routes by event-type tag. Unknown types are a logged
// no-op so future event types never break the consumer.
func (c *Consumer) dispatchUserEvent(ctx context.Context, tx *gorm.DB, event *payloads.UserEvent) error {
	switch enums.OutboxEventType(event.Type) {
	case enums.EventUserCreated:
		c.logg.Info(c.logg.WithAggregateID(ctx, event.AggregateID), "user created upstream")
		return nil
	case enums.EventUserUpdated:
		c.logg.Info(c.logg.WithAggregateID(ctx, event.AggregateID), "user updated upstream")
		return nil
	case enums.EventUserDeleted:
		return c.effects.ApplyUserDeleted(ctx, tx, event.AggregateID)
	default:
		c.logg.Warn(c.logg.WithField(ctx, "unknown_type", event.Type), "unknown event type, ignoring")
		return nil
	}
}

// runWithRetry is the retry engine. Each attempt is one transaction: ledger
// check, effect, ledger insert. The ledger check and the effect commit
// together, which closes the race between two redeliveries of the same
// message handled concurrently.
func (c *Consumer) runWithRetry(ctx context.Context, kind enums.FailedEventKind, key, eventType string, msg kafkago.Message, apply func(context.Context, *gorm.DB) error) error {
	started := c.now()
	defer func() {
		c.metrics.ObserveHandle(eventType, c.now().Sub(started))
	}()

	for attempt := 1; ; attempt++ {
		applied, err := c.applyOnce(ctx, key, eventType, apply)
		if err == nil {
			if !applied {
				c.metrics.IncDuplicate(eventType)
				c.logg.Info(c.logg.WithEventID(ctx, key), "event already processed, skipping")
				return nil
			}
			c.metrics.IncProcessed(eventType)
			c.logg.Info(c.logg.WithEventID(ctx, key), "event processed")
			return nil
		}

		if !IsRetryable(err) {
			c.logg.Error(c.logg.WithEventID(ctx, key), "non-retryable error, dead-lettering", err)
			c.deadLetter(ctx, kind, msg, err, attempt, "non_retryable")
			return nil
		}

		if attempt >= c.policy.MaxAttempts {
			c.logg.Error(c.logg.WithEventID(ctx, key), "retry attempts exhausted, dead-lettering", err)
			c.deadLetter(ctx, kind, msg, err, attempt, "max_attempts")
			return nil
		}

		c.metrics.IncRetried(eventType)
		backoff := c.policy.Backoff(attempt)
		retryCtx := c.logg.WithFields(ctx, map[string]any{
			"event_id": key,
			"attempt":  attempt,
			"backoff":  backoff.String(),
		})
		c.logg.Warn(retryCtx, "transient error, retrying")
		if sleepErr := c.sleep(ctx, backoff); sleepErr != nil {
			return sleepErr
		}
	}
}

// applyOnce runs a single transactional attempt. It returns applied=false
// when the ledger already holds the key.
func (c *Consumer) applyOnce(ctx context.Context, key, eventType string, apply func(context.Context, *gorm.DB) error) (bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.handleTimeout)
	defer cancel()

	applied := false
	err := c.db.WithTx(attemptCtx, func(tx *gorm.DB) error {
		exists, err := c.ledger.ExistsTx(tx, key)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		if err := apply(attemptCtx, tx); err != nil {
			return err
		}
		if err := c.ledger.InsertTx(tx, key, eventType); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		// A unique violation on processed_events means a concurrent
		// redelivery ledgered the key after our exists-check. Its effect is
		// committed and ours rolled back, so this attempt is a duplicate,
		// not a failure.
		if db.IsUniqueViolation(err, "processed_events") {
			return false, nil
		}
		return false, err
	}
	return applied, nil
}

func (c *Consumer) deadLetterDeserialize(ctx context.Context, kind enums.FailedEventKind, msg kafkago.Message, cause error) {
	c.logg.Error(ctx, "failed to deserialize message", cause)
	c.deadLetter(ctx, kind, msg, NewNonRetryableError(cause), 0, "deserialize")
}

// deadLetter persists the raw message with its source coordinates. This is
// the last-resort durability layer: if the write itself fails, log and drop.
func (c *Consumer) deadLetter(ctx context.Context, kind enums.FailedEventKind, msg kafkago.Message, cause error, attempts int, reason string) {
	failedAt := c.now().UTC()
	row := models.FailedEvent{
		EventID:         failedEventID(msg.Topic, msg.Partition, msg.Offset, failedAt),
		EventType:       kind,
		Topic:           msg.Topic,
		Partition:       msg.Partition,
		Offset:          msg.Offset,
		RawMessage:      msg.Value,
		ErrorMessage:    cause.Error(),
		ErrorStackTrace: errorChain(cause),
		FailedAt:        failedAt,
		RetryCount:      attempts,
		Status:          enums.FailedEventStatusPending,
	}
	// The row must outlive the message context: losing it during shutdown
	// would ack the message with no durable trace left.
	insertCtx := context.WithoutCancel(ctx)
	if err := c.failed.Insert(insertCtx, row); err != nil {
		c.logg.Error(c.logg.WithEventID(ctx, row.EventID), "failed to persist dead-lettered event", err)
		return
	}
	c.metrics.IncDeadLettered(string(kind), reason)
	dlCtx := c.logg.WithFields(ctx, map[string]any{
		"event_id": row.EventID,
		"reason":   reason,
	})
	c.logg.Warn(dlCtx, "event dead-lettered")
}

func (c *Consumer) messageContext(ctx context.Context, msg kafkago.Message) context.Context {
	return c.logg.WithFields(ctx, map[string]any{
		"topic":     msg.Topic,
		"partition": msg.Partition,
		"offset":    msg.Offset,
	})
}

func errorChain(err error) string {
	chain := pkgerrors.Dump(err).Chain
	return strings.Join(chain, "\n")
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
