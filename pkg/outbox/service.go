package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/helioslabs/userhub/pkg/db/models"
	"github.com/helioslabs/userhub/pkg/enums"
	"github.com/helioslabs/userhub/pkg/logger"
	"github.com/helioslabs/userhub/pkg/outbox/payloads"
)

// Service appends outbox rows inside the caller's transaction. A record
// failure propagates to the caller and rolls the whole mutation back: no
// business mutation commits without its outbox row.
type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

// Record serializes the payload and appends a PENDING outbox row. The stored
// bytes are exactly what the publisher later puts on the bus.
func (s *Service) Record(ctx context.Context, tx *gorm.DB, aggregateID string, aggregateType enums.OutboxAggregateType, eventType enums.OutboxEventType, payload any) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	row := models.OutboxEvent{
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       json.RawMessage(raw),
	}
	if err := s.repo.Insert(tx, row); err != nil {
		return err
	}
	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"event_type":     eventType,
			"aggregate_id":   aggregateID,
			"aggregate_type": aggregateType,
		})
		s.logg.Info(logCtx, "outbox event queued")
	}
	return nil
}

// RecordUserEvent wraps the user payload in the UserEvent envelope, minting
// the event id the downstream ledger keys on.
func (s *Service) RecordUserEvent(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, aggregateID string, payload *payloads.UserPayload) error {
	event := payloads.UserEvent{
		ID:            uuid.New(),
		AggregateType: string(enums.AggregateUser),
		AggregateID:   aggregateID,
		Type:          string(eventType),
		Payload:       payload,
		OccurredAt:    time.Now().UTC(),
	}
	return s.Record(ctx, tx, aggregateID, enums.AggregateUser, eventType, event)
}

// RecordProfileUpdated appends a ProfileUpdated row. The event carries no id
// of its own; consumers derive their key from userId and timestamp.
func (s *Service) RecordProfileUpdated(ctx context.Context, tx *gorm.DB, event payloads.ProfileUpdatedEvent) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	return s.Record(ctx, tx, event.UserID, enums.AggregateUser, enums.EventProfileUpdated, event)
}
