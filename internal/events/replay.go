package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/helioslabs/userhub/pkg/db/models"
	"github.com/helioslabs/userhub/pkg/enums"
	pkgerrors "github.com/helioslabs/userhub/pkg/errors"
	"github.com/helioslabs/userhub/pkg/logger"
	"github.com/helioslabs/userhub/pkg/outbox/payloads"
)

// ReplayService drives manual redelivery of dead-lettered events. A retried
// event goes through the same dispatch path as a live one, including the
// idempotency ledger, so replaying an event that eventually succeeded on the
// live path is a harmless no-op that still clears the dead-letter row.
type ReplayService struct {
	db      txRunner
	failed  *FailedEventRepository
	ledger  *LedgerRepository
	effects effectApplier
	logg    *logger.Logger

	handleTimeout time.Duration
}

type ReplayParams struct {
	DB            txRunner
	Failed        *FailedEventRepository
	Ledger        *LedgerRepository
	Effects       effectApplier
	Logger        *logger.Logger
	HandleTimeout time.Duration
}

func NewReplayService(params ReplayParams) (*ReplayService, error) {
	if params.DB == nil {
		return nil, errors.New("transaction runner is required")
	}
	if params.Failed == nil {
		return nil, errors.New("failed-event repository is required")
	}
	if params.Ledger == nil {
		return nil, errors.New("ledger repository is required")
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
	return &ReplayService{
		db:            params.DB,
		failed:        params.Failed,
		ledger:        params.Ledger,
		effects:       params.Effects,
		logg:          params.Logger,
		handleTimeout: timeout,
	}, nil
}

// List returns the most recently failed events first.
func (s *ReplayService) List(ctx context.Context, limit int) ([]models.FailedEvent, error) {
	return s.failed.List(ctx, limit)
}

// Retry re-drives the stored raw message through the consumer dispatch path
// in a single transaction. On success the dead-letter row is deleted in the
// same transaction; on failure the row is left exactly as it was so the
// operator can retry again, and the attempt never increments retry_count.
func (s *ReplayService) Retry(ctx context.Context, eventID string) error {
	row, err := s.failed.FindByEventID(ctx, eventID)
	if err != nil {
		return err
	}
	if row == nil {
		return pkgerrors.New(pkgerrors.CodeNotFound, fmt.Sprintf("failed event %s not found", eventID))
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"event_id":  row.EventID,
		"topic":     row.Topic,
		"partition": row.Partition,
		"offset":    row.Offset,
	})
	s.logg.Info(logCtx, "retrying failed event")

	key, eventType, apply, err := s.replayPlan(row)
	if err != nil {
		s.logg.Error(logCtx, "failed event is not replayable", err)
		return err
	}

	attemptCtx, cancel := context.WithTimeout(ctx, s.handleTimeout)
	defer cancel()

	err = s.db.WithTx(attemptCtx, func(tx *gorm.DB) error {
		exists, err := s.ledger.ExistsTx(tx, key)
		if err != nil {
			return err
		}
		if !exists {
			if err := apply(attemptCtx, tx); err != nil {
				return err
			}
			if err := s.ledger.InsertTx(tx, key, eventType); err != nil {
				return err
			}
		}
		return s.failed.DeleteTx(tx, row.ID)
	})
	if err != nil {
		s.logg.Error(logCtx, "failed event retry unsuccessful", err)
		return err
	}

	s.logg.Info(logCtx, "failed event replayed")
	return nil
}

// replayPlan rebuilds the dispatchable form of a dead-lettered message. A
// payload that still does not deserialize is not replayable; the operator
// has to resolve it out of band.
func (s *ReplayService) replayPlan(row *models.FailedEvent) (string, string, func(context.Context, *gorm.DB) error, error) {
	switch row.EventType {
	case enums.FailedKindUserEvent:
		var event payloads.UserEvent
		if err := json.Unmarshal(row.RawMessage, &event); err != nil {
			return "", "", nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "stored payload does not deserialize")
		}
		if event.ID == uuid.Nil {
			return "", "", nil, pkgerrors.New(pkgerrors.CodeValidation, "stored payload has no event id")
		}
		apply := func(ctx context.Context, tx *gorm.DB) error {
			return s.dispatchUserEvent(ctx, tx, &event)
		}
		return userEventKey(&event), event.Type, apply, nil
	case enums.FailedKindProfileUpdated:
		var event payloads.ProfileUpdatedEvent
		if err := json.Unmarshal(row.RawMessage, &event); err != nil {
			return "", "", nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "stored payload does not deserialize")
		}
		if strings.TrimSpace(event.UserID) == "" {
			return "", "", nil, pkgerrors.New(pkgerrors.CodeValidation, "stored payload has no user id")
		}
		apply := func(ctx context.Context, tx *gorm.DB) error {
			return s.effects.ApplyProfileUpdated(ctx, tx, &event)
		}
		return profileEventKey(&event), string(enums.FailedKindProfileUpdated), apply, nil
	default:
		return "", "", nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown failed event type %q", row.EventType))
	}
}

func (s *ReplayService) dispatchUserEvent(ctx context.Context, tx *gorm.DB, event *payloads.UserEvent) error {
	switch enums.OutboxEventType(event.Type) {
	case enums.EventUserDeleted:
		return s.effects.ApplyUserDeleted(ctx, tx, event.AggregateID)
	case enums.EventUserCreated, enums.EventUserUpdated:
		s.logg.Info(s.logg.WithAggregateID(ctx, event.AggregateID), "replayed informational event")
		return nil
	default:
		s.logg.Warn(s.logg.WithField(ctx, "unknown_type", event.Type), "unknown event type, ignoring")
		return nil
	}
}

// Stats summarizes both sides of the delivery pipeline for the operations
// endpoint: how much has been processed and how much is stuck.
type Stats struct {
	ProcessedTotal        int64 `json:"processedTotal"`
	ProcessedUserEvents   int64 `json:"processedUserEvents"`
	ProcessedProfileSyncs int64 `json:"processedProfileSyncs"`
	FailedPending         int64 `json:"failedPending"`
}

func (s *ReplayService) Stats(ctx context.Context) (*Stats, error) {
	total, err := s.ledger.Count(ctx)
	if err != nil {
		return nil, err
	}
	profile, err := s.ledger.CountByEventType(ctx, string(enums.FailedKindProfileUpdated))
	if err != nil {
		return nil, err
	}
	failed, err := s.failed.Count(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		ProcessedTotal:        total,
		ProcessedUserEvents:   total - profile,
		ProcessedProfileSyncs: profile,
		FailedPending:         failed,
	}, nil
}
