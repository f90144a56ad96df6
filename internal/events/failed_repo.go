package events

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/helioslabs/userhub/pkg/db/models"
	"github.com/helioslabs/userhub/pkg/enums"
	"github.com/helioslabs/userhub/pkg/pagination"
)

const maxStoredErrorLen = 4096

// FailedEventRepository is the dead-letter store over failed_events.
type FailedEventRepository struct {
	db *gorm.DB
}

func NewFailedEventRepository(db *gorm.DB) *FailedEventRepository {
	return &FailedEventRepository{db: db}
}

// Insert persists a dead-lettered message with its source coordinates.
func (r *FailedEventRepository) Insert(ctx context.Context, row models.FailedEvent) error {
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	if row.Status == "" {
		row.Status = enums.FailedEventStatusPending
	}
	// raw_message is not null: an empty poison payload still gets a row.
	if row.RawMessage == nil {
		row.RawMessage = []byte{}
	}
	row.ErrorMessage = truncateError(row.ErrorMessage)
	row.ErrorStackTrace = truncateError(row.ErrorStackTrace)
	return r.db.WithContext(ctx).Create(&row).Error
}

// List returns the most recent failures first.
func (r *FailedEventRepository) List(ctx context.Context, limit int) ([]models.FailedEvent, error) {
	limit = pagination.ClampLimit(limit)
	var rows []models.FailedEvent
	err := r.db.WithContext(ctx).
		Order("failed_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// FindByEventID loads one failure by its derived event id, or nil.
func (r *FailedEventRepository) FindByEventID(ctx context.Context, eventID string) (*models.FailedEvent, error) {
	var row models.FailedEvent
	err := r.db.WithContext(ctx).Where("event_id = ?", eventID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// DeleteTx removes a resolved failure inside the caller's transaction so the
// removal commits together with the replayed effect.
func (r *FailedEventRepository) DeleteTx(tx *gorm.DB, id uuid.UUID) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Where("id = ?", id).Delete(&models.FailedEvent{}).Error
}

// Count returns the number of stored failures.
func (r *FailedEventRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.FailedEvent{}).Count(&count).Error
	return count, err
}

func truncateError(message string) string {
	if len(message) <= maxStoredErrorLen {
		return message
	}
	return message[:maxStoredErrorLen]
}
