package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/helioslabs/userhub/pkg/db/models"
	"github.com/helioslabs/userhub/pkg/enums"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Insert appends a PENDING row inside the caller's transaction.
func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.Status == "" {
		event.Status = enums.OutboxStatusPending
	}
	return tx.Create(&event).Error
}

// FetchPending returns up to limit PENDING rows, oldest first. FIFO by
// creation time approximates causal ordering per aggregate.
func (r *Repository) FetchPending(ctx context.Context, limit int) ([]models.OutboxEvent, error) {
	var rows []models.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("status = ?", enums.OutboxStatusPending).
		Order("created_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// MarkProcessed stamps a row after a successful publish.
func (r *Repository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":       enums.OutboxStatusProcessed,
			"processed_at": time.Now().UTC(),
		}).Error
}

// MarkFailed records a terminal publish failure. There is no automatic
// re-publish path; the row itself is the audit trail for operators.
func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	updates := map[string]any{
		"status": enums.OutboxStatusFailed,
	}
	if cause != nil {
		msg := cause.Error()
		updates["last_error"] = &msg
	}
	return r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// CountByStatus reports rows per status for operator visibility.
func (r *Repository) CountByStatus(ctx context.Context, status enums.OutboxStatus) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.OutboxEvent{}).
		Where("status = ?", status).
		Count(&count).Error
	return count, err
}
