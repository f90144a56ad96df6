package events

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/helioslabs/userhub/pkg/db/models"
)

// LedgerRepository is the idempotency ledger over processed_events. The
// ExistsTx/InsertTx pair must run in the same transaction as the business
// effect they guard.
type LedgerRepository struct {
	db *gorm.DB
}

func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// ExistsTx reports whether the key was already applied, inside the caller's
// transaction.
func (r *LedgerRepository) ExistsTx(tx *gorm.DB, eventID string) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	var count int64
	err := tx.Model(&models.ProcessedEvent{}).
		Where("event_id = ?", eventID).
		Count(&count).Error
	return count > 0, err
}

// InsertTx records the key inside the caller's transaction. The unique index
// on event_id makes a concurrent double-apply fail at commit.
func (r *LedgerRepository) InsertTx(tx *gorm.DB, eventID, eventType string) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Create(&models.ProcessedEvent{
		EventID:   eventID,
		EventType: eventType,
	}).Error
}

// Exists checks the ledger outside any transaction. Used for read paths only.
func (r *LedgerRepository) Exists(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ProcessedEvent{}).
		Where("event_id = ?", eventID).
		Count(&count).Error
	return count > 0, err
}

// Count returns the total number of ledgered events.
func (r *LedgerRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ProcessedEvent{}).Count(&count).Error
	return count, err
}

// CountByEventType returns ledgered events for one type tag.
func (r *LedgerRepository) CountByEventType(ctx context.Context, eventType string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ProcessedEvent{}).
		Where("event_type = ?", eventType).
		Count(&count).Error
	return count, err
}

// DeleteOlderThan prunes ledger rows processed before the cutoff. Retention
// must exceed the bus's redelivery horizon or idempotency protection lapses.
func (r *LedgerRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("processed_at < ?", cutoff).
		Delete(&models.ProcessedEvent{})
	return result.RowsAffected, result.Error
}
