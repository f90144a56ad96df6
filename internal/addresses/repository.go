package addresses

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/helioslabs/userhub/pkg/db/models"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// ListByUserID returns every address row for the aggregate.
func (r *Repository) ListByUserID(ctx context.Context, userID string) ([]models.Address, error) {
	var rows []models.Address
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

// CountByUserID reports how many address rows the aggregate owns.
func (r *Repository) CountByUserID(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Address{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}

// DeleteAllForUserTx removes every address row for the aggregate inside the
// caller's transaction. Zero rows affected is not an error: the cascade is
// delete-if-exists so re-running it is safe.
func (r *Repository) DeleteAllForUserTx(tx *gorm.DB, userID string) (int64, error) {
	if tx == nil {
		return 0, errors.New("transaction required")
	}
	result := tx.Where("user_id = ?", userID).Delete(&models.Address{})
	return result.RowsAffected, result.Error
}

// FindProfileAddressTx loads the single profile-derived row for the user, or
// nil when none exists yet.
func (r *Repository) FindProfileAddressTx(tx *gorm.DB, userID string) (*models.Address, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	var row models.Address
	err := tx.Where("user_id = ? AND from_profile = ?", userID, true).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// SaveTx inserts or updates an address row inside the caller's transaction.
func (r *Repository) SaveTx(tx *gorm.DB, row *models.Address) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
		return tx.Create(row).Error
	}
	return tx.Save(row).Error
}
