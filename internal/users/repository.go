package users

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

// FindByID loads a live user, or nil when absent.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var row models.User
	err := r.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &row, nil
}

// ExistsByUsername reports whether another live user already holds the name.
func (r *Repository) ExistsByUsername(ctx context.Context, username string, excludeID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("username = ? AND id <> ? AND deleted_at IS NULL", username, excludeID).
		Count(&count).Error
	return count > 0, err
}

// ExistsByEmail reports whether another live user already holds the email.
func (r *Repository) ExistsByEmail(ctx context.Context, email string, excludeID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.User{}).
		Where("email = ? AND id <> ? AND deleted_at IS NULL", email, excludeID).
		Count(&count).Error
	return count > 0, err
}

// CreateTx inserts a user row inside the caller's transaction.
func (r *Repository) CreateTx(tx *gorm.DB, row *models.User) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	return tx.Create(row).Error
}

// SaveTx persists field changes inside the caller's transaction.
func (r *Repository) SaveTx(tx *gorm.DB, row *models.User) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Save(row).Error
}

// SoftDeleteTx tombstones the user inside the caller's transaction.
func (r *Repository) SoftDeleteTx(tx *gorm.DB, id uuid.UUID) error {
	if tx == nil {
		return errors.New("transaction required")
	}
	return tx.Model(&models.User{}).
		Where("id = ?", id).
		Update("deleted_at", gorm.Expr("CURRENT_TIMESTAMP")).Error
}
