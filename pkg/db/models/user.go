package models

import (
	"time"

	"github.com/google/uuid"
)

// User represents the canonical identity entity owned by the user service.
type User struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Username    string     `gorm:"type:text;not null;uniqueIndex"`
	Email       string     `gorm:"type:text;not null;uniqueIndex"`
	FirstName   string     `gorm:"column:first_name"`
	LastName    string     `gorm:"column:last_name"`
	PhoneNumber *string    `gorm:"column:phone_number"`
	DateOfBirth *string    `gorm:"column:date_of_birth"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time  `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt   *time.Time `gorm:"column:deleted_at;index"`
}

func (User) TableName() string {
	return "users"
}
