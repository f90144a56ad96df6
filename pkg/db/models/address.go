package models

import (
	"time"

	"github.com/google/uuid"
)

// Address is a downstream projection owned by the address service. UserID is
// the aggregate identifier carried on user events, stored as an explicit
// foreign-key column; cascade deletes happen in application code.
type Address struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID     string    `gorm:"column:user_id;type:text;not null;index"`
	Line1      string    `gorm:"column:line1;not null"`
	City       string    `gorm:"column:city"`
	State      string    `gorm:"column:state"`
	Country    string    `gorm:"column:country"`
	PostalCode string    `gorm:"column:postal_code"`
	// FromProfile marks rows derived from ProfileUpdated events rather than
	// user-entered addresses. One derived row per user.
	FromProfile bool      `gorm:"column:from_profile;not null;default:false"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Address) TableName() string {
	return "addresses"
}
