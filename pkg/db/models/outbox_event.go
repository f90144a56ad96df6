package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/helioslabs/userhub/pkg/enums"
)

// OutboxEvent is an append-only event row written in the same transaction as
// the business mutation it describes. Only the publisher mutates it
// afterwards, and only its status and processed_at stamp.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	AggregateID   string                    `gorm:"column:aggregate_id;type:text;not null;index"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:text;not null"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;type:text;not null"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	Status        enums.OutboxStatus        `gorm:"column:status;type:text;not null;default:PENDING;index"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime;index"`
	ProcessedAt   *time.Time                `gorm:"column:processed_at"`
	LastError     *string                   `gorm:"column:last_error"`
}

func (OutboxEvent) TableName() string {
	return "outbox_events"
}
