package models

import "time"

// ProcessedEvent is the idempotency ledger. The unique constraint on event_id
// is the enforcement mechanism: a second insert for the same key fails, which
// closes the race between concurrent redeliveries of one message.
type ProcessedEvent struct {
	ID          uint      `gorm:"column:id;primaryKey;autoIncrement"`
	EventID     string    `gorm:"column:event_id;type:text;not null;uniqueIndex"`
	EventType   string    `gorm:"column:event_type;type:text;not null;index"`
	ProcessedAt time.Time `gorm:"column:processed_at;autoCreateTime;index"`
}

func (ProcessedEvent) TableName() string {
	return "processed_events"
}
