package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/helioslabs/userhub/pkg/enums"
)

// FailedEvent is the dead-letter store. It keeps the raw message bytes and the
// source coordinates so a row can be replayed without re-reading the topic.
// EventID is derived from topic+partition+offset+time rather than the domain
// event id, since malformed payloads may have no parseable id.
type FailedEvent struct {
	ID              uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	EventID         string                  `gorm:"column:event_id;type:text;not null;uniqueIndex"`
	EventType       enums.FailedEventKind   `gorm:"column:event_type;type:text;not null"`
	Topic           string                  `gorm:"column:topic;type:text;not null"`
	Partition       int                     `gorm:"column:partition;not null"`
	Offset          int64                   `gorm:"column:message_offset;not null"`
	RawMessage      []byte                  `gorm:"column:raw_message;type:bytea;not null"`
	ErrorMessage    string                  `gorm:"column:error_message;type:text"`
	ErrorStackTrace string                  `gorm:"column:error_stack_trace;type:text"`
	FailedAt        time.Time               `gorm:"column:failed_at;autoCreateTime;index"`
	RetryCount      int                     `gorm:"column:retry_count;not null;default:0"`
	LastRetryAt     *time.Time              `gorm:"column:last_retry_at"`
	Status          enums.FailedEventStatus `gorm:"column:status;type:text;not null;default:PENDING"`
}

func (FailedEvent) TableName() string {
	return "failed_events"
}
