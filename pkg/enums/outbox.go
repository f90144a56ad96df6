package enums

import "fmt"

// OutboxStatus tracks the lifecycle of an outbox row.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "PENDING"
	OutboxStatusProcessed OutboxStatus = "PROCESSED"
	OutboxStatusFailed    OutboxStatus = "FAILED"
)

var validOutboxStatuses = []OutboxStatus{
	OutboxStatusPending,
	OutboxStatusProcessed,
	OutboxStatusFailed,
}

func (s OutboxStatus) IsValid() bool {
	for _, candidate := range validOutboxStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// OutboxAggregateType identifies the kind of aggregate an event describes.
type OutboxAggregateType string

const (
	AggregateUser OutboxAggregateType = "User"
)

// OutboxEventType identifies the domain event carried by an outbox row.
// ProfileUpdated keeps its historical mixed-case wire name.
type OutboxEventType string

const (
	EventUserCreated    OutboxEventType = "USER_CREATED"
	EventUserUpdated    OutboxEventType = "USER_UPDATED"
	EventUserDeleted    OutboxEventType = "USER_DELETED"
	EventProfileUpdated OutboxEventType = "ProfileUpdated"
)

var validOutboxEventTypes = []OutboxEventType{
	EventUserCreated,
	EventUserUpdated,
	EventUserDeleted,
	EventProfileUpdated,
}

// IsValid reports whether the value is a known event type.
func (t OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
