package events

import (
	"fmt"
	"time"

	"github.com/helioslabs/userhub/pkg/outbox/payloads"
)

// userEventKey is the domain event's own id, used verbatim.
func userEventKey(event *payloads.UserEvent) string {
	return event.ID.String()
}

// profileEventKey derives a deterministic key from the aggregate id and the
// event's timestamp, since ProfileUpdated carries no id of its own. Two
// distinct updates inside the same timestamp granularity collide and the
// second is dropped; observed behavior, kept as is.
func profileEventKey(event *payloads.ProfileUpdatedEvent) string {
	return fmt.Sprintf("profile_updated_%s_%s", event.UserID, event.Timestamp.UTC().Format(time.RFC3339Nano))
}

// failedEventID names a dead-letter row from its source coordinates plus the
// failure time. It must not depend on the payload: malformed messages have no
// parseable domain id.
func failedEventID(topic string, partition int, offset int64, at time.Time) string {
	return fmt.Sprintf("%s_%d_%d_%d", topic, partition, offset, at.UnixMilli())
}
