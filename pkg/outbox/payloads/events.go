package payloads

import (
	"time"

	"github.com/google/uuid"
)

// UserEvent is the wire envelope published on the user-events topic and
// consumed downstream. Its id doubles as the consumer's idempotency key.
type UserEvent struct {
	ID            uuid.UUID    `json:"id"`
	AggregateType string       `json:"aggregateType"`
	AggregateID   string       `json:"aggregateId"`
	Type          string       `json:"type"`
	Payload       *UserPayload `json:"payload,omitempty"`
	OccurredAt    time.Time    `json:"occurredAt"`
}

// UserPayload carries the user fields embedded in a UserEvent.
type UserPayload struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	Email       string  `json:"email"`
	FirstName   string  `json:"firstName,omitempty"`
	LastName    string  `json:"lastName,omitempty"`
	PhoneNumber *string `json:"phoneNumber,omitempty"`
	DateOfBirth *string `json:"dateOfBirth,omitempty"`
}

// ProfileUpdatedEvent is the wire shape published on the profile-updated
// topic. It has no event id of its own; consumers derive an idempotency key
// from UserID plus Timestamp.
type ProfileUpdatedEvent struct {
	UserID      string       `json:"userId"`
	Username    string       `json:"username,omitempty"`
	Email       string       `json:"email,omitempty"`
	FirstName   string       `json:"firstName,omitempty"`
	LastName    string       `json:"lastName,omitempty"`
	PhoneNumber *string      `json:"phoneNumber,omitempty"`
	Address     *AddressInfo `json:"address,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// AddressInfo is the embedded address block on a profile update.
type AddressInfo struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
}
