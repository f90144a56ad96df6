package enums

// FailedEventStatus tracks the remediation state of a dead-lettered message.
type FailedEventStatus string

const (
	FailedEventStatusPending           FailedEventStatus = "PENDING"
	FailedEventStatusRetrying          FailedEventStatus = "RETRYING"
	FailedEventStatusResolved          FailedEventStatus = "RESOLVED"
	FailedEventStatusPermanentlyFailed FailedEventStatus = "PERMANENTLY_FAILED"
)

var validFailedEventStatuses = []FailedEventStatus{
	FailedEventStatusPending,
	FailedEventStatusRetrying,
	FailedEventStatusResolved,
	FailedEventStatusPermanentlyFailed,
}

func (s FailedEventStatus) IsValid() bool {
	for _, candidate := range validFailedEventStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// FailedEventKind tags which consumer pipeline a dead-lettered message came
// from, so replay knows how to re-deserialize the stored raw bytes.
type FailedEventKind string

const (
	FailedKindUserEvent      FailedEventKind = "USER_EVENT"
	FailedKindProfileUpdated FailedEventKind = "PROFILE_UPDATED"
)
