package types

type SuccessEnvelope struct {
	Data any `json:"data"`
}

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// FailedEventSummary is the list/detail representation of a dead-lettered
// event. The raw payload is omitted; operators fetch coordinates, not bytes.
type FailedEventSummary struct {
	EventID      string  `json:"eventId"`
	EventType    string  `json:"eventType"`
	Topic        string  `json:"topic"`
	Partition    int     `json:"partition"`
	Offset       int64   `json:"offset"`
	ErrorMessage string  `json:"errorMessage"`
	FailedAt     string  `json:"failedAt"`
	RetryCount   int     `json:"retryCount"`
	LastRetryAt  *string `json:"lastRetryAt,omitempty"`
	Status       string  `json:"status"`
}

type RetryResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	EventID string `json:"eventId"`
}
