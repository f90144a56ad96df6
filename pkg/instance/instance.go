package instance

import "os"

// GetID returns the consumer instance identifier used for log correlation
// and Kafka client ids, or a default value.
func GetID() string {
	if id := os.Getenv("USERHUB_WORKER_ID"); id != "" {
		return id
	}
	return "worker-0"
}
