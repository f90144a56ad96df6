package outbox

import (
	"strings"

	"github.com/helioslabs/userhub/pkg/config"
	"github.com/helioslabs/userhub/pkg/enums"
)

// TopicRouter maps event types to bus topics. Unmapped types fall back to the
// default topic so adding an event type never drops it on the floor.
type TopicRouter struct {
	routes       map[enums.OutboxEventType]string
	defaultTopic string
}

// NewTopicRouter builds the static routing table from configuration.
func NewTopicRouter(cfg config.KafkaConfig) *TopicRouter {
	defaultTopic := strings.TrimSpace(cfg.UserEventsTopic)
	if defaultTopic == "" {
		defaultTopic = "user-events"
	}
	profileTopic := strings.TrimSpace(cfg.ProfileUpdatedTopic)
	if profileTopic == "" {
		profileTopic = "profile-updated"
	}
	return &TopicRouter{
		routes: map[enums.OutboxEventType]string{
			enums.EventProfileUpdated: profileTopic,
		},
		defaultTopic: defaultTopic,
	}
}

// TopicFor resolves the topic for an event type.
func (r *TopicRouter) TopicFor(eventType enums.OutboxEventType) string {
	if topic, ok := r.routes[eventType]; ok {
		return topic
	}
	return r.defaultTopic
}

// Topics lists every distinct topic the router can produce to.
func (r *TopicRouter) Topics() []string {
	seen := map[string]bool{r.defaultTopic: true}
	topics := []string{r.defaultTopic}
	for _, topic := range r.routes {
		if !seen[topic] {
			seen[topic] = true
			topics = append(topics, topic)
		}
	}
	return topics
}
