package mesh

import (
	"context"
	"encoding/json"
	"time"
)

const (
	// TopicServiceUpdated fires after a service row or its proxy fragment changed.
	TopicServiceUpdated = "portal.service.updated"
	// TopicServiceDeleted fires after a service and its dependents were removed.
	TopicServiceDeleted = "portal.service.deleted"
	// TopicGrantsChanged fires when a user's access to a service changed.
	TopicGrantsChanged = "portal.grants.changed"
)

type Event struct {
	Topic     string          `json:"topic"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"ts"`
	Origin    string          `json:"origin,omitempty"`
}

// ServicePayload identifies the service (and optionally the user) an event is about.
type ServicePayload struct {
	ServiceID string `json:"service_id"`
	UserID    int64  `json:"user_id,omitempty"`
}

// NewServiceEvent builds an event carrying a ServicePayload.
func NewServiceEvent(topic, serviceID string, userID int64) Event {
	payload, _ := json.Marshal(ServicePayload{ServiceID: serviceID, UserID: userID})
	return Event{Topic: topic, Payload: payload}
}

// ServiceOf decodes the ServicePayload of e.
func ServiceOf(e Event) (ServicePayload, bool) {
	var p ServicePayload
	if len(e.Payload) == 0 || json.Unmarshal(e.Payload, &p) != nil || p.ServiceID == "" {
		return ServicePayload{}, false
	}
	return p, true
}

type Handler func(ctx context.Context, e Event)

type Bus interface {
	Publish(ctx context.Context, e Event) error
	Subscribe(topic string, h Handler) (unsubscribe func(), err error)
	Close() error
}
