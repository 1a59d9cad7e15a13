package events

import (
	"encoding/json"
	"time"
)

// Topics for release event streams.
const (
	TopicBranches     = "branches"
	TopicEnvironments = "environments"
	TopicPipelines    = "pipelines"
)

// Event is the structured notification emitted after a mutating release
// operation. Delivery beyond the hub is a collaborator's concern.
type Event struct {
	Kind    string    `json:"kind"`
	Entity  string    `json:"entity"`
	Success bool      `json:"success"`
	Error   string    `json:"error,omitempty"`
	Detail  any       `json:"detail,omitempty"`
	At      time.Time `json:"at"`
}

// Publish marshals an event onto a hub topic. A nil hub drops the event.
func Publish(h *Hub, topic string, event Event) {
	if h == nil {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.Broadcast(topic, payload)
}
