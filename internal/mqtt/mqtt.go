// Package mqtt publishes irrigation events to an MQTT broker.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/irrigationd/internal/events"
)

// DefaultTopic is the MQTT topic for irrigation events.
const DefaultTopic = "irrigation/controller/events"

// Payload represents the MQTT message payload structure.
type Payload struct {
	Event EventPayload `json:"event"`
}

// EventPayload contains the event details.
type EventPayload struct {
	Timestamp string `json:"timestamp"`
	EventTime int64  `json:"event_time"`
	Source    string `json:"source"`
	Type      string `json:"type"`
	DeviceID  string `json:"device_id,omitempty"`
	Text      string `json:"text"`
}

// FormatPayload creates the JSON payload for an event.
func FormatPayload(e events.Event) ([]byte, error) {
	payload := Payload{
		Event: EventPayload{
			Timestamp: e.Time.UTC().Format(time.RFC3339),
			EventTime: e.EpochMillis(),
			Source:    e.Source,
			Type:      string(e.Type),
			DeviceID:  e.DeviceID,
			Text:      e.Text,
		},
	}
	return json.Marshal(payload)
}

// DeviceTopic returns the per-device subtopic, or the base topic for system events.
func DeviceTopic(base string, e events.Event) string {
	if e.DeviceID == "" {
		return base + "/system"
	}
	return base + "/" + e.DeviceID
}
