package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sweeney/irrigationd/internal/events"
	"github.com/sweeney/irrigationd/internal/station"
)

const (
	statusOK    = "OK"
	statusError = "ERROR"
)

// Envelope wraps every API response.
type Envelope struct {
	Status string `json:"status"`
	Data   any    `json:"data,omitempty"`
	Error  string `json:"error,omitempty"`
}

// OperationRequest is the body of a station operation.
type OperationRequest struct {
	Action   string `json:"action"`
	Duration int    `json:"duration"` // minutes; 0 uses the station limit
}

// DeviceJSON is a station with the number of schedules that drive it.
type DeviceJSON struct {
	station.Info
	Schedules int `json:"schedules"`
}

// EventJSON is the JSON representation of a logged event.
type EventJSON struct {
	Timestamp string `json:"timestamp"`
	EventTime int64  `json:"event_time"`
	Source    string `json:"source"`
	Type      string `json:"type"`
	DeviceID  string `json:"device_id,omitempty"`
	Text      string `json:"text"`
}

func formatEvent(e events.Event) EventJSON {
	return EventJSON{
		Timestamp: e.Time.UTC().Format(time.RFC3339),
		EventTime: e.EpochMillis(),
		Source:    e.Source,
		Type:      string(e.Type),
		DeviceID:  e.DeviceID,
		Text:      e.Text,
	}
}

func writeJSON(w http.ResponseWriter, code int, v Envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeData(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, Envelope{Status: statusOK, Data: data})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, Envelope{Status: statusError, Error: msg})
}
