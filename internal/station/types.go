// Package station owns the live on/off state of every irrigation station and
// its safety auto-shutoff timer.
package station

import (
	"time"

	"github.com/cockroachdb/errors"
)

// Source is the event source recorded for station transitions.
const Source = "StationControl"

var (
	// ErrUnknownStation is returned for ids not present in the registry snapshot.
	ErrUnknownStation = errors.New("unknown station")

	// ErrActuator marks a failed write or read on the station's output line.
	ErrActuator = errors.New("actuator failure")
)

// State is the logical output state of a station.
type State string

const (
	StateOn  State = "ON"
	StateOff State = "OFF"
)

func stateOf(on bool) State {
	if on {
		return StateOn
	}
	return StateOff
}

// Action labels recorded as a station's last event.
const (
	ActionTurnedOn  = "Turned ON"
	ActionTurnedOff = "Turned OFF"
)

// LastEvent is the most recent transition applied to a station.
type LastEvent struct {
	Time   time.Time `json:"time"`
	Action string    `json:"action"`
}

// Info is a read-only snapshot of a station.
type Info struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	GPIOPin      int        `json:"gpioPin"`
	MaxOnMinutes int        `json:"maxOnMinutes"`
	Enabled      bool       `json:"enabled"`
	State        State      `json:"state"`
	OffAt        *time.Time `json:"offAt,omitempty"` // deadline of the armed safety timer
	LastEvent    *LastEvent `json:"lastEvent,omitempty"`
}

// Status is the actuator read-back for one station.
type Status struct {
	ID    string `json:"id"`
	State State  `json:"status"`
}

// Timer is a pending one-shot callback. *time.Timer satisfies it.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f to run after d.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
