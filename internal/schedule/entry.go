// Package schedule maps named recurring rules onto station on/off actions and
// keeps their live triggers in step with edits.
package schedule

import (
	"math"
	"time"

	"github.com/cockroachdb/errors"
)

// MaxDurationMinutes is the longest run a time.Duration can hold.
const MaxDurationMinutes = math.MaxInt64 / int64(time.Minute)

// ErrInvalidDuration is returned for run times beyond MaxDurationMinutes.
var ErrInvalidDuration = errors.New("invalid run duration")

// Action is what a schedule does to its station when it fires.
type Action string

const (
	ActionOn  Action = "on"
	ActionOff Action = "off"
)

// Known reports whether a is a recognized action. Unknown actions are stored
// as-is and ignored with a warning when they fire.
func (a Action) Known() bool {
	return a == ActionOn || a == ActionOff
}

// Entry is one user-defined recurring rule.
type Entry struct {
	Name            string `json:"name"`
	Description     string `json:"description"`
	DeviceID        string `json:"deviceId"`
	Action          Action `json:"action"`
	DurationMinutes int    `json:"durationMinutes"`
	Active          bool   `json:"active"`
	Rule            *Rule  `json:"rule"`
}

// Duration returns the run time for an "on" action; zero defers to the
// station's own limit.
func (e Entry) Duration() time.Duration {
	if e.Action != ActionOn || e.DurationMinutes <= 0 {
		return 0
	}
	return time.Duration(e.DurationMinutes) * time.Minute
}

func (e Entry) validateDuration() error {
	if int64(e.DurationMinutes) > MaxDurationMinutes {
		return errors.Wrapf(ErrInvalidDuration, "schedule %q: %d minutes exceeds %d", e.Name, e.DurationMinutes, MaxDurationMinutes)
	}
	return nil
}

// schedulable reports whether the entry should have a live job.
func (e Entry) schedulable() bool {
	return e.Active && e.Rule != nil
}

func (e Entry) clone() Entry {
	e.Rule = e.Rule.clone()
	return e
}
