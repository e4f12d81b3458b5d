// Package status provides a thread-safe view of daemon health for the web
// status page and its JSON twin.
package status

import (
	"sync"
	"time"
)

// Config contains daemon configuration for display.
type Config struct {
	Broker   string
	HTTPAddr string
	Timezone string
	GPIOChip string
}

// Counts summarises the controlled stations and the schedule set.
type Counts struct {
	Stations   int
	StationsOn int
	Schedules  int
	Jobs       int
}

// Snapshot is a point-in-time view of daemon state.
type Snapshot struct {
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	MQTTEnabled   bool
	Counts        Counts
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds daemon state behind an RWMutex.
type Tracker struct {
	mu        sync.RWMutex
	snap      Snapshot
	mqttProbe func() bool
	now       func() time.Time
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		now: time.Now,
	}
}

// SetMQTTProbe installs the function reporting broker connectivity. Without a
// probe MQTT is shown as disabled.
func (t *Tracker) SetMQTTProbe(probe func() bool) {
	t.mu.Lock()
	t.mqttProbe = probe
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state with counts.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot(counts Counts) Snapshot {
	t.mu.RLock()
	s := t.snap
	probe := t.mqttProbe
	t.mu.RUnlock()

	if probe != nil {
		s.MQTTEnabled = true
		s.MQTTConnected = probe()
	}
	s.Counts = counts
	s.Now = t.now()
	return s
}
