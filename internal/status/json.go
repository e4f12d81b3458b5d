package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	UptimeSeconds int64      `json:"uptime_seconds"`
	StartTime     string     `json:"start_time"`
	Timestamp     string     `json:"timestamp"`
	MQTT          MQTTStatus `json:"mqtt"`
	Counts        CountsJSON `json:"counts"`
	Config        ConfigJSON `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Enabled   bool   `json:"enabled"`
	Connected bool   `json:"connected"`
	Broker    string `json:"broker,omitempty"`
}

// CountsJSON is the JSON representation of station and schedule counts.
type CountsJSON struct {
	Stations   int `json:"stations"`
	StationsOn int `json:"stations_on"`
	Schedules  int `json:"schedules"`
	Jobs       int `json:"jobs"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Timezone string `json:"timezone"`
	GPIOChip string `json:"gpio_chip"`
	HTTPAddr string `json:"http_addr"`
}

func buildInner(snap Snapshot) StatusInner {
	return StatusInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT: MQTTStatus{
			Enabled:   snap.MQTTEnabled,
			Connected: snap.MQTTConnected,
			Broker:    snap.Config.Broker,
		},
		Counts: CountsJSON{
			Stations:   snap.Counts.Stations,
			StationsOn: snap.Counts.StationsOn,
			Schedules:  snap.Counts.Schedules,
			Jobs:       snap.Counts.Jobs,
		},
		Config: ConfigJSON{
			Timezone: snap.Config.Timezone,
			GPIOChip: snap.Config.GPIOChip,
			HTTPAddr: snap.Config.HTTPAddr,
		},
	}
}

// FormatJSON returns the JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}
