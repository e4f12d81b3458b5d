package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/irrigationd/internal/config"
	"github.com/sweeney/irrigationd/internal/events"
	"github.com/sweeney/irrigationd/internal/gpio"
	"github.com/sweeney/irrigationd/internal/registry"
	"github.com/sweeney/irrigationd/internal/schedule"
)

const devicesYAML = `devices:
  - id: S1
    name: Front lawn
    type: irrigation
    gpioPin: 17
    maxOnMinutes: 30
    enabled: true
  - id: S2
    name: Back beds
    type: irrigation
    gpioPin: 18
    maxOnMinutes: 0
    enabled: true
`

const schedulesJSON = `[
  {"name": "morning", "description": "", "deviceId": "S1", "action": "on", "durationMinutes": 10, "active": true,
   "rule": {"second": 0, "minute": 0, "hour": 6, "date": null, "month": null, "dayOfWeek": null}},
  {"name": "paused", "description": "", "deviceId": "S2", "action": "off", "durationMinutes": 0, "active": false,
   "rule": {"second": 0, "minute": 0, "hour": 7, "date": null, "month": null, "dayOfWeek": null}}
]`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Log.Level = "error"
	cfg.Timezone = "UTC"
	cfg.Data.Devices = filepath.Join(dir, "devices.yaml")
	cfg.Data.Schedules = filepath.Join(dir, "schedules.json")
	cfg.Data.EventsDB = filepath.Join(dir, "eventlog.sqlite")
	cfg.HTTP.Addr = ""
	require.NoError(t, os.WriteFile(cfg.Data.Devices, []byte(devicesYAML), 0o644))
	require.NoError(t, os.WriteFile(cfg.Data.Schedules, []byte(schedulesJSON), 0o644))
	return cfg
}

func stopped() <-chan os.Signal {
	ch := make(chan os.Signal, 1)
	ch <- syscall.SIGTERM
	return ch
}

func systemEvents(t *testing.T, cfg config.Config) []events.Event {
	t.Helper()
	evlog, err := events.OpenSQLite(cfg.Data.EventsDB)
	require.NoError(t, err)
	defer evlog.Close()
	list, err := evlog.Query(context.Background(), events.Query{Source: SystemSource})
	require.NoError(t, err)
	return list
}

func TestRunStartsAndStopsCleanly(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Addr = "127.0.0.1:0"
	opener := gpio.NewFakeOpener(map[int]bool{17: true})

	require.NoError(t, run(context.Background(), cfg, zerolog.Nop(), opener, stopped()))

	for _, pin := range []int{17, 18} {
		l := opener.Line(pin)
		require.NotNil(t, l)
		assert.False(t, l.Value(), "pin %d left on", pin)
		assert.True(t, l.IsClosed(), "pin %d not released", pin)
	}
	assert.True(t, opener.Closed)

	sys := systemEvents(t, cfg)
	require.Len(t, sys, 2)
	assert.Contains(t, sys[0].Text, "stopped")
	assert.Contains(t, sys[0].Text, syscall.SIGTERM.String())
	assert.Contains(t, sys[1].Text, "started")
	assert.Equal(t, events.TypeInfo, sys[1].Type)
	assert.Empty(t, sys[1].DeviceID)
}

func TestRunRegistryFailureIsFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Data.Devices = filepath.Join(t.TempDir(), "missing.yaml")
	opener := gpio.NewFakeOpener(nil)

	err := run(context.Background(), cfg, zerolog.Nop(), opener, stopped())
	require.Error(t, err)
	assert.True(t, errors.Is(err, registry.ErrRegistry))
	assert.True(t, opener.Closed)
	assert.Empty(t, systemEvents(t, cfg))
}

func TestRunScheduleStoreFailureReleasesStations(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Data.Schedules, []byte("{oops"), 0o644))
	opener := gpio.NewFakeOpener(map[int]bool{18: true})

	err := run(context.Background(), cfg, zerolog.Nop(), opener, stopped())
	require.Error(t, err)
	assert.True(t, errors.Is(err, schedule.ErrStorage))
	assert.False(t, opener.Line(18).Value())
	assert.True(t, opener.Line(18).IsClosed())
}

func TestRunEventLogFailureIsFatal(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))
	cfg.Data.EventsDB = filepath.Join(blocker, "eventlog.sqlite")

	err := run(context.Background(), cfg, zerolog.Nop(), gpio.NewFakeOpener(nil), stopped())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "event log")
}

func writeConfigFile(t *testing.T, cfg config.Config) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	body := "log:\n  level: error\ntimezone: UTC\ndata:\n" +
		"  devices: " + cfg.Data.Devices + "\n" +
		"  schedules: " + cfg.Data.Schedules + "\n" +
		"  events_db: " + cfg.Data.EventsDB + "\n"
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestSchedulesCommand(t *testing.T) {
	cfg := testConfig(t)
	out, err := execute(t, "schedules", "--config", writeConfigFile(t, cfg))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.Contains(t, lines[1], "morning")
	assert.Contains(t, lines[1], "06:00:00 UTC")
	assert.Contains(t, lines[2], "paused")
	assert.True(t, strings.HasSuffix(lines[2], "-"))
}

func TestPrintSchedules(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	list := []schedule.Entry{
		{Name: "z-never", DeviceID: "S1", Action: schedule.ActionOn, Active: true, Rule: &schedule.Rule{Date: schedule.At(31), Month: schedule.At(2)}},
		{Name: "a-daily", DeviceID: "S2", Action: schedule.ActionOn, DurationMinutes: 15, Active: true, Rule: schedule.Daily(6, 0)},
	}
	var buf bytes.Buffer
	require.NoError(t, printSchedules(&buf, list, now))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "a-daily")
	assert.Contains(t, lines[1], "15")
	assert.Contains(t, lines[1], "2026-05-02 06:00:00 UTC")
	assert.Contains(t, lines[2], "max")
	assert.True(t, strings.HasSuffix(lines[2], "never"))
}

func TestEventsCommand(t *testing.T) {
	cfg := testConfig(t)
	evlog, err := events.OpenSQLite(cfg.Data.EventsDB)
	require.NoError(t, err)
	base := time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)
	for i, e := range []events.Event{
		{Source: "StationControl", Type: events.TypeInfo, DeviceID: "S1", Text: "Turned ON Front lawn"},
		{Source: "StationControl", Type: events.TypeWarning, DeviceID: "S1", Text: "Turned OFF Front lawn (forced after 30m0s)"},
		{Source: SystemSource, Type: events.TypeInfo, Text: "Irrigation controller started"},
	} {
		e.Time = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, evlog.Append(context.Background(), e))
	}
	require.NoError(t, evlog.Close())

	out, err := execute(t, "events", "--config", writeConfigFile(t, cfg), "--device", "S1", "--type", "warning")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "forced after")

	out, err = execute(t, "events", "--config", writeConfigFile(t, cfg), "-n", "2")
	require.NoError(t, err)
	lines = strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "controller started")
}

func TestEventsOptionsQuery(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	q, err := (&eventsOptions{typ: "error", since: time.Hour, limit: 5}).query(now)
	require.NoError(t, err)
	assert.Equal(t, events.TypeError, q.Type)
	assert.Equal(t, now.Add(-time.Hour), q.From)
	assert.Equal(t, 5, q.Limit)

	_, err = (&eventsOptions{typ: "loud"}).query(now)
	assert.Error(t, err)
}

func TestExplicitMissingConfigFails(t *testing.T) {
	_, err := execute(t, "schedules", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLogLevelOverrideValidated(t *testing.T) {
	cfg := testConfig(t)
	_, err := execute(t, "schedules", "--config", writeConfigFile(t, cfg), "--log-level", "shouty")
	assert.Error(t, err)
}
