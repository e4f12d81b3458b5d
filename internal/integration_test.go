package internal

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sweeney/irrigationd/internal/events"
	"github.com/sweeney/irrigationd/internal/gpio"
	"github.com/sweeney/irrigationd/internal/registry"
	"github.com/sweeney/irrigationd/internal/schedule"
	"github.com/sweeney/irrigationd/internal/station"
)

var devices = registry.Static{
	{ID: "S1", Name: "Front lawn", Type: registry.TypeIrrigation, GPIOPin: 17, MaxOnMinutes: 30, Enabled: true},
	{ID: "S2", Name: "Back beds", Type: registry.TypeIrrigation, GPIOPin: 18, MaxOnMinutes: 20, Enabled: true},
}

type manualTimer struct {
	d       time.Duration
	f       func()
	stopped bool
}

func (t *manualTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

// manualTimers hands out timers that only fire when told to.
type manualTimers struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (m *manualTimers) AfterFunc(d time.Duration, f func()) station.Timer {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &manualTimer{d: d, f: f}
	m.timers = append(m.timers, t)
	return t
}

func (m *manualTimers) last(t *testing.T) *manualTimer {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.timers, "no timer was armed")
	return m.timers[len(m.timers)-1]
}

type rig struct {
	ctrl   *station.Controller
	engine *schedule.Engine
	gpio   *gpio.FakeOpener
	sink   *events.Recorder
	timers *manualTimers
}

func newRig(t *testing.T, store schedule.Store, opts ...station.Option) *rig {
	t.Helper()
	r := &rig{
		gpio:   gpio.NewFakeOpener(nil),
		sink:   events.NewRecorder(),
		timers: &manualTimers{},
	}
	if len(opts) == 0 {
		opts = []station.Option{station.WithAfterFunc(r.timers.AfterFunc)}
	}
	r.ctrl = station.New(devices, r.gpio, r.sink, zerolog.Nop(), opts...)
	require.NoError(t, r.ctrl.Init(context.Background()))
	r.engine = schedule.NewEngine(store, r.ctrl, time.UTC, zerolog.Nop())
	require.NoError(t, r.engine.Load(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		r.engine.Stop(ctx)
		r.ctrl.Shutdown(ctx)
	})
	return r
}

func (r *rig) status(t *testing.T, id string) station.State {
	t.Helper()
	s, err := r.ctrl.Status(id)
	require.NoError(t, err)
	return s
}

func forced(evs []events.Event) []events.Event {
	var out []events.Event
	for _, e := range evs {
		if strings.Contains(e.Text, "forced") {
			out = append(out, e)
		}
	}
	return out
}

// Station S1 with a 30 minute limit is switched on and left alone.
func TestSafetyLimitForcesStationOff(t *testing.T) {
	r := newRig(t, schedule.NewMemStore())

	require.NoError(t, r.ctrl.Switch(context.Background(), "S1", true, 0))
	assert.Equal(t, station.StateOn, r.status(t, "S1"))

	tm := r.timers.last(t)
	assert.Equal(t, 30*time.Minute, tm.d)
	tm.f()

	assert.Equal(t, station.StateOff, r.status(t, "S1"))
	warn := r.sink.Filter("S1", events.TypeWarning)
	require.Len(t, warn, 1)
	assert.True(t, strings.HasPrefix(warn[0].Text, station.ActionTurnedOff), warn[0].Text)
	assert.Contains(t, warn[0].Text, "forced")
}

// A daily 06:00 schedule turns S1 on for 15 minutes.
func TestDailyScheduleRunsStationForItsDuration(t *testing.T) {
	store := schedule.NewMemStore(schedule.Entry{
		Name: "morning-on", DeviceID: "S1", Action: schedule.ActionOn,
		DurationMinutes: 15, Active: true, Rule: schedule.Daily(6, 0),
	})
	r := newRig(t, store)

	jobs := r.engine.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "morning-on", jobs[0].Name)
	assert.Equal(t, 6, jobs[0].Next.Hour())
	assert.Equal(t, 0, jobs[0].Next.Minute())
	assert.Equal(t, 0, jobs[0].Next.Second())

	ent, ok := r.engine.Get("morning-on")
	require.True(t, ok)
	sixAM := time.Date(2026, 5, 1, 6, 0, 0, 0, time.UTC)
	assert.Equal(t, sixAM, ent.Rule.Next(sixAM.Add(-time.Minute)))

	// what the trigger does at 06:00
	require.NoError(t, r.engine.Run(context.Background(), "morning-on"))
	assert.Equal(t, station.StateOn, r.status(t, "S1"))
	tm := r.timers.last(t)
	assert.Equal(t, 15*time.Minute, tm.d, "schedule duration overrides the station limit")

	// 06:15
	tm.f()
	assert.Equal(t, station.StateOff, r.status(t, "S1"))
	assert.Len(t, forced(r.sink.Filter("S1", events.TypeWarning)), 1)
}

// Real cron and real timers: a per-second rule with a tiny minute.
func TestScheduleFiresAndAutoOffsInRealTime(t *testing.T) {
	store := schedule.NewMemStore(schedule.Entry{
		Name: "pulse", DeviceID: "S2", Action: schedule.ActionOn,
		DurationMinutes: 1, Active: true, Rule: &schedule.Rule{},
	})
	r := newRig(t, store, station.WithMinute(20*time.Millisecond))
	r.engine.Start()

	require.Eventually(t, func() bool {
		return len(forced(r.sink.Filter("S2", events.TypeWarning))) > 0
	}, 5*time.Second, 10*time.Millisecond)

	on := r.sink.Filter("S2", events.TypeInfo)
	require.NotEmpty(t, on)
	assert.True(t, strings.HasPrefix(on[0].Text, station.ActionTurnedOn))
	assert.Empty(t, r.sink.Filter("S1", ""), "other stations untouched")
}

// Creating a schedule under a taken name fails and leaves the existing one alone.
func TestCreateDuplicateScheduleName(t *testing.T) {
	r := newRig(t, schedule.NewMemStore())

	x, err := r.engine.Create("x", "S2")
	require.NoError(t, err)
	x.Description = "first"
	require.NoError(t, r.engine.Update(context.Background(), x))

	_, err = r.engine.Create("x", "S2")
	require.Error(t, err)
	assert.True(t, errors.Is(err, schedule.ErrScheduleExists))

	got, ok := r.engine.Get("x")
	require.True(t, ok)
	assert.Equal(t, x, got)
}

// Turning S1 off by hand disarms its safety timer for good.
func TestManualOffDisarmsSafetyTimer(t *testing.T) {
	r := newRig(t, schedule.NewMemStore())
	ctx := context.Background()

	require.NoError(t, r.ctrl.Switch(ctx, "S1", true, 0))
	tm := r.timers.last(t)
	require.NoError(t, r.ctrl.Switch(ctx, "S1", false, 0))
	assert.True(t, tm.stopped)

	// a timer already in flight when it was stopped
	tm.f()

	assert.Equal(t, station.StateOff, r.status(t, "S1"))
	assert.Empty(t, forced(r.sink.Events()))
	assert.Empty(t, r.sink.Filter("S1", events.TypeWarning))
}

// A schedule targeting an unknown station logs and keeps the engine running.
func TestScheduleForUnknownStation(t *testing.T) {
	store := schedule.NewMemStore(schedule.Entry{
		Name: "ghost", DeviceID: "S9", Action: schedule.ActionOn, Active: true, Rule: schedule.Daily(5, 0),
	})
	r := newRig(t, store)

	err := r.engine.Run(context.Background(), "ghost")
	assert.True(t, errors.Is(err, station.ErrUnknownStation))
	assert.Len(t, r.engine.Jobs(), 1)
}

// Schedules written through the engine survive a restart.
func TestSchedulesPersistAcrossRestart(t *testing.T) {
	store := schedule.FileStore{Path: filepath.Join(t.TempDir(), "schedules.json")}
	r := newRig(t, store)

	ent, err := r.engine.Create("evening", "S2")
	require.NoError(t, err)
	ent.Active = true
	ent.Action = schedule.ActionOn
	ent.DurationMinutes = 5
	ent.Rule = &schedule.Rule{Second: schedule.At(0), Minute: schedule.At(30), Hour: schedule.At(19), DayOfWeek: schedule.At(1, 3, 5)}
	require.NoError(t, r.engine.Update(context.Background(), ent))

	again := schedule.NewEngine(store, r.ctrl, time.UTC, zerolog.Nop())
	require.NoError(t, again.Load(context.Background()))

	got, ok := again.Get("evening")
	require.True(t, ok)
	assert.Equal(t, ent, got)
	require.Len(t, again.Jobs(), 1)
	assert.Equal(t, 19, again.Jobs()[0].Next.Hour())
}
