package schedule

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var (
	// ErrScheduleExists is returned when creating a schedule whose name is taken.
	ErrScheduleExists = errors.New("schedule exists")

	// ErrNotFound is returned for unknown schedule names.
	ErrNotFound = errors.New("schedule not found")

	// ErrUnknownAction is returned when running a schedule whose action is
	// neither on nor off.
	ErrUnknownAction = errors.New("unknown schedule action")
)

// Switcher is the station control surface a trigger drives.
type Switcher interface {
	Switch(ctx context.Context, id string, on bool, d time.Duration) error
}

// JobInfo describes a live trigger.
type JobInfo struct {
	Name string    `json:"name"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

// Engine owns the schedule set and one cron entry per active schedule.
type Engine struct {
	log   zerolog.Logger
	store Store
	sw    Switcher
	cron  *cron.Cron

	mu      sync.Mutex
	entries map[string]*Entry
	jobs    map[string]cron.EntryID
}

// NewEngine creates an Engine whose rules are evaluated in loc.
func NewEngine(store Store, sw Switcher, loc *time.Location, log zerolog.Logger) *Engine {
	if loc == nil {
		loc = time.Local
	}
	log = log.With().Str("component", "schedule").Logger()
	cl := cronLogger{log: log}
	return &Engine{
		log:   log,
		store: store,
		sw:    sw,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		entries: map[string]*Entry{},
		jobs:    map[string]cron.EntryID{},
	}
}

// Load replaces the in-memory set with the stored one and registers a job for
// every active entry with a rule. It runs once, before Start.
func (e *Engine) Load(ctx context.Context) error {
	list, err := e.store.LoadAll(ctx)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "load schedules"), ErrStorage)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for name := range e.jobs {
		e.cancelLocked(name)
	}
	e.entries = make(map[string]*Entry, len(list))
	for i := range list {
		ent := list[i]
		if _, dup := e.entries[ent.Name]; dup {
			e.log.Warn().Str("schedule", ent.Name).Msg("duplicate schedule name in store, keeping last")
			e.cancelLocked(ent.Name)
		}
		e.entries[ent.Name] = &ent
		if ent.schedulable() {
			if err := e.scheduleLocked(ent); err != nil {
				e.log.Error().Err(err).Str("schedule", ent.Name).Msg("not scheduling invalid rule")
			}
		}
	}
	e.log.Info().Int("schedules", len(e.entries)).Int("jobs", len(e.jobs)).Msg("schedules loaded")
	return nil
}

// Start begins firing triggers.
func (e *Engine) Start() {
	e.cron.Start()
}

// Stop halts the trigger loop and waits for running triggers, or ctx.
func (e *Engine) Stop(ctx context.Context) {
	select {
	case <-e.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Create returns a fresh, inactive entry. Nothing is stored or scheduled until
// the entry is passed to Update.
func (e *Engine) Create(name, deviceID string) (Entry, error) {
	if strings.TrimSpace(name) == "" {
		return Entry{}, errors.New("schedule name is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.entries[name]; ok {
		return Entry{}, errors.Wrapf(ErrScheduleExists, "schedule %q", name)
	}
	return Entry{
		Name:     name,
		DeviceID: deviceID,
		Action:   ActionOff,
		Rule:     DefaultRule(),
	}, nil
}

// Update inserts or overwrites the entry named ent.Name, reconciles its job
// and persists the whole set. An active entry always gets a brand new job; an
// inactive one loses its job but stays stored. If only the save fails, the
// in-memory change stands and an ErrStorage error is returned.
func (e *Engine) Update(ctx context.Context, ent Entry) error {
	if strings.TrimSpace(ent.Name) == "" {
		return errors.New("schedule name is required")
	}
	if err := ent.validateDuration(); err != nil {
		return err
	}
	if ent.Rule != nil {
		if err := ent.Rule.Validate(); err != nil {
			return errors.Wrapf(err, "schedule %q", ent.Name)
		}
	}
	ent = ent.clone()

	e.mu.Lock()
	defer e.mu.Unlock()
	if cur, ok := e.entries[ent.Name]; ok {
		*cur = ent
	} else {
		e.entries[ent.Name] = &ent
	}

	e.cancelLocked(ent.Name)
	if ent.schedulable() {
		if err := e.scheduleLocked(ent); err != nil {
			return err
		}
	}
	e.log.Info().Str("schedule", ent.Name).Bool("active", ent.Active).Msg("schedule updated")
	return e.saveLocked(ctx)
}

// Delete cancels the job, removes the entry and persists the set.
func (e *Engine) Delete(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.entries[name]; !ok {
		return errors.Wrapf(ErrNotFound, "schedule %q", name)
	}
	e.cancelLocked(name)
	delete(e.entries, name)
	e.log.Info().Str("schedule", name).Msg("schedule deleted")
	return e.saveLocked(ctx)
}

// Get returns a copy of the named entry.
func (e *Engine) Get(name string) (Entry, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ent, ok := e.entries[name]
	if !ok {
		return Entry{}, false
	}
	return ent.clone(), true
}

// List returns copies of all entries sorted by name.
func (e *Engine) List() []Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.listLocked()
}

// CountForDevice returns how many entries reference deviceID.
func (e *Engine) CountForDevice(deviceID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ent := range e.entries {
		if ent.DeviceID == deviceID {
			n++
		}
	}
	return n
}

// Jobs describes every live trigger, sorted by name.
func (e *Engine) Jobs() []JobInfo {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]JobInfo, 0, len(e.jobs))
	for name, id := range e.jobs {
		ce := e.cron.Entry(id)
		if !ce.Valid() {
			continue
		}
		next := ce.Next
		if next.IsZero() {
			// not started yet; the cron loop fills Next on Start
			next = ce.Schedule.Next(time.Now().In(e.cron.Location()))
		}
		out = append(out, JobInfo{Name: name, Next: next, Prev: ce.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (e *Engine) listLocked() []Entry {
	out := make([]Entry, 0, len(e.entries))
	for _, ent := range e.entries {
		out = append(out, ent.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (e *Engine) saveLocked(ctx context.Context) error {
	if err := e.store.SaveAll(ctx, e.listLocked()); err != nil {
		e.log.Error().Err(err).Msg("failed to save schedules")
		return errors.Mark(errors.Wrap(err, "save schedules"), ErrStorage)
	}
	return nil
}

// scheduleLocked registers a job for ent. The job carries its own copy of the
// entry, so later edits never race with a firing trigger.
func (e *Engine) scheduleLocked(ent Entry) error {
	if err := ent.Rule.Validate(); err != nil {
		return errors.Wrapf(err, "schedule %q", ent.Name)
	}
	snap := ent.clone()
	id := e.cron.Schedule(snap.Rule, cron.FuncJob(func() { e.exec(snap) }))
	e.jobs[ent.Name] = id
	e.log.Debug().Str("schedule", ent.Name).Int("job", int(id)).Msg("job scheduled")
	return nil
}

func (e *Engine) cancelLocked(name string) {
	id, ok := e.jobs[name]
	if !ok {
		return
	}
	e.cron.Remove(id)
	delete(e.jobs, name)
	e.log.Debug().Str("schedule", name).Int("job", int(id)).Msg("job cancelled")
}

// Run fires the named schedule's action now, regardless of its rule or
// active flag.
func (e *Engine) Run(ctx context.Context, name string) error {
	ent, ok := e.Get(name)
	if !ok {
		return errors.Wrapf(ErrNotFound, "schedule %q", name)
	}
	e.log.Info().Str("schedule", name).Msg("running schedule on demand")
	return e.fire(ctx, ent)
}

// exec runs a trigger. Failures are logged and never reach the cron loop, so
// the job stays armed for its next occurrence.
func (e *Engine) exec(ent Entry) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Str("schedule", ent.Name).Interface("panic", r).Msg("scheduled action panicked")
		}
	}()
	log := e.log.With().Str("schedule", ent.Name).Str("station", ent.DeviceID).Str("action", string(ent.Action)).Logger()
	log.Debug().Msg("executing scheduled action")

	err := e.fire(context.Background(), ent)
	switch {
	case errors.Is(err, ErrUnknownAction):
		log.Warn().Msg("unrecognized scheduled action, ignored")
	case err != nil:
		log.Error().Err(err).Msg("scheduled action failed")
	}
}

func (e *Engine) fire(ctx context.Context, ent Entry) error {
	if !ent.Action.Known() {
		return errors.Wrapf(ErrUnknownAction, "schedule %q action %q", ent.Name, ent.Action)
	}
	return e.sw.Switch(ctx, ent.DeviceID, ent.Action == ActionOn, ent.Duration())
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
