package station

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sweeney/irrigationd/internal/events"
	"github.com/sweeney/irrigationd/internal/gpio"
	"github.com/sweeney/irrigationd/internal/registry"
)

// station is the mutable runtime record. mu serializes manual switches,
// scheduled switches and safety-timer firings for this station.
type station struct {
	dev  registry.Device
	line gpio.Line

	mu        sync.Mutex
	state     State
	timer     Timer
	timerGen  uint64 // bumped on every arm/disarm; a firing timer with a stale gen does nothing
	offAt     time.Time
	lastEvent *LastEvent
}

// Controller is the authoritative state machine for all stations.
type Controller struct {
	log    zerolog.Logger
	reg    registry.Registry
	opener gpio.Opener
	sink   events.Sink

	afterFunc AfterFunc
	now       func() time.Time
	unit      time.Duration
	sinkWarn  *rate.Limiter

	mu       sync.RWMutex
	stations map[string]*station
	order    []string
}

// Option customizes a Controller.
type Option func(*Controller)

// WithAfterFunc replaces the timer factory. Tests use it to fire timers by hand.
func WithAfterFunc(f AfterFunc) Option {
	return func(c *Controller) { c.afterFunc = f }
}

// WithClock replaces the time source used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithMinute changes the length of a "minute" for run durations.
func WithMinute(d time.Duration) Option {
	return func(c *Controller) { c.unit = d }
}

// New creates a Controller. Init must be called before use.
func New(reg registry.Registry, opener gpio.Opener, sink events.Sink, log zerolog.Logger, opts ...Option) *Controller {
	if sink == nil {
		sink = events.Discard
	}
	c := &Controller{
		log:       log.With().Str("component", "station").Logger(),
		reg:       reg,
		opener:    opener,
		sink:      sink,
		afterFunc: realAfterFunc,
		now:       time.Now,
		unit:      time.Minute,
		sinkWarn:  rate.NewLimiter(rate.Every(time.Minute), 3),
		stations:  map[string]*station{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Init loads the enabled irrigation devices, opens one output line per
// station and forces every station OFF. Registry and line failures are returned
// unretried; the daemon treats them as fatal.
func (c *Controller) Init(ctx context.Context) error {
	devs, err := c.reg.DevicesByType(ctx, registry.TypeIrrigation)
	if err != nil {
		return errors.Wrap(err, "load stations")
	}

	stations := make(map[string]*station, len(devs))
	var order []string
	for _, d := range devs {
		if !d.Enabled {
			c.log.Debug().Str("station", d.ID).Msg("skipping disabled station")
			continue
		}
		c.log.Debug().Str("station", d.ID).Int("pin", d.GPIOPin).Msg("initializing output")
		line, err := c.opener.Open(d.GPIOPin)
		if err != nil {
			closeLines(stations)
			return errors.Mark(errors.Wrapf(err, "station %s", d.ID), ErrActuator)
		}
		st := &station{dev: d, line: line, state: StateOff}
		if err := line.Write(false); err != nil {
			_ = line.Close()
			closeLines(stations)
			return errors.Mark(errors.Wrapf(err, "station %s: force off", d.ID), ErrActuator)
		}
		stations[d.ID] = st
		order = append(order, d.ID)
	}
	sort.Strings(order)

	c.mu.Lock()
	c.stations = stations
	c.order = order
	c.mu.Unlock()

	c.log.Info().Int("stations", len(order)).Msg("stations initialized, all off")
	return nil
}

func closeLines(stations map[string]*station) {
	for _, st := range stations {
		_ = st.line.Close()
	}
}

func (c *Controller) lookup(id string) (*station, error) {
	c.mu.RLock()
	st, ok := c.stations[id]
	c.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownStation, "station %q", id)
	}
	return st, nil
}

// Switch turns a station on or off. Any armed safety timer is cancelled first.
// When turning on, a new safety timer is armed for d, or for the station's
// maxOnMinutes when d is zero; with neither, the station stays on until told
// otherwise.
func (c *Controller) Switch(ctx context.Context, id string, on bool, d time.Duration) error {
	st, err := c.lookup(id)
	if err != nil {
		return err
	}
	c.log.Info().Str("station", id).Bool("on", on).Dur("duration", d).Msg("switching station")

	st.mu.Lock()
	c.disarmLocked(st)

	if err := st.line.Write(on); err != nil {
		st.mu.Unlock()
		return errors.Mark(errors.Wrapf(err, "station %s", id), ErrActuator)
	}

	now := c.now()
	st.state = stateOf(on)
	action := ActionTurnedOff
	if on {
		action = ActionTurnedOn
	}
	st.lastEvent = &LastEvent{Time: now, Action: action}

	if on {
		run := d
		if run <= 0 && st.dev.MaxOnMinutes > 0 {
			run = time.Duration(st.dev.MaxOnMinutes) * c.unit
		}
		if run > 0 {
			c.armLocked(st, run, now)
		}
	}
	armed, offAt := st.timer != nil, st.offAt
	st.mu.Unlock()

	text := fmt.Sprintf("%s %s", action, st.dev.Name)
	if armed {
		text += fmt.Sprintf(" (auto off at %s)", offAt.Format(time.Kitchen))
	}
	c.emit(ctx, events.Event{Time: now, Source: Source, Type: events.TypeInfo, DeviceID: id, Text: text})
	return nil
}

// armLocked starts the safety timer. Caller holds st.mu and has disarmed any
// previous timer.
func (c *Controller) armLocked(st *station, run time.Duration, now time.Time) {
	st.timerGen++
	gen := st.timerGen
	id := st.dev.ID
	st.offAt = now.Add(run)
	st.timer = c.afterFunc(run, func() { c.forceOff(id, gen, run) })
	c.log.Debug().Str("station", id).Dur("after", run).Msg("safety timer armed")
}

// disarmLocked cancels the armed timer, if any. Bumping the generation makes
// cancellation firm even if the timer goroutine is already waiting on st.mu.
func (c *Controller) disarmLocked(st *station) {
	if st.timer == nil {
		return
	}
	st.timer.Stop()
	st.timer = nil
	st.timerGen++
	st.offAt = time.Time{}
	c.log.Debug().Str("station", st.dev.ID).Msg("safety timer cancelled")
}

// forceOff is the safety timer callback. It runs on the timer's goroutine, so
// it never propagates failures: everything is logged.
func (c *Controller) forceOff(id string, gen uint64, ran time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error().Str("station", id).Interface("panic", r).Msg("safety timer panicked")
		}
	}()

	st, err := c.lookup(id)
	if err != nil {
		c.log.Debug().Err(err).Msg("safety timer fired after shutdown")
		return
	}

	st.mu.Lock()
	if st.timerGen != gen {
		st.mu.Unlock()
		return
	}
	st.timer = nil
	st.timerGen++
	st.offAt = time.Time{}

	// De-energize without consulting cached or physical state: forcing off is idempotent.
	werr := st.line.Write(false)
	now := c.now()
	if werr == nil {
		st.state = StateOff
		st.lastEvent = &LastEvent{Time: now, Action: ActionTurnedOff}
	}
	st.mu.Unlock()

	ctx := context.Background()
	if werr != nil {
		c.log.Error().Err(werr).Str("station", id).Msg("forced shutoff failed")
		c.emit(ctx, events.Event{
			Time: now, Source: Source, Type: events.TypeError, DeviceID: id,
			Text: fmt.Sprintf("Forced shutoff of %s failed: %v", st.dev.Name, werr),
		})
		return
	}
	c.log.Warn().Str("station", id).Dur("ran", ran).Msg("station reached max run time, turned off")
	c.emit(ctx, events.Event{
		Time: now, Source: Source, Type: events.TypeWarning, DeviceID: id,
		Text: fmt.Sprintf("%s %s (forced after %s)", ActionTurnedOff, st.dev.Name, ran),
	})
}

// emit appends to the sink. Failures never undo the transition.
func (c *Controller) emit(ctx context.Context, e events.Event) {
	if err := c.sink.Append(ctx, e); err != nil && c.sinkWarn.Allow() {
		c.log.Error().Err(err).Str("station", e.DeviceID).Msg("failed to record event")
	}
}

// Status reads the station's output line back.
func (c *Controller) Status(id string) (State, error) {
	st, err := c.lookup(id)
	if err != nil {
		return "", err
	}
	st.mu.Lock()
	on, err := st.line.Read()
	st.mu.Unlock()
	if err != nil {
		return "", errors.Mark(errors.Wrapf(err, "station %s", id), ErrActuator)
	}
	return stateOf(on), nil
}

// AllStatus reads every station's output line back, in id order.
func (c *Controller) AllStatus() ([]Status, error) {
	c.mu.RLock()
	order := c.order
	c.mu.RUnlock()

	out := make([]Status, 0, len(order))
	for _, id := range order {
		s, err := c.Status(id)
		if err != nil {
			return nil, err
		}
		out = append(out, Status{ID: id, State: s})
	}
	return out, nil
}

// Stations returns a snapshot of every station, in id order.
func (c *Controller) Stations() []Info {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Info, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.stations[id].info())
	}
	return out
}

// Station returns a snapshot of one station.
func (c *Controller) Station(id string) (Info, error) {
	st, err := c.lookup(id)
	if err != nil {
		return Info{}, err
	}
	return st.info(), nil
}

// Has reports whether id is a known station.
func (c *Controller) Has(id string) bool {
	_, err := c.lookup(id)
	return err == nil
}

func (st *station) info() Info {
	st.mu.Lock()
	defer st.mu.Unlock()
	in := Info{
		ID:           st.dev.ID,
		Name:         st.dev.Name,
		GPIOPin:      st.dev.GPIOPin,
		MaxOnMinutes: st.dev.MaxOnMinutes,
		Enabled:      st.dev.Enabled,
		State:        st.state,
	}
	if st.timer != nil {
		t := st.offAt
		in.OffAt = &t
	}
	if st.lastEvent != nil {
		le := *st.lastEvent
		in.LastEvent = &le
	}
	return in
}

// Shutdown disarms every timer, forces every station off and releases the
// output lines. The controller must not be used afterwards.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	stations := c.stations
	order := c.order
	c.stations = map[string]*station{}
	c.order = nil
	c.mu.Unlock()

	var errs error
	for _, id := range order {
		st := stations[id]
		st.mu.Lock()
		c.disarmLocked(st)
		wasOn := st.state == StateOn
		if err := st.line.Write(false); err != nil {
			errs = errors.CombineErrors(errs, errors.Mark(errors.Wrapf(err, "station %s", id), ErrActuator))
		}
		st.state = StateOff
		if err := st.line.Close(); err != nil {
			errs = errors.CombineErrors(errs, errors.Wrapf(err, "close station %s", id))
		}
		st.mu.Unlock()
		if wasOn {
			c.emit(ctx, events.Event{
				Time: c.now(), Source: Source, Type: events.TypeInfo, DeviceID: id,
				Text: fmt.Sprintf("%s %s (shutdown)", ActionTurnedOff, st.dev.Name),
			})
		}
	}
	c.log.Info().Int("stations", len(order)).Msg("stations released")
	return errs
}
