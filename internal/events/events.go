// Package events defines the append-only event record and the sinks that store it.
package events

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// Type is the severity of an event.
type Type string

const (
	TypeInfo    Type = "INFO"
	TypeWarning Type = "WARNING"
	TypeError   Type = "ERROR"
)

// Valid reports whether t is one of the known event types.
func (t Type) Valid() bool {
	switch t {
	case TypeInfo, TypeWarning, TypeError:
		return true
	}
	return false
}

// Event is an immutable record of a control action or anomaly.
type Event struct {
	Time     time.Time
	Source   string
	Type     Type
	DeviceID string // empty for system-wide events
	Text     string
}

// EpochMillis returns the event time as milliseconds since the Unix epoch.
func (e Event) EpochMillis() int64 {
	return e.Time.UnixMilli()
}

// Sink appends events. Callers treat failures as best-effort: they are logged,
// never allowed to undo the action being recorded.
type Sink interface {
	Append(ctx context.Context, e Event) error
}

// Fanout appends each event to every sink. A failing sink does not stop the
// others; all failures are combined into the returned error.
type Fanout []Sink

// Append implements Sink.
func (f Fanout) Append(ctx context.Context, e Event) error {
	var errs error
	for _, s := range f {
		if s == nil {
			continue
		}
		if err := s.Append(ctx, e); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

// Discard is a Sink that drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Append(context.Context, Event) error { return nil }

// Recorder keeps events in memory. It is used by tests and is safe for
// concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event

	// Err, if set, is returned by Append after the event is dropped.
	Err error
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Append implements Sink.
func (r *Recorder) Append(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, e)
	return nil
}

// Events returns a copy of the recorded events in append order.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Filter returns recorded events matching deviceID and type. Empty values match anything.
func (r *Recorder) Filter(deviceID string, typ Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if deviceID != "" && e.DeviceID != deviceID {
			continue
		}
		if typ != "" && e.Type != typ {
			continue
		}
		out = append(out, e)
	}
	return out
}

// SetErr changes the error returned by Append.
func (r *Recorder) SetErr(err error) {
	r.mu.Lock()
	r.Err = err
	r.mu.Unlock()
}
