package gpio

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// FakeOpener is a test double that hands out in-memory lines.
// It is safe for concurrent use since timers write from their own goroutines.
type FakeOpener struct {
	mu    sync.Mutex
	lines map[int]*FakeLine

	// OpenError, if set, will be returned by Open.
	OpenError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakeOpener creates a FakeOpener. Initial seeds the level a pin reports
// before it is opened, simulating a relay left energized by a previous run.
func NewFakeOpener(initial map[int]bool) *FakeOpener {
	f := &FakeOpener{lines: map[int]*FakeLine{}}
	for pin, on := range initial {
		f.lines[pin] = &FakeLine{Pin: pin, value: on}
	}
	return f
}

// Open returns the line for pin, creating it if needed. Unlike hardware, an
// already seeded level is kept so tests can observe fail-safe startup.
func (f *FakeOpener) Open(pin int) (Line, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.OpenError != nil {
		return nil, f.OpenError
	}
	l, ok := f.lines[pin]
	if !ok {
		l = &FakeLine{Pin: pin}
		f.lines[pin] = l
	}
	return l, nil
}

// Line returns the fake line for pin, or nil if it was never opened or seeded.
func (f *FakeOpener) Line(pin int) *FakeLine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lines[pin]
}

// Close marks the opener as closed.
func (f *FakeOpener) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

// FakeLine records writes for test assertions.
type FakeLine struct {
	Pin int

	mu     sync.Mutex
	value  bool
	writes []bool
	closed bool

	writeErr error
	readErr  error
}

// Write records the level.
func (l *FakeLine) Write(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errors.Newf("pin %d: line closed", l.Pin)
	}
	if l.writeErr != nil {
		return l.writeErr
	}
	l.value = on
	l.writes = append(l.writes, on)
	return nil
}

// Read returns the last written level.
func (l *FakeLine) Read() (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return false, l.readErr
	}
	return l.value, nil
}

// Close marks the line as closed.
func (l *FakeLine) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

// Value returns the current level without going through Read.
func (l *FakeLine) Value() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.value
}

// Set changes the level behind the controller's back, like a relay toggled by hand.
func (l *FakeLine) Set(on bool) {
	l.mu.Lock()
	l.value = on
	l.mu.Unlock()
}

// Writes returns a copy of all recorded writes.
func (l *FakeLine) Writes() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.writes...)
}

// IsClosed reports whether Close was called.
func (l *FakeLine) IsClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// FailWrites makes subsequent writes return err (nil restores normal operation).
func (l *FakeLine) FailWrites(err error) {
	l.mu.Lock()
	l.writeErr = err
	l.mu.Unlock()
}

// FailReads makes subsequent reads return err (nil restores normal operation).
func (l *FakeLine) FailReads(err error) {
	l.mu.Lock()
	l.readErr = err
	l.mu.Unlock()
}
