//go:build linux

package gpio

import (
	"github.com/cockroachdb/errors"
	"github.com/warthog618/go-gpiocdev"
)

// ChipOpener opens output lines on actual hardware using the Linux GPIO character device.
type ChipOpener struct {
	chip      *gpiocdev.Chip
	activeLow bool
	consumer  string
}

// NewChipOpener opens the named gpiochip. When activeLow is set, a logical ON
// drives the pin low, which is what most opto-isolated relay boards expect.
func NewChipOpener(name string, activeLow bool, consumer string) (*ChipOpener, error) {
	if name == "" {
		name = DefaultChip
	}
	if consumer == "" {
		consumer = DefaultConsumer
	}
	chip, err := gpiocdev.NewChip(name, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, errors.Wrapf(err, "open gpio chip %s", name)
	}
	return &ChipOpener{chip: chip, activeLow: activeLow, consumer: consumer}, nil
}

// Open requests pin as an output with the relay de-energized.
func (o *ChipOpener) Open(pin int) (Line, error) {
	opts := []gpiocdev.LineReqOption{gpiocdev.AsOutput(0), gpiocdev.WithConsumer(o.consumer)}
	if o.activeLow {
		opts = append(opts, gpiocdev.AsActiveLow)
	}
	l, err := o.chip.RequestLine(pin, opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "request pin %d", pin)
	}
	return &chipLine{pin: pin, line: l}, nil
}

// Close releases the chip. Lines must be closed first.
func (o *ChipOpener) Close() error {
	if o.chip == nil {
		return nil
	}
	if err := o.chip.Close(); err != nil {
		return errors.Wrap(err, "close chip")
	}
	return nil
}

type chipLine struct {
	pin  int
	line *gpiocdev.Line
}

func (l *chipLine) Write(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := l.line.SetValue(v); err != nil {
		return errors.Wrapf(err, "write pin %d", l.pin)
	}
	return nil
}

func (l *chipLine) Read() (bool, error) {
	v, err := l.line.Value()
	if err != nil {
		return false, errors.Wrapf(err, "read pin %d", l.pin)
	}
	return v == 1, nil
}

// Close de-energizes the line and releases it. The pin stays an output; an
// input with pull-down would energize an active-low relay.
func (l *chipLine) Close() error {
	var errs error
	if err := l.line.SetValue(0); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrapf(err, "release pin %d", l.pin))
	}
	if err := l.line.Close(); err != nil {
		errs = errors.CombineErrors(errs, errors.Wrapf(err, "close pin %d", l.pin))
	}
	return errs
}
