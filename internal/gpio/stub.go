//go:build !linux

package gpio

import "github.com/cockroachdb/errors"

// ChipOpener is not available on non-Linux platforms.
type ChipOpener struct{}

// NewChipOpener returns an error on non-Linux platforms.
func NewChipOpener(name string, activeLow bool, consumer string) (*ChipOpener, error) {
	return nil, errors.New("gpio: not supported on this platform (requires Linux)")
}

// Open is not implemented on non-Linux platforms.
func (o *ChipOpener) Open(pin int) (Line, error) {
	return nil, errors.New("gpio: not supported")
}

// Close is not implemented on non-Linux platforms.
func (o *ChipOpener) Close() error {
	return nil
}
