// Package gpio provides digital output lines for driving station relays.
// The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Line is a single digital output. Values are logical: true = energized (ON),
// regardless of whether the relay board is wired active-low.
type Line interface {
	// Write drives the line to the given logical level.
	Write(on bool) error

	// Read returns the logical level currently driven on the line.
	Read() (bool, error)

	// Close releases the line.
	Close() error
}

// Opener requests output lines by BCM pin number.
type Opener interface {
	// Open requests pin as an output, initially de-energized.
	Open(pin int) (Line, error)

	// Close releases the underlying chip.
	Close() error
}

// DefaultChip is the gpiochip used on Raspberry Pi boards.
const DefaultChip = "gpiochip0"

// DefaultConsumer is the label reported to the kernel for requested lines.
const DefaultConsumer = "irrigationd"
