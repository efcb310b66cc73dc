// Package gpio provides button input and LED output lines with hardware
// abstraction. The real implementation uses the Linux GPIO character device.
// The fake implementation allows testing and simulation without hardware.
package gpio

import (
	"github.com/sweeney/steering-node/internal/buttons"
	"github.com/sweeney/steering-node/internal/output"
)

// Reader reads the raw logical level of every button.
type Reader interface {
	// Read fills levels, true = pressed. Inputs are wired active-low with
	// pull-ups; the inversion happens inside the implementation.
	Read(levels *buttons.Levels) error

	// Close releases GPIO resources.
	Close() error
}

// LEDs drives the indicator outputs.
type LEDs interface {
	// Set writes one frame of LED levels.
	Set(lv output.Levels) error

	// Close switches every LED off and releases the lines.
	Close() error
}

// NumLEDLines is the number of output lines: button LEDs, status LEDs and
// the heartbeat LED, in that order.
const NumLEDLines = buttons.Count + output.NumStatus + 1

// DefaultChip is the GPIO character device used when none is configured.
const DefaultChip = "gpiochip0"

// Default line offsets (BCM numbering), indexed by button ID.
var DefaultButtonLines = [buttons.Count]int{5, 6, 13, 19, 26, 16, 20, 21, 12, 25}

// DefaultLEDLines lists button LEDs by ID, then status LEDs, then heartbeat.
var DefaultLEDLines = [NumLEDLines]int{4, 17, 27, 22, 10, 9, 11, 8, 7, 0, 23, 24, 18, 15, 14}

// ledValues flattens lv into line values in DefaultLEDLines order.
func ledValues(lv output.Levels, values []int) {
	for i := 0; i < buttons.Count; i++ {
		values[i] = bit(lv.Buttons.Has(buttons.ID(i)))
	}
	for i, on := range lv.Status {
		values[buttons.Count+i] = bit(on)
	}
	values[NumLEDLines-1] = bit(lv.Heartbeat)
}

func bit(b bool) int {
	if b {
		return 1
	}
	return 0
}
