// Package pedal conditions raw ADC samples from the throttle and brake pedals
// into calibrated, filtered positions in [0,1].
package pedal

import (
	"fmt"
	"math"
)

// Channel identifies a pedal.
type Channel uint8

const (
	Throttle Channel = iota
	Brake
)

// NumChannels is the number of pedal channels.
const NumChannels = 2

// MaxRaw is the full-scale value of the 12-bit ADC.
const MaxRaw = 4095

// Reference conditioning constants.
const (
	DefaultAlpha    = 0.5
	DefaultDeadZone = 0.03
)

func (c Channel) String() string {
	switch c {
	case Throttle:
		return "throttle"
	case Brake:
		return "brake"
	default:
		return fmt.Sprintf("channel(%d)", uint8(c))
	}
}

// Valid reports whether c names a real channel.
func (c Channel) Valid() bool {
	return c < NumChannels
}

// Calibration holds the filtered sample values at the released and fully
// pressed pedal positions.
type Calibration struct {
	Zero    float32
	Max     float32
	ZeroSet bool
	MaxSet  bool
}

// Valid reports whether the calibration can be used for normalization.
func (c Calibration) Valid() bool {
	return c.ZeroSet && c.MaxSet && c.Max > c.Zero
}

// Reading is the conditioned output of one channel.
type Reading struct {
	Raw          uint16
	Filtered     float32
	Normalized   float32
	Calibration  Calibration
	Uncalibrated bool
}

// Point names which calibration point a trigger recorded.
type Point uint8

const (
	PointZero Point = iota
	PointMax
)

func (p Point) String() string {
	if p == PointMax {
		return "max"
	}
	return "zero"
}

// Normalize maps a filtered sample onto [0,1] using cal. Values below the
// dead zone map to exactly 0. An invalid calibration yields (0, false).
func Normalize(filtered float32, cal Calibration, deadZone float32) (float32, bool) {
	if !cal.Valid() {
		return 0, false
	}
	if math.IsNaN(float64(filtered)) {
		return 0, true
	}
	n := (filtered - cal.Zero) / (cal.Max - cal.Zero)
	switch {
	case n < 0:
		n = 0
	case n > 1:
		n = 1
	}
	if n < deadZone {
		return 0, true
	}
	return n, true
}
