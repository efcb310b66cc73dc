// Package protocol implements the fixed-layout UDP messages exchanged with
// the vehicle computer, the battery management system and telemetry
// listeners. All fields are little-endian. Encoding and decoding work on
// caller-supplied buffers and do not allocate.
package protocol

import (
	"errors"
	"fmt"
)

// Protocol constants
const (
	Magic      uint16 = 0x5357 // "SW"
	Version    uint8  = 1
	HeaderSize        = 12

	SteeringSize  = 28
	VehicleSize   = 20
	BatterySize   = 20
	TelemetrySize = 4 + SteeringSize + VehicleSize + BatterySize

	// MaxDatagram is the largest valid datagram.
	MaxDatagram = HeaderSize + TelemetrySize
)

// Kind identifies the body that follows the header.
type Kind uint8

const (
	KindSteering  Kind = 1
	KindVehicle   Kind = 2
	KindBattery   Kind = 3
	KindTelemetry Kind = 4
)

func (k Kind) String() string {
	switch k {
	case KindSteering:
		return "steering"
	case KindVehicle:
		return "vehicle"
	case KindBattery:
		return "battery"
	case KindTelemetry:
		return "telemetry"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// BodySize returns the body length for k, or -1 for an unknown kind.
func BodySize(k Kind) int {
	switch k {
	case KindSteering:
		return SteeringSize
	case KindVehicle:
		return VehicleSize
	case KindBattery:
		return BatterySize
	case KindTelemetry:
		return TelemetrySize
	default:
		return -1
	}
}

// Decode errors. Decode wraps them in a *DecodeError.
var (
	ErrShort   = errors.New("datagram too short")
	ErrMagic   = errors.New("bad magic")
	ErrVersion = errors.New("unsupported version")
	ErrKind    = errors.New("unknown kind")
	ErrLength  = errors.New("length mismatch")
	ErrValue   = errors.New("field out of range")
)

// ErrBuffer is returned when an encode buffer is too small.
var ErrBuffer = errors.New("buffer too small")

// DecodeError describes a rejected datagram.
type DecodeError struct {
	Kind  Kind
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("decode %s: %s: %v", e.Kind, e.Field, e.Err)
	}
	return fmt.Sprintf("decode %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Header precedes every message.
type Header struct {
	Kind     Kind
	Seq      uint32
	UptimeMs uint32
}

// LEDMode is the drive mode of one status LED.
type LEDMode uint8

const (
	LEDOff LEDMode = iota
	LEDOn
	LEDBlink
	LEDStrobe
)

func (m LEDMode) String() string {
	switch m {
	case LEDOff:
		return "off"
	case LEDOn:
		return "on"
	case LEDBlink:
		return "blink"
	case LEDStrobe:
		return "strobe"
	default:
		return "unknown"
	}
}

// NumStatusLEDs is the number of status LEDs packed into one byte.
const NumStatusLEDs = 4

// Steering flag bits.
const (
	FlagThrottleUncalibrated uint8 = 1 << 0
	FlagBrakeUncalibrated    uint8 = 1 << 1
	FlagCalibrating          uint8 = 1 << 2
)

// TrackerNever is the time tracker value for a peer never heard from.
const TrackerNever uint32 = 0xFFFFFFFF

// Steering is the state message sent to the vehicle computer and BMS.
type Steering struct {
	Buttons    uint16
	Toggles    uint16
	LEDs       uint16
	StatusLEDs [NumStatusLEDs]LEDMode
	Flags      uint8
	Throttle   float32
	Brake      float32
	Screen     uint32
	// Milliseconds since the last valid message from each peer
	TrackerVC  uint32
	TrackerBMS uint32
}

// Vehicle is the state message sent by the vehicle computer.
type Vehicle struct {
	Speed       float32
	DriveMode   uint32
	Lights      uint32
	Flags       uint32
	LEDOverride uint16
}

// MaxDriveMode is the highest defined drive mode value.
const MaxDriveMode = 3

// Battery is the state message sent by the battery management system.
type Battery struct {
	Voltage float32
	Current float32
	SOC     float32
	MaxTemp float32
	Flags   uint32
}

// Stale bits in a telemetry message.
const (
	StaleVC  uint32 = 1 << 0
	StaleBMS uint32 = 1 << 1
)

// Telemetry is the aggregated broadcast message.
type Telemetry struct {
	Stale    uint32
	Steering Steering
	Vehicle  Vehicle
	Battery  Battery
}

// Message holds one decoded datagram. Only the body matching Header.Kind
// is meaningful.
type Message struct {
	Header    Header
	Steering  Steering
	Vehicle   Vehicle
	Battery   Battery
	Telemetry Telemetry
}
