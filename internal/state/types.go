// Package state holds the shared vehicle state of the steering node: the
// locally owned steering state and the last known state of each peer.
// It is the only mutable state shared between tasks.
package state

import (
	"time"

	"github.com/sweeney/steering-node/internal/buttons"
	"github.com/sweeney/steering-node/internal/pedal"
)

// Screen selects which display page is active.
type Screen uint32

const (
	ScreenMain Screen = iota
	ScreenDebug
)

// NumScreens is the number of display pages.
const NumScreens = 2

// Next returns the screen after s, wrapping around.
func (s Screen) Next() Screen {
	return (s + 1) % NumScreens
}

func (s Screen) String() string {
	switch s {
	case ScreenMain:
		return "main"
	case ScreenDebug:
		return "debug"
	default:
		return "unknown"
	}
}

// SteeringState is the local authoritative state. It is mutated only by the
// input sampling task, which also runs the calibration trigger.
type SteeringState struct {
	Buttons [buttons.Count]buttons.State
	Pressed buttons.Set
	Toggles buttons.Set

	Pedals      [pedal.NumChannels]pedal.Reading
	Calibrating bool

	Screen      Screen
	ScreenCombo buttons.Latch

	// Tick counts completed sampling ticks
	Tick      uint64
	SampledAt time.Time
}

// Throttle returns the normalized throttle position.
func (s SteeringState) Throttle() float32 {
	return s.Pedals[pedal.Throttle].Normalized
}

// Brake returns the normalized brake position.
func (s SteeringState) Brake() float32 {
	return s.Pedals[pedal.Brake].Normalized
}

// Uncalibrated reports whether either pedal lacks a usable calibration.
func (s SteeringState) Uncalibrated() bool {
	return s.Pedals[pedal.Throttle].Uncalibrated || s.Pedals[pedal.Brake].Uncalibrated
}

// DriveMode is the drive mode reported by the vehicle computer.
type DriveMode uint32

const (
	DriveNeutral DriveMode = iota
	DriveForward
	DriveReverse
	DriveEco
)

func (m DriveMode) String() string {
	switch m {
	case DriveNeutral:
		return "neutral"
	case DriveForward:
		return "drive"
	case DriveReverse:
		return "reverse"
	case DriveEco:
		return "eco"
	default:
		return "unknown"
	}
}

// Vehicle flag bits.
const (
	VehicleCruiseActive uint32 = 1 << 0
	VehicleFault        uint32 = 1 << 1
)

// VehicleState is the snapshot sent by the vehicle computer.
type VehicleState struct {
	Speed     float32
	DriveMode DriveMode
	Lights    uint32
	Flags     uint32
	// LEDOverride forces button LEDs on, bit n = button n
	LEDOverride buttons.Set
}

// Battery flag bits.
const (
	BatteryFault     uint32 = 1 << 0
	BatteryCharging  uint32 = 1 << 1
	BatteryBalancing uint32 = 1 << 2
)

// BatteryState is the snapshot sent by the battery management system.
type BatteryState struct {
	Voltage float32
	Current float32
	SOC     float32
	MaxTemp float32
	Flags   uint32
}

// Peer identifies a remote node.
type Peer uint8

const (
	PeerVC Peer = iota
	PeerBMS
)

// NumPeers is the number of remote nodes.
const NumPeers = 2

func (p Peer) String() string {
	switch p {
	case PeerVC:
		return "vc"
	case PeerBMS:
		return "bms"
	default:
		return "unknown"
	}
}

// PeerState is the last snapshot received from a peer. It is replaced
// wholesale on every accepted message.
type PeerState[T any] struct {
	Data         T
	LastReceived time.Time
	Received     bool
	Updates      uint64
}

// Timeouts holds the staleness timeout per peer.
type Timeouts [NumPeers]time.Duration

// DefaultTimeouts is three times the peers' 1000 ms send interval.
var DefaultTimeouts = Timeouts{
	PeerVC:  3 * time.Second,
	PeerBMS: 3 * time.Second,
}

// IsStale reports whether a peer last heard at last has exceeded timeout at now.
// A peer that was never heard from is stale. Timestamps from the future count
// as zero age.
func IsStale(last time.Time, received bool, timeout time.Duration, now time.Time) bool {
	if !received {
		return true
	}
	return age(last, now) > timeout
}

func age(last, now time.Time) time.Duration {
	d := now.Sub(last)
	if d < 0 {
		return 0
	}
	return d
}
