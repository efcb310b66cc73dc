// Package output maps a state snapshot onto indicator outputs: the ten
// button LEDs, the four status LEDs, the board heartbeat LED and the
// active display screen. Everything here is a pure function of its inputs.
package output

import (
	"time"

	"github.com/sweeney/steering-node/internal/buttons"
	"github.com/sweeney/steering-node/internal/protocol"
	"github.com/sweeney/steering-node/internal/state"
)

// Square wave half periods.
const (
	BlinkHalfPeriod     = 500 * time.Millisecond
	StrobeHalfPeriod    = 100 * time.Millisecond
	HeartbeatHalfPeriod = 1000 * time.Millisecond
)

// StatusLED identifies one of the status LEDs.
type StatusLED uint8

const (
	StatusVC StatusLED = iota
	StatusBMS
	StatusDrive
	StatusFault
)

// NumStatus is the number of status LEDs.
const NumStatus = protocol.NumStatusLEDs

func (s StatusLED) String() string {
	switch s {
	case StatusVC:
		return "vc"
	case StatusBMS:
		return "bms"
	case StatusDrive:
		return "drive"
	case StatusFault:
		return "fault"
	default:
		return "unknown"
	}
}

// TurnSignals blink instead of staying lit while their toggle is on.
var TurnSignals = buttons.SetOf(buttons.LeftTurn, buttons.RightTurn)

// Plan is the requested LED state before blink phases are applied.
type Plan struct {
	// Buttons is the set of button LEDs requested on
	Buttons buttons.Set
	// Blink is the subset of Buttons that blinks
	Blink  buttons.Set
	Status [NumStatus]protocol.LEDMode
}

// Levels is the physical on/off state of every LED at one instant.
type Levels struct {
	Buttons   buttons.Set
	Status    [NumStatus]bool
	Heartbeat bool
}

// ButtonLEDs returns the button LEDs that should be lit: momentary buttons
// follow their pressed level, toggle buttons follow their toggle value, and
// the vehicle computer may force LEDs on while its link is fresh.
func ButtonLEDs(snap state.Snapshot) buttons.Set {
	var toggleMask buttons.Set
	for _, id := range buttons.All() {
		if id.Mode() == buttons.Toggle {
			toggleMask |= buttons.SetOf(id)
		}
	}
	st := snap.Steering
	lit := st.Pressed&^toggleMask | st.Toggles&toggleMask
	if !snap.Stale(state.PeerVC) {
		lit |= snap.VC.Data.LEDOverride & buttons.Mask
	}
	return lit
}

func linkMode(snap state.Snapshot, p state.Peer, received bool) protocol.LEDMode {
	switch {
	case !snap.Stale(p):
		return protocol.LEDOn
	case received:
		return protocol.LEDBlink
	default:
		return protocol.LEDOff
	}
}

// StatusModes returns the mode of each status LED.
//
//	vc, bms: on while fresh, blinking once stale, off if never heard
//	drive:   off in neutral or without VC, on in drive, blink in eco, strobe in reverse
//	fault:   strobe on a fresh peer fault, blink while pedals are uncalibrated
func StatusModes(snap state.Snapshot) [NumStatus]protocol.LEDMode {
	var m [NumStatus]protocol.LEDMode
	vcFresh := !snap.Stale(state.PeerVC)
	bmsFresh := !snap.Stale(state.PeerBMS)

	m[StatusVC] = linkMode(snap, state.PeerVC, snap.VC.Received)
	m[StatusBMS] = linkMode(snap, state.PeerBMS, snap.BMS.Received)

	if vcFresh {
		switch snap.VC.Data.DriveMode {
		case state.DriveForward:
			m[StatusDrive] = protocol.LEDOn
		case state.DriveEco:
			m[StatusDrive] = protocol.LEDBlink
		case state.DriveReverse:
			m[StatusDrive] = protocol.LEDStrobe
		}
	}

	switch {
	case vcFresh && snap.VC.Data.Flags&state.VehicleFault != 0,
		bmsFresh && snap.BMS.Data.Flags&state.BatteryFault != 0:
		m[StatusFault] = protocol.LEDStrobe
	case snap.Steering.Uncalibrated() || snap.Steering.Calibrating:
		m[StatusFault] = protocol.LEDBlink
	}
	return m
}

// PlanLEDs computes the LED plan for snap.
func PlanLEDs(snap state.Snapshot) Plan {
	lit := ButtonLEDs(snap)
	return Plan{
		Buttons: lit,
		Blink:   lit & TurnSignals,
		Status:  StatusModes(snap),
	}
}

// Phase reports whether a square wave with the given half period is in its
// on phase after elapsed. Negative elapsed counts as zero.
func Phase(elapsed, half time.Duration) bool {
	if half <= 0 {
		return true
	}
	if elapsed < 0 {
		elapsed = 0
	}
	return (elapsed/half)%2 == 0
}

func modeLevel(m protocol.LEDMode, elapsed time.Duration) bool {
	switch m {
	case protocol.LEDOn:
		return true
	case protocol.LEDBlink:
		return Phase(elapsed, BlinkHalfPeriod)
	case protocol.LEDStrobe:
		return Phase(elapsed, StrobeHalfPeriod)
	default:
		return false
	}
}

// Levels applies blink phases to p. elapsed is taken from a monotonic clock,
// not from button sampling.
func (p Plan) Levels(elapsed time.Duration) Levels {
	lv := Levels{Buttons: p.Buttons, Heartbeat: Phase(elapsed, HeartbeatHalfPeriod)}
	if !Phase(elapsed, BlinkHalfPeriod) {
		lv.Buttons &^= p.Blink
	}
	for i, m := range p.Status {
		lv.Status[i] = modeLevel(m, elapsed)
	}
	return lv
}

// ScreenCombo is the button combination that switches screens.
var ScreenCombo = buttons.SetOf(buttons.Lock, buttons.LeftTurn, buttons.PushToTalk)

// ScreenToggleHeld reports whether the screen combination is held.
func ScreenToggleHeld(st state.SteeringState) bool {
	return st.Pressed.Contains(ScreenCombo)
}

// ApplyScreen advances the screen once per press of the combination.
// Holding it across ticks does not toggle again. It reports whether the
// screen changed.
func ApplyScreen(st *state.SteeringState) bool {
	if !st.ScreenCombo.Rising(ScreenToggleHeld(*st)) {
		return false
	}
	st.Screen = st.Screen.Next()
	return true
}
