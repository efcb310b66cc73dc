// Package buttons contains the pure debounce and toggle logic for the
// steering wheel buttons.
// This package has NO external dependencies (no GPIO, network, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package buttons

import "time"

// ID identifies one of the ten physical buttons. The numeric value is also
// the bit position used in wire bitfields.
type ID uint8

const (
	CruiseDown ID = iota
	CruiseUp
	Reverse
	PushToTalk
	Horn
	PowerSave
	Rearview
	LeftTurn
	RightTurn
	Lock
)

// Count is the number of buttons on the wheel.
const Count = int(Lock) + 1

// Mode selects how a button's logical state follows the physical press.
type Mode uint8

const (
	// Momentary buttons report both press and release.
	Momentary Mode = iota
	// Toggle buttons flip a persistent value on every press.
	Toggle
)

var names = [Count]string{
	CruiseDown: "Cruise Down",
	CruiseUp:   "Cruise Up",
	Reverse:    "Reverse",
	PushToTalk: "Push-to-Talk",
	Horn:       "Horn",
	PowerSave:  "Power Save",
	Rearview:   "Rearview",
	LeftTurn:   "Left Turn",
	RightTurn:  "Right Turn",
	Lock:       "Lock",
}

// All returns every button in bit order.
func All() [Count]ID {
	var ids [Count]ID
	for i := range ids {
		ids[i] = ID(i)
	}
	return ids
}

// Valid reports whether id names a real button.
func (id ID) Valid() bool {
	return int(id) < Count
}

// Mode returns the fixed mode of the button.
func (id ID) Mode() Mode {
	switch id {
	case LeftTurn, RightTurn, Lock:
		return Toggle
	default:
		return Momentary
	}
}

func (id ID) String() string {
	if !id.Valid() {
		return "Unknown"
	}
	return names[id]
}

func (m Mode) String() string {
	if m == Toggle {
		return "toggle"
	}
	return "momentary"
}

// EventKind represents a debounced transition.
type EventKind string

const (
	EventPressed  EventKind = "PRESSED"
	EventReleased EventKind = "RELEASED"
	EventToggled  EventKind = "TOGGLED"
)

// Event is a committed button transition.
type Event struct {
	Time   time.Time
	Button ID
	Kind   EventKind
	// Pressed is the debounced level after the transition.
	Pressed bool
	// Toggle is the new toggle value. Only meaningful for EventToggled.
	Toggle bool
}

// State is the per-button debounce state.
type State struct {
	// Last raw sample
	Raw bool
	// Current stable (debounced) level, true = pressed
	Debounced bool
	// Time the debounced level last changed
	LastChange time.Time
	// Persistent value for toggle-mode buttons
	Toggle bool

	// Level being observed during debounce
	candidate bool
	// Time when candidate was first observed
	candidateSince time.Time
}

// Levels is one raw sample of every button, indexed by ID.
type Levels [Count]bool
