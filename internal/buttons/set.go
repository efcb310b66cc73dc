package buttons

import (
	"strings"
	"time"
)

// Set is a bitfield of buttons, bit n = ID(n).
type Set uint16

// Mask covers every valid button bit.
const Mask Set = 1<<uint(Count) - 1

// SetOf builds a set from ids. Invalid ids are ignored.
func SetOf(ids ...ID) Set {
	var s Set
	for _, id := range ids {
		if id.Valid() {
			s |= 1 << uint(id)
		}
	}
	return s
}

// Has reports whether id is in the set.
func (s Set) Has(id ID) bool {
	return id.Valid() && s&(1<<uint(id)) != 0
}

// Contains reports whether every button in other is also in s.
func (s Set) Contains(other Set) bool {
	return s&other == other
}

func (s Set) String() string {
	var parts []string
	for _, id := range All() {
		if s.Has(id) {
			parts = append(parts, id.String())
		}
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Latch turns a level into a one-shot rising edge.
// The zero value is released.
type Latch struct {
	held bool
}

// Rising returns true only on the first call where held becomes true.
func (l *Latch) Rising(held bool) bool {
	fire := held && !l.held
	l.held = held
	return fire
}

// Held reports the last level passed to Rising.
func (l Latch) Held() bool {
	return l.held
}

// HoldTrigger fires once when a level has been held for a minimum duration.
// It re-arms only after the level is released.
type HoldTrigger struct {
	hold  time.Duration
	since time.Time
	down  bool
	fired bool
}

// NewHoldTrigger creates a trigger requiring hold duration.
func NewHoldTrigger(hold time.Duration) *HoldTrigger {
	return &HoldTrigger{hold: hold}
}

// Update feeds the current level and returns true when the trigger fires.
func (h *HoldTrigger) Update(held bool, now time.Time) bool {
	if !held {
		h.down = false
		h.fired = false
		return false
	}
	if !h.down {
		h.down = true
		h.since = now
	}
	if now.Before(h.since) {
		h.since = now
	}
	if h.fired || now.Sub(h.since) < h.hold {
		return false
	}
	h.fired = true
	return true
}
