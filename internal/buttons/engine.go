package buttons

import "time"

// DefaultWindow is the debounce window used by the reference hardware.
const DefaultWindow = 10 * time.Millisecond

// Engine tracks debounce state for all buttons and detects committed transitions.
// Not safe for concurrent use; it is owned by the sampling task.
type Engine struct {
	window time.Duration
	states [Count]State
}

// NewEngine creates an engine with every button released.
func NewEngine(window time.Duration) *Engine {
	if window < 0 {
		window = 0
	}
	return &Engine{window: window}
}

// Window returns the configured debounce window.
func (e *Engine) Window() time.Duration {
	return e.window
}

// Sample feeds one raw level for a button. It returns an event and true when
// the sample commits a transition that must be reported.
func (e *Engine) Sample(id ID, raw bool, now time.Time) (Event, bool) {
	if !id.Valid() {
		return Event{}, false
	}
	st := &e.states[id]
	st.Raw = raw

	if raw != st.candidate {
		// New candidate level, restart the window
		st.candidate = raw
		st.candidateSince = now
		return Event{}, false
	}

	if now.Before(st.candidateSince) {
		// Clock went backwards: count as no time elapsed
		st.candidateSince = now
		return Event{}, false
	}

	if st.candidate == st.Debounced {
		return Event{}, false
	}

	if now.Sub(st.candidateSince) < e.window {
		return Event{}, false
	}

	st.Debounced = st.candidate
	st.LastChange = now
	return e.transition(id, st, now)
}

func (e *Engine) transition(id ID, st *State, now time.Time) (Event, bool) {
	ev := Event{Time: now, Button: id, Pressed: st.Debounced}

	if id.Mode() == Toggle {
		if !st.Debounced {
			// Releases of toggle buttons are not reported
			return Event{}, false
		}
		st.Toggle = !st.Toggle
		ev.Kind = EventToggled
		ev.Toggle = st.Toggle
		return ev, true
	}

	if st.Debounced {
		ev.Kind = EventPressed
	} else {
		ev.Kind = EventReleased
	}
	return ev, true
}

// SampleAll feeds one sample of every button and appends any events to out.
// Events are appended in button order. Passing a buffer with spare capacity
// keeps the call allocation free.
func (e *Engine) SampleAll(levels Levels, now time.Time, out []Event) []Event {
	for i, raw := range levels {
		if ev, ok := e.Sample(ID(i), raw, now); ok {
			out = append(out, ev)
		}
	}
	return out
}

// State returns a copy of one button's state.
func (e *Engine) State(id ID) State {
	if !id.Valid() {
		return State{}
	}
	return e.states[id]
}

// States returns a copy of every button's state.
func (e *Engine) States() [Count]State {
	return e.states
}

// Pressed returns the set of buttons whose debounced level is pressed.
func (e *Engine) Pressed() Set {
	var s Set
	for i := range e.states {
		if e.states[i].Debounced {
			s |= 1 << uint(i)
		}
	}
	return s
}

// Toggles returns the set of toggle buttons whose value is on.
func (e *Engine) Toggles() Set {
	var s Set
	for i := range e.states {
		if e.states[i].Toggle {
			s |= 1 << uint(i)
		}
	}
	return s
}
