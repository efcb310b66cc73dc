package node

import (
	"time"

	"github.com/golang/glog"

	"github.com/sweeney/steering-node/internal/gpio"
	"github.com/sweeney/steering-node/internal/output"
	"github.com/sweeney/steering-node/internal/state"
)

// LEDTask drives the LED lines from the store.
type LEDTask struct {
	store *state.Store
	leds  gpio.LEDs
	start time.Time
	fails uint64
}

// NewLEDTask creates the LED task. Blink phases are measured from start.
func NewLEDTask(store *state.Store, leds gpio.LEDs, start time.Time) *LEDTask {
	return &LEDTask{store: store, leds: leds, start: start}
}

// Tick writes one LED frame.
func (t *LEDTask) Tick(now time.Time) {
	plan := output.PlanLEDs(t.store.ReadAt(now))
	if err := t.leds.Set(plan.Levels(now.Sub(t.start))); err != nil {
		t.fails++
		if t.fails == 1 || t.fails%logEvery == 0 {
			glog.Warningf("led write: %v (failures=%d)", err, t.fails)
		}
	}
}
