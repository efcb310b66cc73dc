package node

import (
	"time"

	"github.com/golang/glog"

	"github.com/sweeney/steering-node/internal/adc"
	"github.com/sweeney/steering-node/internal/buttons"
	"github.com/sweeney/steering-node/internal/gpio"
	"github.com/sweeney/steering-node/internal/output"
	"github.com/sweeney/steering-node/internal/pedal"
	"github.com/sweeney/steering-node/internal/state"
)

// CalibrationCombo held for the calibration hold time records one
// calibration point for both pedals.
var CalibrationCombo = buttons.SetOf(buttons.PushToTalk, buttons.CruiseDown)

// DefaultCalibrationHold is how long CalibrationCombo must be held.
const DefaultCalibrationHold = 2 * time.Second

const logEvery = 100

// Input is the sampling task. It owns the debounce engine and the pedal
// pipeline; nothing else mutates them.
type Input struct {
	store   *state.Store
	queue   *EventQueue
	buttons gpio.Reader
	adc     adc.Reader
	engine  *buttons.Engine
	pedals  *pedal.Pipeline
	calib   *buttons.HoldTrigger

	levels    buttons.Levels
	events    []buttons.Event
	gpioFails uint64
	adcFails  uint64
}

// NewInput creates the sampling task.
func NewInput(store *state.Store, queue *EventQueue, btn gpio.Reader, pedals adc.Reader, engine *buttons.Engine, pipeline *pedal.Pipeline, calibrationHold time.Duration) *Input {
	if calibrationHold <= 0 {
		calibrationHold = DefaultCalibrationHold
	}
	return &Input{
		store:   store,
		queue:   queue,
		buttons: btn,
		adc:     pedals,
		engine:  engine,
		pedals:  pipeline,
		calib:   buttons.NewHoldTrigger(calibrationHold),
		events:  make([]buttons.Event, 0, buttons.Count),
	}
}

// Tick samples every input once and publishes the result to the store in a
// single update. Events are queued after the store lock is released.
func (in *Input) Tick(now time.Time) {
	var levels buttons.Levels
	if err := in.buttons.Read(&levels); err != nil {
		// Hold the last good sample so a read glitch is not seen as a release.
		levels = in.levels
		in.gpioFails++
		if in.gpioFails == 1 || in.gpioFails%logEvery == 0 {
			glog.Warningf("button read: %v (failures=%d)", err, in.gpioFails)
		}
	} else {
		in.levels = levels
	}
	in.events = in.engine.SampleAll(levels, now, in.events[:0])
	pressed := in.engine.Pressed()

	var raw [pedal.NumChannels]uint16
	adcOK := true
	if err := in.adc.Read(&raw); err != nil {
		adcOK = false
		in.adcFails++
		if in.adcFails == 1 || in.adcFails%logEvery == 0 {
			glog.Warningf("pedal read: %v (failures=%d)", err, in.adcFails)
		}
	} else {
		for ch := pedal.Channel(0); ch < pedal.NumChannels; ch++ {
			in.pedals.Ingest(ch, raw[ch])
		}
	}

	if in.calib.Update(pressed.Contains(CalibrationCombo), now) {
		point := in.pedals.Trigger()
		glog.Infof("calibration: recorded %s point", point)
		if point == pedal.PointMax {
			for _, r := range in.pedals.Readings() {
				if !r.Calibration.Valid() {
					glog.Warningf("calibration: max %.0f not above zero %.0f, pedal stays uncalibrated", r.Calibration.Max, r.Calibration.Zero)
				}
			}
		}
	}

	readings := in.pedals.Readings()
	if !adcOK {
		for i := range readings {
			readings[i].Normalized = 0
		}
	}
	states := in.engine.States()
	toggles := in.engine.Toggles()
	calibrating := in.pedals.Calibrating()

	var screen state.Screen
	changed := false
	in.store.UpdateLocal(func(st *state.SteeringState) {
		st.Buttons = states
		st.Pressed = pressed
		st.Toggles = toggles
		st.Pedals = readings
		st.Calibrating = calibrating
		changed = output.ApplyScreen(st)
		screen = st.Screen
		st.Tick++
		st.SampledAt = now
	})
	if changed {
		glog.Infof("screen: %s", screen)
	}

	for _, ev := range in.events {
		in.queue.Push(ev)
	}
}
