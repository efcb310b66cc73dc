package node

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sweeney/steering-node/internal/adc"
	"github.com/sweeney/steering-node/internal/buttons"
	"github.com/sweeney/steering-node/internal/gpio"
	"github.com/sweeney/steering-node/internal/mqtt"
	"github.com/sweeney/steering-node/internal/netio"
	"github.com/sweeney/steering-node/internal/output"
	"github.com/sweeney/steering-node/internal/pedal"
	"github.com/sweeney/steering-node/internal/protocol"
	"github.com/sweeney/steering-node/internal/sched"
	"github.com/sweeney/steering-node/internal/state"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

const tick = 50 * time.Millisecond

var _ Mirror = (*mqtt.FakePublisher)(nil)

type rig struct {
	node *Node
	btn  *gpio.FakeReader
	adc  *adc.FakeReader
	leds *gpio.FakeLEDs
	disp *FakeDisplay
	n    int
}

func newRig(t *testing.T) *rig {
	t.Helper()
	r := &rig{
		btn:  gpio.NewFakeReader(buttons.Levels{}),
		adc:  adc.NewFakeReader(),
		leds: gpio.NewFakeLEDs(),
		disp: &FakeDisplay{},
	}
	store := state.NewStore(t0, state.DefaultTimeouts, nil)
	r.node = New(store, Options{
		Buttons:  r.btn,
		Pedals:   r.adc,
		LEDs:     r.leds,
		Display:  r.disp,
		Debounce: buttons.DefaultWindow,
		Alpha:    pedal.DefaultAlpha,
		DeadZone: pedal.DefaultDeadZone,
		Now:      func() time.Time { return t0 },
	}, "boot", t0)
	return r
}

// step runs k input ticks at the sampling period.
func (r *rig) step(k int) {
	for i := 0; i < k; i++ {
		r.node.Input().Tick(t0.Add(time.Duration(r.n) * tick))
		r.n++
	}
}

func (r *rig) steering() state.SteeringState {
	return r.node.Store().Steering()
}

func drain(q *EventQueue) []buttons.Event {
	var out []buttons.Event
	for {
		select {
		case ev := <-q.C():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestTracker(t *testing.T) {
	s := state.NewStore(t0, state.DefaultTimeouts, nil)
	require.Equal(t, protocol.TrackerNever, Tracker(s.ReadAt(t0), state.PeerVC))

	s.UpdateVehicle(state.VehicleState{}, t0)
	require.Equal(t, uint32(1500), Tracker(s.ReadAt(t0.Add(1500*time.Millisecond)), state.PeerVC))
	require.Equal(t, uint32(0), Tracker(s.ReadAt(t0.Add(-time.Second)), state.PeerVC), "clock skew reads as zero age")
	require.Equal(t, protocol.TrackerNever, Tracker(s.ReadAt(t0.Add(60*24*time.Hour)), state.PeerVC))
}

func TestSteeringMessage(t *testing.T) {
	s := state.NewStore(t0, state.DefaultTimeouts, nil)
	s.UpdateLocal(func(st *state.SteeringState) {
		st.Pressed = buttons.SetOf(buttons.Horn)
		st.Toggles = buttons.SetOf(buttons.Lock)
		st.Screen = state.ScreenDebug
	})
	m := SteeringMessage(s.ReadAt(t0))

	require.Equal(t, uint16(buttons.SetOf(buttons.Horn)), m.Buttons)
	require.Equal(t, uint16(buttons.SetOf(buttons.Lock)), m.Toggles)
	require.Equal(t, uint16(buttons.SetOf(buttons.Horn, buttons.Lock)), m.LEDs)
	require.Equal(t, protocol.FlagThrottleUncalibrated|protocol.FlagBrakeUncalibrated, m.Flags)
	require.Equal(t, uint32(state.ScreenDebug), m.Screen)
	require.Zero(t, m.Throttle)
	require.Equal(t, protocol.TrackerNever, m.TrackerVC)
	require.Equal(t, protocol.TrackerNever, m.TrackerBMS)
	require.Equal(t, protocol.LEDBlink, m.StatusLEDs[output.StatusFault])
}

func TestBuildersDecode(t *testing.T) {
	s := state.NewStore(t0, state.DefaultTimeouts, nil)
	s.UpdateBattery(state.BatteryState{Voltage: 96, SOC: 0.8}, t0)
	snap := s.ReadAt(t0.Add(250 * time.Millisecond))
	buf := make([]byte, protocol.MaxDatagram)

	n, err := BuildSteering(buf, 7, snap)
	require.NoError(t, err)
	var msg protocol.Message
	require.NoError(t, protocol.Decode(buf[:n], &msg))
	require.Equal(t, protocol.KindSteering, msg.Header.Kind)
	require.Equal(t, uint32(7), msg.Header.Seq)
	require.Equal(t, uint32(250), msg.Header.UptimeMs)
	require.Equal(t, uint32(250), msg.Steering.TrackerBMS)

	n, err = BuildTelemetry(buf, 8, snap)
	require.NoError(t, err)
	require.NoError(t, protocol.Decode(buf[:n], &msg))
	require.Equal(t, protocol.KindTelemetry, msg.Header.Kind)
	require.Equal(t, protocol.StaleVC, msg.Telemetry.Stale)
	require.Equal(t, float32(0.8), msg.Telemetry.Battery.SOC)
}

func TestEventQueueDropsWhenFull(t *testing.T) {
	q := NewEventQueue(2)
	require.True(t, q.Push(buttons.Event{Button: buttons.Horn}))
	require.True(t, q.Push(buttons.Event{Button: buttons.Horn}))
	require.False(t, q.Push(buttons.Event{Button: buttons.Horn}))
	require.Equal(t, uint64(1), q.Dropped())
	require.Equal(t, 2, q.Len())

	require.Equal(t, DefaultQueueSize, cap(NewEventQueue(0).ch))
}

func TestInputDebouncesIntoStore(t *testing.T) {
	r := newRig(t)
	r.btn.Hold(gpio.Pressed(buttons.Horn))

	r.step(1)
	require.False(t, r.steering().Pressed.Has(buttons.Horn), "not committed within the window")
	require.Empty(t, drain(r.node.Queue()))

	r.step(1)
	st := r.steering()
	require.True(t, st.Pressed.Has(buttons.Horn))
	require.True(t, st.Buttons[buttons.Horn].Debounced)
	require.Equal(t, uint64(2), st.Tick)
	require.Equal(t, t0.Add(tick), st.SampledAt)

	evs := drain(r.node.Queue())
	require.Len(t, evs, 1)
	require.Equal(t, buttons.EventPressed, evs[0].Kind)
}

func TestInputReadErrorHoldsLastLevels(t *testing.T) {
	r := newRig(t)
	r.btn.Hold(gpio.Pressed(buttons.Horn))
	r.step(2)

	r.btn.SetError(errors.New("line busy"))
	r.step(3)
	require.True(t, r.steering().Pressed.Has(buttons.Horn), "read failure is not a release")
	require.Equal(t, uint64(5), r.steering().Tick)
}

func TestInputPedalErrorForcesZero(t *testing.T) {
	r := newRig(t)
	r.node.input.pedals.SetCalibration(pedal.Throttle, pedal.Calibration{Zero: 0, Max: 4000, ZeroSet: true, MaxSet: true})
	r.adc.Hold(2000, 0)
	r.step(1)
	require.InDelta(t, 0.5, r.steering().Throttle(), 0.001)

	r.adc.SetError(errors.New("EIO"))
	r.step(1)
	st := r.steering()
	require.Zero(t, st.Throttle())
	require.Equal(t, uint16(2000), st.Pedals[pedal.Throttle].Raw)

	r.adc.SetError(nil)
	r.step(1)
	require.InDelta(t, 0.5, r.steering().Throttle(), 0.001)
}

func TestCalibrationSequence(t *testing.T) {
	r := newRig(t)
	combo := gpio.Pressed(buttons.PushToTalk, buttons.CruiseDown)

	r.adc.Hold(100, 200)
	r.btn.Hold(combo)
	r.step(40) // committed at tick 1, held 1.95s
	require.False(t, r.steering().Calibrating)
	r.step(10)
	require.True(t, r.steering().Calibrating, "zero recorded after 2s hold")
	require.True(t, r.steering().Uncalibrated())

	r.step(20)
	require.True(t, r.steering().Calibrating, "one step per hold")

	r.btn.Hold(buttons.Levels{})
	r.step(2)
	r.adc.Hold(3000, 3500)
	r.btn.Hold(combo)
	r.step(50)

	st := r.steering()
	require.False(t, st.Calibrating)
	require.False(t, st.Uncalibrated())
	require.InDelta(t, 100, st.Pedals[pedal.Throttle].Calibration.Zero, 0.01)
	require.InDelta(t, 3000, st.Pedals[pedal.Throttle].Calibration.Max, 1)
	require.InDelta(t, 1.0, st.Throttle(), 0.001)
	require.InDelta(t, 1.0, st.Brake(), 0.001)
}

func TestScreenComboTogglesOncePerHold(t *testing.T) {
	r := newRig(t)
	r.btn.Hold(gpio.Pressed(buttons.Lock, buttons.LeftTurn, buttons.PushToTalk))

	r.step(5)
	require.Equal(t, state.ScreenDebug, r.steering().Screen)

	r.btn.Hold(buttons.Levels{})
	r.step(2)
	require.Equal(t, state.ScreenDebug, r.steering().Screen)

	r.btn.Hold(gpio.Pressed(buttons.Lock, buttons.LeftTurn, buttons.PushToTalk))
	r.step(3)
	require.Equal(t, state.ScreenMain, r.steering().Screen)
}

func TestLEDTask(t *testing.T) {
	r := newRig(t)
	r.btn.Hold(gpio.Pressed(buttons.Horn))
	r.step(2)

	r.node.leds.Tick(t0)
	lv, ok := r.leds.Last()
	require.True(t, ok)
	require.True(t, lv.Buttons.Has(buttons.Horn))
	require.True(t, lv.Heartbeat)
	require.True(t, lv.Status[output.StatusFault], "uncalibrated blink starts in on phase")

	r.node.leds.Tick(t0.Add(output.HeartbeatHalfPeriod))
	lv, _ = r.leds.Last()
	require.False(t, lv.Heartbeat)
	require.Equal(t, 2, r.leds.Frames())
}

func TestDisplayKeepsLastGoodFrame(t *testing.T) {
	r := newRig(t)
	r.node.display.Tick(t0)
	first := r.node.display.Last()
	require.Equal(t, state.ScreenMain, first.Screen)
	require.Len(t, r.disp.Frames(), 1)

	r.node.Store().UpdateLocal(func(st *state.SteeringState) { st.Screen = state.ScreenDebug })
	r.disp.SetError(errors.New("spi timeout"))
	r.node.display.Tick(t0)
	require.Equal(t, first, r.node.display.Last())

	r.disp.SetError(nil)
	r.node.display.Tick(t0)
	require.Equal(t, state.ScreenDebug, r.node.display.Last().Screen)
}

func TestComposeScreens(t *testing.T) {
	s := state.NewStore(t0, state.DefaultTimeouts, nil)
	s.UpdateVehicle(state.VehicleState{Speed: 42, DriveMode: state.DriveEco}, t0)

	f := Compose(s.ReadAt(t0))
	require.Equal(t, []string{"speed 42", "mode eco", "soc --", "thr CAL brk CAL"}, f.Lines)

	s.UpdateLocal(func(st *state.SteeringState) { st.Screen = state.ScreenDebug })
	f = Compose(s.ReadAt(t0.Add(5 * time.Second)))
	require.Equal(t, state.ScreenDebug, f.Screen)
	require.Contains(t, f.Lines, "vc STALE 5s")
	require.Contains(t, f.Lines, "bms --")
}

func TestLogDisplay(t *testing.T) {
	d := &LogDisplay{}
	f := Frame{Screen: state.ScreenDebug, Lines: []string{"a"}}
	require.NoError(t, d.Render(f))
	require.NoError(t, d.Render(f))
	require.True(t, d.last.equal(f))
}

func TestMirrorsReceiveStatusAndEvents(t *testing.T) {
	r := newRig(t)
	pub := mqtt.NewFakePublisher()
	r.node.AddMirror(pub)

	r.node.TickMirrors(t0.Add(time.Second))
	require.Len(t, pub.Statuses(), 1)
	require.Equal(t, t0.Add(time.Second), pub.Statuses()[0].Now)

	r.btn.Hold(gpio.Pressed(buttons.RightTurn))
	r.step(2)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- consumeEvents(ctx, r.node.Queue(), r.node.mirrors) }()
	require.Eventually(t, func() bool { return len(pub.Events()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	ev := pub.Events()[0]
	require.Equal(t, buttons.RightTurn, ev.Button)
	require.Equal(t, buttons.EventToggled, ev.Kind)
	require.True(t, ev.Toggle)
}

func TestInfoReportsBroker(t *testing.T) {
	r := newRig(t)
	require.Empty(t, r.node.Info().MQTT)

	pub := mqtt.NewFakePublisher()
	r.node.SetBroker(pub)
	require.Equal(t, "connected", r.node.Info().MQTT)

	pub.SetConnected(false)
	require.Equal(t, "disconnected", r.node.Info().MQTT)
	require.Contains(t, string(state.FormatJSON(r.node.Snapshot(), r.node.Info())), `"mqtt": "disconnected"`)
}

func TestRegisterAndInfo(t *testing.T) {
	r := newRig(t)
	store := r.node.Store()
	addr := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 9}
	r.node.AddPeerLink(netio.NewSender("vc", addr, store, BuildSteering, nil))
	r.node.AddPeerLink(netio.NewSender("bms", addr, store, BuildSteering, nil))
	r.node.AddBroadcastLink(netio.NewSender("broadcast", addr, store, BuildTelemetry, nil))
	r.node.SetReceiver(netio.NewReceiver(netio.ReceiverConfig{Addr: "127.0.0.1:0"}, store, nil, nil))
	r.node.AddMirror(mqtt.NewFakePublisher())

	g := sched.NewGroup(sched.NewMonitor(0, 0), func() time.Time { return t0 })
	r.node.Register(g)

	names := make([]string, 0)
	for name := range g.Overruns() {
		names = append(names, name)
	}
	require.ElementsMatch(t, []string{"input", "send-vc", "send-bms", "telemetry", "display", "leds", "mirror"}, names)

	info := r.node.Info()
	require.Equal(t, "boot", info.BootID)
	require.Len(t, info.Links, 3)
	require.Equal(t, "broadcast", info.Links[2].Name)
	require.Len(t, info.Overruns, 7)

	r.node.Close()
	require.True(t, r.leds.Closed())
}
