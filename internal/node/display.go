package node

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/sweeney/steering-node/internal/state"
)

// Frame is one rendered page of text.
type Frame struct {
	Screen state.Screen
	Lines  []string
}

func (f Frame) equal(o Frame) bool {
	if f.Screen != o.Screen || len(f.Lines) != len(o.Lines) {
		return false
	}
	for i := range f.Lines {
		if f.Lines[i] != o.Lines[i] {
			return false
		}
	}
	return true
}

// Display is the panel driver.
type Display interface {
	Render(f Frame) error
}

func peerLine(snap state.Snapshot, name string, p state.Peer) string {
	age, ok := snap.Age(p)
	switch {
	case !ok:
		return name + " --"
	case snap.Stale(p):
		return fmt.Sprintf("%s STALE %ds", name, int(age.Seconds()))
	default:
		return name + " ok"
	}
}

func pedalText(v float32, uncal bool) string {
	if uncal {
		return "CAL"
	}
	return fmt.Sprintf("%3.0f%%", v*100)
}

// Compose lays out the active screen for snap.
func Compose(snap state.Snapshot) Frame {
	st := snap.Steering
	f := Frame{Screen: st.Screen}
	switch st.Screen {
	case state.ScreenDebug:
		t, b := st.Pedals[0], st.Pedals[1]
		f.Lines = []string{
			fmt.Sprintf("btn %03x tgl %03x", uint16(st.Pressed), uint16(st.Toggles)),
			fmt.Sprintf("thr raw %4d flt %6.1f", t.Raw, t.Filtered),
			fmt.Sprintf("brk raw %4d flt %6.1f", b.Raw, b.Filtered),
			peerLine(snap, "vc", state.PeerVC),
			peerLine(snap, "bms", state.PeerBMS),
			fmt.Sprintf("up %ds tick %d", int(snap.Uptime().Seconds()), st.Tick),
		}
	default:
		speed, drive := "--", "--"
		if !snap.Stale(state.PeerVC) {
			speed = fmt.Sprintf("%.0f", snap.VC.Data.Speed)
			drive = snap.VC.Data.DriveMode.String()
		}
		soc := "--"
		if !snap.Stale(state.PeerBMS) {
			soc = fmt.Sprintf("%.0f%%", snap.BMS.Data.SOC*100)
		}
		cal := ""
		if st.Calibrating {
			cal = " calibrating"
		}
		f.Lines = []string{
			"speed " + speed,
			"mode " + drive + cal,
			"soc " + soc,
			"thr " + pedalText(st.Throttle(), st.Pedals[0].Uncalibrated) + " brk " + pedalText(st.Brake(), st.Pedals[1].Uncalibrated),
		}
	}
	return f
}

// DisplayTask refreshes the display from the store.
type DisplayTask struct {
	store *state.Store
	disp  Display
	last  Frame
	fails uint64
}

// NewDisplayTask creates the display refresh task.
func NewDisplayTask(store *state.Store, disp Display) *DisplayTask {
	return &DisplayTask{store: store, disp: disp}
}

// Tick renders the current screen. A failed render leaves the last good
// frame on the panel and is retried next tick.
func (t *DisplayTask) Tick(now time.Time) {
	f := Compose(t.store.ReadAt(now))
	if err := t.disp.Render(f); err != nil {
		t.fails++
		if t.fails == 1 || t.fails%logEvery == 0 {
			glog.Warningf("display: %v (failures=%d)", err, t.fails)
		}
		return
	}
	t.last = f
}

// Last returns the last frame rendered successfully.
func (t *DisplayTask) Last() Frame {
	return t.last
}

// LogDisplay writes frames to the log when they change. Used when no panel
// is attached.
type LogDisplay struct {
	last Frame
}

// Render logs f if it differs from the previous frame.
func (d *LogDisplay) Render(f Frame) error {
	if f.equal(d.last) {
		return nil
	}
	if f.Screen != d.last.Screen {
		glog.Infof("display: %s screen", f.Screen)
	}
	d.last = f
	if glog.V(3) {
		for _, l := range f.Lines {
			glog.Infof("display | %s", l)
		}
	}
	return nil
}

// FakeDisplay records frames for tests.
type FakeDisplay struct {
	mu     sync.Mutex
	frames []Frame
	err    error
}

// Render records f, or returns the injected error.
func (d *FakeDisplay) Render(f Frame) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.frames = append(d.frames, f)
	return nil
}

// SetError makes Render fail with err until cleared with nil.
func (d *FakeDisplay) SetError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// Frames returns the recorded frames.
func (d *FakeDisplay) Frames() []Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Frame(nil), d.frames...)
}
