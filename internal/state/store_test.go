package state

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/sweeney/steering-node/internal/buttons"
	"github.com/sweeney/steering-node/internal/pedal"
)

var t0 = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestNewStore(t *testing.T) {
	s := NewStore(t0, DefaultTimeouts, func() time.Time { return t0 })
	snap := s.Read()

	if !snap.StartTime.Equal(t0) {
		t.Errorf("StartTime: got %v, want %v", snap.StartTime, t0)
	}
	if snap.Steering.Pressed != 0 || snap.Steering.Toggles != 0 {
		t.Errorf("expected all buttons released, got pressed=%v toggles=%v", snap.Steering.Pressed, snap.Steering.Toggles)
	}
	if !snap.Steering.Uncalibrated() {
		t.Error("expected pedals uncalibrated initially")
	}
	if snap.Steering.Throttle() != 0 || snap.Steering.Brake() != 0 {
		t.Error("expected zero pedal positions")
	}
	for _, p := range []Peer{PeerVC, PeerBMS} {
		if !snap.Stale(p) {
			t.Errorf("%s: expected stale before first message", p)
		}
		if !s.IsStale(p, t0) {
			t.Errorf("%s: store expected stale before first message", p)
		}
		if _, ok := snap.Age(p); ok {
			t.Errorf("%s: expected no age before first message", p)
		}
	}
}

func TestStaleBoundary(t *testing.T) {
	s := NewStore(t0, Timeouts{PeerVC: 3 * time.Second, PeerBMS: time.Second}, nil)
	s.UpdateVehicle(VehicleState{Speed: 10}, t0)
	s.UpdateBattery(BatteryState{Voltage: 96}, t0)

	tests := []struct {
		peer  Peer
		at    time.Duration
		stale bool
	}{
		{PeerVC, 0, false},
		{PeerVC, 3*time.Second - time.Millisecond, false},
		{PeerVC, 3 * time.Second, false},
		{PeerVC, 3*time.Second + time.Millisecond, true},
		{PeerBMS, time.Second - time.Millisecond, false},
		{PeerBMS, time.Second + time.Millisecond, true},
		{PeerVC, -time.Second, false},
	}
	for _, tc := range tests {
		now := t0.Add(tc.at)
		if got := s.IsStale(tc.peer, now); got != tc.stale {
			t.Errorf("%s at %v: IsStale=%v, want %v", tc.peer, tc.at, got, tc.stale)
		}
		if got := s.ReadAt(now).Stale(tc.peer); got != tc.stale {
			t.Errorf("%s at %v: Snapshot.Stale=%v, want %v", tc.peer, tc.at, got, tc.stale)
		}
	}
}

func TestUnknownPeerIsStale(t *testing.T) {
	s := NewStore(t0, DefaultTimeouts, nil)
	s.UpdateVehicle(VehicleState{}, t0)
	if !s.IsStale(NumPeers, t0) {
		t.Error("IsStale: unknown peer should be stale")
	}
	if !s.ReadAt(t0).Stale(NumPeers) {
		t.Error("Snapshot.Stale: unknown peer should be stale")
	}
}

func TestRefreshClearsStale(t *testing.T) {
	s := NewStore(t0, DefaultTimeouts, nil)
	s.UpdateVehicle(VehicleState{}, t0)
	late := t0.Add(5 * time.Second)
	if !s.IsStale(PeerVC, late) {
		t.Fatal("expected stale after timeout")
	}
	s.UpdateVehicle(VehicleState{Speed: 1}, late)
	if s.IsStale(PeerVC, late) {
		t.Error("expected fresh after new message")
	}
	d, ok := s.ReadAt(late.Add(250 * time.Millisecond)).Age(PeerVC)
	if !ok || d != 250*time.Millisecond {
		t.Errorf("Age: got %v,%v want 250ms,true", d, ok)
	}
}

func TestUpdatePeerReplacesWholesale(t *testing.T) {
	s := NewStore(t0, DefaultTimeouts, nil)
	s.UpdateVehicle(VehicleState{Speed: 42, DriveMode: DriveReverse, Flags: VehicleFault, LEDOverride: buttons.SetOf(buttons.Horn)}, t0)
	s.UpdateVehicle(VehicleState{Speed: 5}, t0.Add(time.Second))

	snap := s.ReadAt(t0.Add(time.Second))
	want := VehicleState{Speed: 5}
	if snap.VC.Data != want {
		t.Errorf("VC.Data: got %+v, want %+v", snap.VC.Data, want)
	}
	if snap.VC.Updates != 2 {
		t.Errorf("VC.Updates: got %d, want 2", snap.VC.Updates)
	}
	if !snap.VC.LastReceived.Equal(t0.Add(time.Second)) {
		t.Errorf("LastReceived: got %v", snap.VC.LastReceived)
	}
	if snap.BMS.Received {
		t.Error("BMS should be untouched by a VC update")
	}
}

func TestUpdateLocal(t *testing.T) {
	s := NewStore(t0, DefaultTimeouts, nil)
	s.UpdateLocal(func(st *SteeringState) {
		st.Pressed = buttons.SetOf(buttons.Horn)
		st.Pedals[pedal.Throttle].Normalized = 0.25
		st.Screen = st.Screen.Next()
		st.Tick++
	})

	st := s.Steering()
	if !st.Pressed.Has(buttons.Horn) {
		t.Error("expected Horn pressed")
	}
	if st.Throttle() != 0.25 {
		t.Errorf("Throttle: got %v, want 0.25", st.Throttle())
	}
	if st.Screen != ScreenDebug {
		t.Errorf("Screen: got %v, want debug", st.Screen)
	}
	if st.Tick != 1 {
		t.Errorf("Tick: got %d, want 1", st.Tick)
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	s := NewStore(t0, DefaultTimeouts, nil)
	snap := s.Read()
	snap.Steering.Pressed = buttons.Mask
	snap.Steering.Pedals[pedal.Brake].Normalized = 1

	again := s.Read()
	if again.Steering.Pressed != 0 {
		t.Error("mutating a snapshot must not affect the store")
	}
	if again.Steering.Brake() != 0 {
		t.Error("mutating a snapshot pedal must not affect the store")
	}
}

func TestConcurrentSnapshotConsistency(t *testing.T) {
	s := NewStore(t0, DefaultTimeouts, nil)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	// Writer keeps Tick, Pressed and the throttle position in lockstep.
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(1); ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			s.UpdateLocal(func(st *SteeringState) {
				st.Tick = i
				st.Pressed = buttons.Set(i) & buttons.Mask
				st.Pedals[pedal.Throttle].Raw = uint16(i % 4096)
			})
			s.UpdateVehicle(VehicleState{Lights: uint32(i), Speed: float32(i)}, t0)
		}
	}()

	errs := make(chan string, 8)
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 2000; n++ {
				snap := s.Read()
				st := snap.Steering
				if st.Pressed != buttons.Set(st.Tick)&buttons.Mask || st.Pedals[pedal.Throttle].Raw != uint16(st.Tick%4096) {
					select {
					case errs <- "torn steering snapshot":
					default:
					}
					return
				}
				if float32(snap.VC.Data.Lights) != snap.VC.Data.Speed {
					select {
					case errs <- "torn vehicle snapshot":
					default:
					}
					return
				}
			}
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(stop)
	wg.Wait()
	close(errs)
	for e := range errs {
		t.Error(e)
	}
}

func TestFormatJSON(t *testing.T) {
	s := NewStore(t0, DefaultTimeouts, nil)
	s.UpdateLocal(func(st *SteeringState) {
		st.Pressed = buttons.SetOf(buttons.Horn)
		st.Toggles = buttons.SetOf(buttons.LeftTurn, buttons.Lock)
	})
	s.UpdateBattery(BatteryState{Voltage: 96.5, SOC: 80, Flags: BatteryCharging}, t0)

	snap := s.ReadAt(t0.Add(90 * time.Second))
	data := FormatJSON(snap, Info{BootID: "abc", Rx: RxInfo{Accepted: 3, Malformed: 1}})

	var out StatusJSON
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	st := out.Status
	if st.BootID != "abc" {
		t.Errorf("BootID: got %q", st.BootID)
	}
	if st.UptimeSeconds != 90 {
		t.Errorf("UptimeSeconds: got %d, want 90", st.UptimeSeconds)
	}
	if len(st.Steering.Pressed) != 1 || st.Steering.Pressed[0] != "Horn" {
		t.Errorf("Pressed: got %v", st.Steering.Pressed)
	}
	if len(st.Steering.Toggles) != 2 {
		t.Errorf("Toggles: got %v", st.Steering.Toggles)
	}
	if !st.VC.Stale || st.VC.Vehicle != nil || st.VC.AgeMs != nil {
		t.Errorf("VC: got %+v, want stale with no data", st.VC)
	}
	if !st.BMS.Stale {
		t.Error("BMS should be stale after 90s")
	}
	if st.BMS.Battery == nil || !st.BMS.Battery.Charging || st.BMS.Battery.Voltage != 96.5 {
		t.Errorf("BMS battery: got %+v", st.BMS.Battery)
	}
	if st.BMS.AgeMs == nil || *st.BMS.AgeMs != 90000 {
		t.Errorf("BMS AgeMs: got %v", st.BMS.AgeMs)
	}
	if st.Rx.Malformed != 1 {
		t.Errorf("Rx.Malformed: got %d", st.Rx.Malformed)
	}
}

func TestScreenNext(t *testing.T) {
	if ScreenMain.Next() != ScreenDebug || ScreenDebug.Next() != ScreenMain {
		t.Error("screen cycle broken")
	}
}
