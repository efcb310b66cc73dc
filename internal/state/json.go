package state

import (
	"encoding/json"
	"time"

	"github.com/sweeney/steering-node/internal/buttons"
	"github.com/sweeney/steering-node/internal/pedal"
)

// Info carries node facts that live outside the store, such as link counters.
type Info struct {
	BootID        string
	Links         []LinkInfo
	Rx            RxInfo
	EventsDropped uint64
	Overruns      map[string]uint64
	// MQTT is "connected" or "disconnected", empty when no broker is set
	MQTT string
}

// LinkInfo reports one outbound destination.
type LinkInfo struct {
	Name   string `json:"name"`
	Addr   string `json:"addr"`
	Seq    uint32 `json:"seq"`
	Sent   uint64 `json:"sent"`
	Failed uint64 `json:"failed"`
}

// RxInfo reports inbound datagram counters.
type RxInfo struct {
	Accepted  uint64 `json:"accepted"`
	Malformed uint64 `json:"malformed"`
	Rejected  uint64 `json:"rejected"`
}

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	BootID        string            `json:"boot_id,omitempty"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	StartTime     string            `json:"start_time"`
	Timestamp     string            `json:"timestamp"`
	Steering      SteeringJSON      `json:"steering"`
	VC            PeerJSON          `json:"vc"`
	BMS           PeerJSON          `json:"bms"`
	Links         []LinkInfo        `json:"links,omitempty"`
	Rx            RxInfo            `json:"rx"`
	EventsDropped uint64            `json:"events_dropped"`
	Overruns      map[string]uint64 `json:"overruns,omitempty"`
	MQTT          string            `json:"mqtt,omitempty"`
}

// SteeringJSON is the JSON representation of the local steering state.
type SteeringJSON struct {
	Pressed     []string  `json:"pressed"`
	Toggles     []string  `json:"toggles"`
	Throttle    PedalJSON `json:"throttle"`
	Brake       PedalJSON `json:"brake"`
	Calibrating bool      `json:"calibrating"`
	Screen      string    `json:"screen"`
	Tick        uint64    `json:"tick"`
}

// PedalJSON is the JSON representation of one pedal channel.
type PedalJSON struct {
	Raw          uint16  `json:"raw"`
	Filtered     float32 `json:"filtered"`
	Position     float32 `json:"position"`
	Uncalibrated bool    `json:"uncalibrated"`
}

// PeerJSON is the JSON representation of a peer link.
type PeerJSON struct {
	Stale   bool         `json:"stale"`
	AgeMs   *int64       `json:"age_ms,omitempty"`
	Updates uint64       `json:"updates"`
	Vehicle *VehicleJSON `json:"vehicle,omitempty"`
	Battery *BatteryJSON `json:"battery,omitempty"`
}

// VehicleJSON is the JSON representation of the vehicle computer state.
type VehicleJSON struct {
	Speed     float32 `json:"speed"`
	DriveMode string  `json:"drive_mode"`
	Lights    uint32  `json:"lights"`
	Cruise    bool    `json:"cruise"`
	Fault     bool    `json:"fault"`
}

// BatteryJSON is the JSON representation of the battery state.
type BatteryJSON struct {
	Voltage   float32 `json:"voltage"`
	Current   float32 `json:"current"`
	SOC       float32 `json:"soc"`
	MaxTemp   float32 `json:"max_temp"`
	Fault     bool    `json:"fault"`
	Charging  bool    `json:"charging"`
	Balancing bool    `json:"balancing"`
}

func names(s buttons.Set) []string {
	out := []string{}
	for _, id := range buttons.All() {
		if s.Has(id) {
			out = append(out, id.String())
		}
	}
	return out
}

func pedalJSON(r pedal.Reading) PedalJSON {
	return PedalJSON{
		Raw:          r.Raw,
		Filtered:     r.Filtered,
		Position:     r.Normalized,
		Uncalibrated: r.Uncalibrated,
	}
}

func peerJSON(snap Snapshot, p Peer, updates uint64) PeerJSON {
	pj := PeerJSON{Stale: snap.Stale(p), Updates: updates}
	if d, ok := snap.Age(p); ok {
		ms := d.Milliseconds()
		pj.AgeMs = &ms
	}
	return pj
}

// NewStatus builds the JSON status view of snap.
func NewStatus(snap Snapshot, info Info) StatusInner {
	st := snap.Steering
	inner := StatusInner{
		BootID:        info.BootID,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		Steering: SteeringJSON{
			Pressed:     names(st.Pressed),
			Toggles:     names(st.Toggles),
			Throttle:    pedalJSON(st.Pedals[pedal.Throttle]),
			Brake:       pedalJSON(st.Pedals[pedal.Brake]),
			Calibrating: st.Calibrating,
			Screen:      st.Screen.String(),
			Tick:        st.Tick,
		},
		VC:            peerJSON(snap, PeerVC, snap.VC.Updates),
		BMS:           peerJSON(snap, PeerBMS, snap.BMS.Updates),
		Links:         info.Links,
		Rx:            info.Rx,
		EventsDropped: info.EventsDropped,
		Overruns:      info.Overruns,
		MQTT:          info.MQTT,
	}
	if snap.VC.Received {
		v := snap.VC.Data
		inner.VC.Vehicle = &VehicleJSON{
			Speed:     v.Speed,
			DriveMode: v.DriveMode.String(),
			Lights:    v.Lights,
			Cruise:    v.Flags&VehicleCruiseActive != 0,
			Fault:     v.Flags&VehicleFault != 0,
		}
	}
	if snap.BMS.Received {
		b := snap.BMS.Data
		inner.BMS.Battery = &BatteryJSON{
			Voltage:   b.Voltage,
			Current:   b.Current,
			SOC:       b.SOC,
			MaxTemp:   b.MaxTemp,
			Fault:     b.Flags&BatteryFault != 0,
			Charging:  b.Flags&BatteryCharging != 0,
			Balancing: b.Flags&BatteryBalancing != 0,
		}
	}
	return inner
}

// FormatJSON returns the indented JSON status for the web endpoint.
func FormatJSON(snap Snapshot, info Info) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: NewStatus(snap, info)}, "", "  ")
	return data
}

// FormatCompact returns the single-line JSON status for mirrors.
func FormatCompact(snap Snapshot, info Info) []byte {
	data, _ := json.Marshal(StatusJSON{Status: NewStatus(snap, info)})
	return data
}
