package node

import (
	"math"

	"github.com/sweeney/steering-node/internal/netio"
	"github.com/sweeney/steering-node/internal/output"
	"github.com/sweeney/steering-node/internal/pedal"
	"github.com/sweeney/steering-node/internal/protocol"
	"github.com/sweeney/steering-node/internal/state"
)

// Tracker returns the milliseconds since the peer's last accepted message,
// saturating at protocol.TrackerNever. A peer never heard from reports
// TrackerNever.
func Tracker(snap state.Snapshot, p state.Peer) uint32 {
	d, ok := snap.Age(p)
	if !ok {
		return protocol.TrackerNever
	}
	ms := d.Milliseconds()
	if ms >= math.MaxUint32 {
		return protocol.TrackerNever
	}
	return uint32(ms)
}

// SteeringMessage builds the outbound steering state from snap.
func SteeringMessage(snap state.Snapshot) protocol.Steering {
	st := snap.Steering
	plan := output.PlanLEDs(snap)
	m := protocol.Steering{
		Buttons:    uint16(st.Pressed),
		Toggles:    uint16(st.Toggles),
		LEDs:       uint16(plan.Buttons),
		StatusLEDs: plan.Status,
		Throttle:   st.Throttle(),
		Brake:      st.Brake(),
		Screen:     uint32(st.Screen),
		TrackerVC:  Tracker(snap, state.PeerVC),
		TrackerBMS: Tracker(snap, state.PeerBMS),
	}
	if st.Pedals[pedal.Throttle].Uncalibrated {
		m.Flags |= protocol.FlagThrottleUncalibrated
	}
	if st.Pedals[pedal.Brake].Uncalibrated {
		m.Flags |= protocol.FlagBrakeUncalibrated
	}
	if st.Calibrating {
		m.Flags |= protocol.FlagCalibrating
	}
	return m
}

// TelemetryMessage builds the aggregated broadcast from snap.
func TelemetryMessage(snap state.Snapshot) protocol.Telemetry {
	t := protocol.Telemetry{
		Steering: SteeringMessage(snap),
		Vehicle:  netio.VehicleToWire(snap.VC.Data),
		Battery:  netio.BatteryToWire(snap.BMS.Data),
	}
	if snap.Stale(state.PeerVC) {
		t.Stale |= protocol.StaleVC
	}
	if snap.Stale(state.PeerBMS) {
		t.Stale |= protocol.StaleBMS
	}
	return t
}

func uptimeMs(snap state.Snapshot) uint32 {
	return uint32(snap.Uptime().Milliseconds())
}

// BuildSteering is a netio.Builder for the VC and BMS links.
func BuildSteering(buf []byte, seq uint32, snap state.Snapshot) (int, error) {
	m := SteeringMessage(snap)
	return protocol.EncodeSteering(buf, seq, uptimeMs(snap), &m)
}

// BuildTelemetry is a netio.Builder for the broadcast links.
func BuildTelemetry(buf []byte, seq uint32, snap state.Snapshot) (int, error) {
	m := TelemetryMessage(snap)
	return protocol.EncodeTelemetry(buf, seq, uptimeMs(snap), &m)
}

var (
	_ netio.Builder = BuildSteering
	_ netio.Builder = BuildTelemetry
)
