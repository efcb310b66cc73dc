package state

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time view of the shared state.
// It is a value type with no references into the store, safe to use after
// the lock is released.
type Snapshot struct {
	Steering  SteeringState
	VC        PeerState[VehicleState]
	BMS       PeerState[BatteryState]
	Timeouts  Timeouts
	StartTime time.Time
	Now       time.Time
}

// Uptime returns the duration since the node started.
func (s Snapshot) Uptime() time.Duration {
	return age(s.StartTime, s.Now)
}

// Stale reports whether peer is stale at the snapshot time.
func (s Snapshot) Stale(p Peer) bool {
	if p >= NumPeers {
		return true
	}
	last, received := s.lastReceived(p)
	return IsStale(last, received, s.Timeouts[p], s.Now)
}

// Age returns the time since the peer's last accepted message, and false if
// nothing has been received.
func (s Snapshot) Age(p Peer) (time.Duration, bool) {
	last, received := s.lastReceived(p)
	if !received {
		return 0, false
	}
	return age(last, s.Now), true
}

func (s Snapshot) lastReceived(p Peer) (time.Time, bool) {
	switch p {
	case PeerVC:
		return s.VC.LastReceived, s.VC.Received
	case PeerBMS:
		return s.BMS.LastReceived, s.BMS.Received
	default:
		return time.Time{}, false
	}
}

// Store holds the shared state behind an RWMutex.
// Critical sections only copy values; no I/O happens under the lock.
type Store struct {
	mu       sync.RWMutex
	steering SteeringState
	vc       PeerState[VehicleState]
	bms      PeerState[BatteryState]

	timeouts  Timeouts
	startTime time.Time
	now       func() time.Time
}

// NewStore creates a Store with released buttons, uncalibrated pedals and
// both peers stale. now supplies the snapshot time; nil means time.Now.
func NewStore(startTime time.Time, timeouts Timeouts, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	s := &Store{
		timeouts:  timeouts,
		startTime: startTime,
		now:       now,
	}
	for i := range s.steering.Pedals {
		s.steering.Pedals[i].Uncalibrated = true
	}
	return s
}

// Read returns a consistent copy of the whole state. The Now field is set
// from the store clock at the moment of the call.
func (s *Store) Read() Snapshot {
	return s.ReadAt(s.now())
}

// ReadAt returns a consistent copy with Now set to now.
func (s *Store) ReadAt(now time.Time) Snapshot {
	s.mu.RLock()
	snap := Snapshot{
		Steering:  s.steering,
		VC:        s.vc,
		BMS:       s.bms,
		Timeouts:  s.timeouts,
		StartTime: s.startTime,
	}
	s.mu.RUnlock()
	snap.Now = now
	return snap
}

// Steering returns a copy of the local steering state only.
func (s *Store) Steering() SteeringState {
	s.mu.RLock()
	st := s.steering
	s.mu.RUnlock()
	return st
}

// UpdateLocal applies fn to the steering state under the lock. All changes
// made by fn become visible to readers at once. fn must not block.
func (s *Store) UpdateLocal(fn func(*SteeringState)) {
	s.mu.Lock()
	fn(&s.steering)
	s.mu.Unlock()
}

// UpdateVehicle replaces the vehicle computer state.
func (s *Store) UpdateVehicle(v VehicleState, now time.Time) {
	s.mu.Lock()
	s.vc = PeerState[VehicleState]{
		Data:         v,
		LastReceived: now,
		Received:     true,
		Updates:      s.vc.Updates + 1,
	}
	s.mu.Unlock()
}

// UpdateBattery replaces the battery management state.
func (s *Store) UpdateBattery(b BatteryState, now time.Time) {
	s.mu.Lock()
	s.bms = PeerState[BatteryState]{
		Data:         b,
		LastReceived: now,
		Received:     true,
		Updates:      s.bms.Updates + 1,
	}
	s.mu.Unlock()
}

// IsStale reports whether peer is stale at now.
func (s *Store) IsStale(p Peer, now time.Time) bool {
	if p >= NumPeers {
		return true
	}
	s.mu.RLock()
	var last time.Time
	var received bool
	switch p {
	case PeerVC:
		last, received = s.vc.LastReceived, s.vc.Received
	case PeerBMS:
		last, received = s.bms.LastReceived, s.bms.Received
	}
	timeout := s.timeouts[p]
	s.mu.RUnlock()
	return IsStale(last, received, timeout, now)
}
