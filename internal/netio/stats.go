package netio

import (
	"sync/atomic"

	"github.com/sweeney/steering-node/internal/state"
)

// logEvery limits repeated warnings for a link that stays down.
const logEvery = 100

// LinkStats counts outbound traffic for one destination.
type LinkStats struct {
	sent   atomic.Uint64
	failed atomic.Uint64
	seq    atomic.Uint32
}

// RxStats counts inbound datagrams by outcome.
type RxStats struct {
	accepted  atomic.Uint64
	malformed atomic.Uint64
	rejected  atomic.Uint64
}

// Info returns the counters as a status value.
func (s *RxStats) Info() state.RxInfo {
	return state.RxInfo{
		Accepted:  s.accepted.Load(),
		Malformed: s.malformed.Load(),
		Rejected:  s.rejected.Load(),
	}
}

// shouldLog reports whether the nth consecutive failure gets a log line.
func shouldLog(n uint64) bool {
	return n == 1 || n%logEvery == 0
}
