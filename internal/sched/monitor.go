package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
)

// ErrStall is returned by the liveness monitor when a task stops completing
// ticks. It is the only fatal scheduling condition.
var ErrStall = errors.New("task stalled")

// Liveness defaults.
const (
	DefaultStallFactor = 10
	DefaultMinStall    = time.Second
)

// Heartbeat records the progress of one task. Safe for concurrent use.
type Heartbeat struct {
	name  string
	bound time.Duration
	base  time.Time
	last  atomic.Int64 // offset from base in ns
	ticks atomic.Uint64
}

// Beat marks one completed tick at now.
func (h *Heartbeat) Beat(now time.Time) {
	h.last.Store(int64(now.Sub(h.base)))
	h.ticks.Add(1)
}

// Ticks returns the number of completed ticks.
func (h *Heartbeat) Ticks() uint64 {
	return h.ticks.Load()
}

// Name returns the task name.
func (h *Heartbeat) Name() string {
	return h.name
}

func (h *Heartbeat) silence(now time.Time) time.Duration {
	return now.Sub(h.base) - time.Duration(h.last.Load())
}

// Monitor observes task heartbeats and declares a stall when any task has
// been silent longer than its bound.
type Monitor struct {
	mu     sync.Mutex
	beats  []*Heartbeat
	factor int
	min    time.Duration
}

// NewMonitor creates a monitor. A task with period p stalls after
// max(factor*p, min) without a beat.
func NewMonitor(factor int, min time.Duration) *Monitor {
	if factor <= 0 {
		factor = DefaultStallFactor
	}
	if min <= 0 {
		min = DefaultMinStall
	}
	return &Monitor{factor: factor, min: min}
}

// Register adds a task with the given period. The task counts as alive at now.
func (m *Monitor) Register(name string, period time.Duration, now time.Time) *Heartbeat {
	bound := time.Duration(m.factor) * period
	if bound < m.min {
		bound = m.min
	}
	h := &Heartbeat{name: name, bound: bound, base: now}
	m.mu.Lock()
	m.beats = append(m.beats, h)
	m.mu.Unlock()
	return h
}

// Check returns an ErrStall error for the first silent task, or nil.
func (m *Monitor) Check(now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, h := range m.beats {
		if s := h.silence(now); s > h.bound {
			return fmt.Errorf("%w: %s silent for %v (limit %v)", ErrStall, h.name, s.Truncate(time.Millisecond), h.bound)
		}
	}
	return nil
}

// Run checks liveness on every tick and calls feed while all tasks are
// alive. On a stall it stops feeding and returns the stall error.
// Feed failures are logged and do not stop the monitor.
func (m *Monitor) Run(ctx context.Context, tick <-chan time.Time, now func() time.Time, feed func() error) error {
	failures := uint64(0)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			if err := m.Check(now()); err != nil {
				glog.Errorf("liveness: %v", err)
				return err
			}
			if feed == nil {
				continue
			}
			if err := feed(); err != nil {
				failures++
				if shouldLog(failures) {
					glog.Warningf("watchdog feed: %v (failures=%d)", err, failures)
				}
			}
		}
	}
}

func shouldLog(n uint64) bool {
	return n == 1 || n%100 == 0
}
