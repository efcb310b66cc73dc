package node

import (
	"context"
	"sync/atomic"

	"github.com/golang/glog"

	"github.com/sweeney/steering-node/internal/buttons"
)

// DefaultQueueSize is the event queue capacity.
const DefaultQueueSize = 32

// EventQueue is a bounded queue of button events. Push never blocks;
// a full queue drops the event and counts it.
type EventQueue struct {
	ch      chan buttons.Event
	dropped atomic.Uint64
}

// NewEventQueue creates a queue holding up to size events.
func NewEventQueue(size int) *EventQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &EventQueue{ch: make(chan buttons.Event, size)}
}

// Push enqueues ev and reports whether it was accepted.
func (q *EventQueue) Push(ev buttons.Event) bool {
	select {
	case q.ch <- ev:
		return true
	default:
		n := q.dropped.Add(1)
		if n == 1 || n%100 == 0 {
			glog.Warningf("event queue full, dropped %s %s (dropped=%d)", ev.Button, ev.Kind, n)
		}
		return false
	}
}

// C returns the receive side of the queue.
func (q *EventQueue) C() <-chan buttons.Event {
	return q.ch
}

// Dropped returns the number of events lost to a full queue.
func (q *EventQueue) Dropped() uint64 {
	return q.dropped.Load()
}

// Len returns the number of queued events.
func (q *EventQueue) Len() int {
	return len(q.ch)
}

// consumeEvents logs each event and forwards it to every mirror until ctx
// is cancelled. Mirror failures are logged and the event is not retried.
func consumeEvents(ctx context.Context, q *EventQueue, mirrors []Mirror) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-q.C():
			if ev.Kind == buttons.EventToggled {
				glog.Infof("button %s toggled %v", ev.Button, ev.Toggle)
			} else if glog.V(2) {
				glog.Infof("button %s %s", ev.Button, ev.Kind)
			}
			for _, m := range mirrors {
				if err := m.PublishEvent(ev); err != nil && glog.V(1) {
					glog.Infof("mirror event: %v", err)
				}
			}
		}
	}
}
