package mqtt

import (
	"sync"

	"github.com/sweeney/steering-node/internal/buttons"
	"github.com/sweeney/steering-node/internal/state"
)

// FakePublisher records published data for test assertions.
// Safe for concurrent use.
type FakePublisher struct {
	mu sync.Mutex

	statuses     []state.Snapshot
	events       []buttons.Event
	systemEvents []SystemEvent

	// PublishError, if set, is returned by every Publish method.
	PublishError error

	closed    bool
	connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{connected: true}
}

// PublishStatus records the snapshot.
func (f *FakePublisher) PublishStatus(snap state.Snapshot, info state.Info) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.statuses = append(f.statuses, snap)
	return nil
}

// PublishEvent records the button event.
func (f *FakePublisher) PublishEvent(ev buttons.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.events = append(f.events, ev)
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.systemEvents = append(f.systemEvents, event)
	return nil
}

// Statuses returns the recorded snapshots.
func (f *FakePublisher) Statuses() []state.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]state.Snapshot(nil), f.statuses...)
}

// Events returns the recorded button events.
func (f *FakePublisher) Events() []buttons.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]buttons.Event(nil), f.events...)
}

// SystemEvents returns the recorded system events.
func (f *FakePublisher) SystemEvents() []SystemEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SystemEvent(nil), f.systemEvents...)
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
	return nil
}

// Closed reports whether Close was called.
func (f *FakePublisher) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// SetConnected controls the return value of IsConnected.
func (f *FakePublisher) SetConnected(c bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = c
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}
