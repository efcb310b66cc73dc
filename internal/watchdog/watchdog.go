// Package watchdog feeds the kernel hardware watchdog. When the process stops
// calling Keepalive the board is reset.
package watchdog

import (
	"errors"
	"sync"
)

// ErrUnsupported is returned by Open on platforms without /dev/watchdog.
var ErrUnsupported = errors.New("watchdog not supported on this platform")

// DefaultDevice is the kernel watchdog device.
const DefaultDevice = "/dev/watchdog"

// Watchdog is a hardware reset backstop.
type Watchdog interface {
	// Keepalive resets the hardware countdown.
	Keepalive() error
	// Close disarms the watchdog on a clean shutdown.
	Close() error
}

// Nop is used when no watchdog is configured.
type Nop struct{}

func (Nop) Keepalive() error { return nil }
func (Nop) Close() error     { return nil }

// Fake records calls for tests.
type Fake struct {
	mu     sync.Mutex
	feeds  int
	closed bool
	Err    error
}

// Keepalive counts one feed.
func (f *Fake) Keepalive() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.feeds++
	return nil
}

// Close marks the fake closed.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Feeds returns the number of successful keepalives.
func (f *Fake) Feeds() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.feeds
}

// Closed reports whether Close was called.
func (f *Fake) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
