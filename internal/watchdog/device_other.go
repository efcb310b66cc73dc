//go:build !linux

package watchdog

import "time"

// Device is unavailable on this platform.
type Device struct{}

// Open always fails on non-Linux platforms.
func Open(path string, timeout time.Duration) (*Device, error) {
	return nil, ErrUnsupported
}

func (d *Device) Keepalive() error { return ErrUnsupported }
func (d *Device) Close() error     { return nil }
