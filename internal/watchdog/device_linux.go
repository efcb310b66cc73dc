//go:build linux

package watchdog

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Device is an open kernel watchdog.
type Device struct {
	fd   int
	path string
}

// Open opens path and arms the watchdog with timeout, rounded up to whole
// seconds. The watchdog starts counting as soon as the device is opened.
func Open(path string, timeout time.Duration) (*Device, error) {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	d := &Device{fd: fd, path: path}

	secs := int((timeout + time.Second - 1) / time.Second)
	if secs > 0 {
		if err := unix.IoctlSetPointerInt(fd, unix.WDIOC_SETTIMEOUT, secs); err != nil {
			d.Close()
			return nil, fmt.Errorf("set timeout on %s: %w", path, err)
		}
	}
	return d, nil
}

// Keepalive pings the watchdog.
func (d *Device) Keepalive() error {
	if err := unix.IoctlSetPointerInt(d.fd, unix.WDIOC_KEEPALIVE, 0); err != nil {
		return fmt.Errorf("keepalive %s: %w", d.path, err)
	}
	return nil
}

// Close writes the magic close character so drivers that support it
// disarm, then closes the device.
func (d *Device) Close() error {
	if d.fd < 0 {
		return nil
	}
	_, werr := unix.Write(d.fd, []byte{'V'})
	cerr := unix.Close(d.fd)
	d.fd = -1
	if werr != nil {
		return fmt.Errorf("magic close %s: %w", d.path, werr)
	}
	return cerr
}
