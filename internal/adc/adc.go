// Package adc samples the pedal potentiometers through the Linux IIO
// subsystem.
package adc

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sweeney/steering-node/internal/pedal"
)

// Reader samples both pedal channels.
type Reader interface {
	// Read fills raw with one sample per channel, indexed by pedal.Channel.
	Read(raw *[pedal.NumChannels]uint16) error
	Close() error
}

// DefaultRoot is the IIO sysfs device directory.
const DefaultRoot = "/sys/bus/iio/devices"

// DefaultDevice is the IIO device holding the pedal inputs.
const DefaultDevice = "iio:device0"

// DefaultChannels maps throttle and brake to IIO voltage channels.
var DefaultChannels = [pedal.NumChannels]int{0, 1}

// ErrFormat is returned when a sysfs value cannot be parsed.
var ErrFormat = errors.New("adc: malformed sample")

// SysfsReader reads in_voltageN_raw attributes. Files stay open and are
// re-read from offset 0, so a sample does not allocate.
type SysfsReader struct {
	files [pedal.NumChannels]*os.File
	buf   [16]byte
}

// ChannelPath returns the sysfs attribute for one channel under root,
// normally /sys/bus/iio/devices.
func ChannelPath(root, device string, channel int) string {
	return filepath.Join(root, device, fmt.Sprintf("in_voltage%d_raw", channel))
}

// NewSysfsReader opens the throttle and brake attributes.
func NewSysfsReader(root, device string, channels [pedal.NumChannels]int) (*SysfsReader, error) {
	r := &SysfsReader{}
	for i, ch := range channels {
		path := ChannelPath(root, device, ch)
		f, err := os.Open(path)
		if err != nil {
			r.Close()
			return nil, fmt.Errorf("ADC sysfs not found: %w", err)
		}
		r.files[i] = f
	}
	return r, nil
}

// Read samples both channels.
func (r *SysfsReader) Read(raw *[pedal.NumChannels]uint16) error {
	for i, f := range r.files {
		n, err := f.ReadAt(r.buf[:], 0)
		if n == 0 && err != nil {
			return fmt.Errorf("failed reading %s: %w", f.Name(), err)
		}
		v, err := parse(r.buf[:n])
		if err != nil {
			return fmt.Errorf("%s: %w", f.Name(), err)
		}
		raw[i] = v
	}
	return nil
}

// Close releases the attribute files.
func (r *SysfsReader) Close() error {
	var errs []error
	for i, f := range r.files {
		if f == nil {
			continue
		}
		if err := f.Close(); err != nil {
			errs = append(errs, err)
		}
		r.files[i] = nil
	}
	return errors.Join(errs...)
}

// parse reads a decimal sample terminated by a newline or end of input.
// Values above pedal.MaxRaw saturate.
func parse(b []byte) (uint16, error) {
	v := 0
	digits := 0
	for _, c := range b {
		if c == '\n' || c == ' ' || c == 0 {
			break
		}
		if c < '0' || c > '9' {
			return 0, ErrFormat
		}
		if v <= pedal.MaxRaw {
			v = v*10 + int(c-'0')
		}
		digits++
	}
	if digits == 0 {
		return 0, ErrFormat
	}
	if v > pedal.MaxRaw {
		v = pedal.MaxRaw
	}
	return uint16(v), nil
}

// FakeReader returns scripted samples. The last sample repeats.
// Safe for concurrent use.
type FakeReader struct {
	mu      sync.Mutex
	samples [][pedal.NumChannels]uint16
	index   int
	err     error
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(samples ...[pedal.NumChannels]uint16) *FakeReader {
	return &FakeReader{samples: samples}
}

// Read returns the next scripted sample, or zeros if none are configured.
func (f *FakeReader) Read(raw *[pedal.NumChannels]uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	if len(f.samples) == 0 {
		*raw = [pedal.NumChannels]uint16{}
		return nil
	}
	*raw = f.samples[f.index]
	if f.index < len(f.samples)-1 {
		f.index++
	}
	return nil
}

// Hold replaces the script with one sample repeated forever.
func (f *FakeReader) Hold(throttle, brake uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = [][pedal.NumChannels]uint16{{throttle, brake}}
	f.index = 0
}

// SetError makes subsequent reads fail with err. Nil clears it.
func (f *FakeReader) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// Close is a no-op.
func (f *FakeReader) Close() error { return nil }
