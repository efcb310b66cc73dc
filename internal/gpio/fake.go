package gpio

import (
	"errors"
	"sync"

	"github.com/sweeney/steering-node/internal/buttons"
	"github.com/sweeney/steering-node/internal/output"
)

// FakeReader is a test double that returns scripted button levels.
// It is also used in simulation mode. Safe for concurrent use.
type FakeReader struct {
	mu sync.Mutex

	// samples contains scripted levels to return.
	// Each call to Read() consumes the next sample.
	samples []buttons.Levels

	// index tracks current position in samples
	index int

	closed  bool
	readErr error
}

// NewFakeReader creates a FakeReader with the given samples.
func NewFakeReader(samples ...buttons.Levels) *FakeReader {
	return &FakeReader{samples: samples}
}

// Read returns the next scripted sample.
// If samples are exhausted, returns the last sample repeatedly.
func (f *FakeReader) Read(levels *buttons.Levels) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readErr != nil {
		return f.readErr
	}
	if len(f.samples) == 0 {
		return errors.New("no samples configured")
	}

	*levels = f.samples[f.index]
	if f.index < len(f.samples)-1 {
		f.index++
	}
	return nil
}

// Hold replaces the script with a single sample repeated forever.
func (f *FakeReader) Hold(levels buttons.Levels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.samples = []buttons.Levels{levels}
	f.index = 0
}

// SetError makes subsequent reads fail with err. Nil clears it.
func (f *FakeReader) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readErr = err
}

// Close marks the reader as closed.
func (f *FakeReader) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakeReader) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Pressed builds a Levels with the given buttons pressed.
func Pressed(ids ...buttons.ID) buttons.Levels {
	var lv buttons.Levels
	for _, id := range ids {
		if id.Valid() {
			lv[id] = true
		}
	}
	return lv
}

// FakeLEDs records every frame written. Safe for concurrent use.
type FakeLEDs struct {
	mu     sync.Mutex
	frames []output.Levels
	closed bool
}

// NewFakeLEDs creates an empty FakeLEDs.
func NewFakeLEDs() *FakeLEDs {
	return &FakeLEDs{}
}

// Set records lv.
func (f *FakeLEDs) Set(lv output.Levels) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, lv)
	return nil
}

// Last returns the most recent frame and false if none was written.
func (f *FakeLEDs) Last() (output.Levels, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return output.Levels{}, false
	}
	return f.frames[len(f.frames)-1], true
}

// Frames returns the number of frames written.
func (f *FakeLEDs) Frames() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

// Close switches everything off and marks the LEDs closed.
func (f *FakeLEDs) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, output.Levels{})
	f.closed = true
	return nil
}

// Closed reports whether Close was called.
func (f *FakeLEDs) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
