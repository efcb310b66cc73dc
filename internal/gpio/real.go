//go:build linux

package gpio

import (
	"errors"
	"fmt"

	"github.com/warthog618/go-gpiocdev"

	"github.com/sweeney/steering-node/internal/buttons"
	"github.com/sweeney/steering-node/internal/output"
)

const consumer = "steering-node"

// RealReader reads the buttons from actual hardware.
type RealReader struct {
	chip   *gpiocdev.Chip
	lines  *gpiocdev.Lines
	values []int
}

// NewRealReader requests the button lines as active-low inputs with pull-ups,
// so a pressed button reads as 1.
func NewRealReader(chipName string, offsets [buttons.Count]int) (*RealReader, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	lines, err := chip.RequestLines(offsets[:], gpiocdev.AsInput, gpiocdev.WithPullUp, gpiocdev.AsActiveLow, gpiocdev.WithConsumer(consumer))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request button lines %v: %w", offsets, err)
	}

	return &RealReader{
		chip:   chip,
		lines:  lines,
		values: make([]int, buttons.Count),
	}, nil
}

// Read samples every button line in one request.
func (r *RealReader) Read(levels *buttons.Levels) error {
	if err := r.lines.Values(r.values); err != nil {
		return fmt.Errorf("read button lines: %w", err)
	}
	for i, v := range r.values {
		levels[i] = v == 1
	}
	return nil
}

// Close releases GPIO resources.
func (r *RealReader) Close() error {
	var errs []error
	if r.lines != nil {
		if err := r.lines.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close button lines: %w", err))
		}
	}
	if r.chip != nil {
		if err := r.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	return errors.Join(errs...)
}

// RealLEDs drives the LED lines on actual hardware.
type RealLEDs struct {
	chip   *gpiocdev.Chip
	lines  *gpiocdev.Lines
	values []int
}

// NewRealLEDs requests the LED lines as outputs, initially off.
func NewRealLEDs(chipName string, offsets [NumLEDLines]int) (*RealLEDs, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip %s: %w", chipName, err)
	}

	lines, err := chip.RequestLines(offsets[:], gpiocdev.AsOutput(make([]int, NumLEDLines)...), gpiocdev.WithConsumer(consumer))
	if err != nil {
		chip.Close()
		return nil, fmt.Errorf("request led lines %v: %w", offsets, err)
	}

	return &RealLEDs{
		chip:   chip,
		lines:  lines,
		values: make([]int, NumLEDLines),
	}, nil
}

// Set writes every LED in one request.
func (l *RealLEDs) Set(lv output.Levels) error {
	ledValues(lv, l.values)
	if err := l.lines.SetValues(l.values); err != nil {
		return fmt.Errorf("set led lines: %w", err)
	}
	return nil
}

// Close switches the LEDs off and releases the lines.
func (l *RealLEDs) Close() error {
	var errs []error
	if l.lines != nil {
		if err := l.lines.SetValues(make([]int, NumLEDLines)); err != nil {
			errs = append(errs, fmt.Errorf("switch leds off: %w", err))
		}
		if err := l.lines.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close led lines: %w", err))
		}
	}
	if l.chip != nil {
		if err := l.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
	}
	return errors.Join(errs...)
}
