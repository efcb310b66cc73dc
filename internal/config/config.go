// Package config holds the node's startup configuration. It is read once
// from command-line flags and passed by value; there is no runtime
// reconfiguration.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/sweeney/steering-node/internal/adc"
	"github.com/sweeney/steering-node/internal/buttons"
	"github.com/sweeney/steering-node/internal/gpio"
	"github.com/sweeney/steering-node/internal/node"
	"github.com/sweeney/steering-node/internal/pedal"
	"github.com/sweeney/steering-node/internal/sched"
	"github.com/sweeney/steering-node/internal/state"
	"github.com/sweeney/steering-node/internal/watchdog"
)

// Config is the complete node configuration.
type Config struct {
	// UDP endpoints
	VCAddr        string
	BMSAddr       string
	BroadcastAddr string
	CloudAddr     string
	ListenAddr    string
	PinSources    bool

	// Task periods
	InputPeriod     time.Duration
	SendPeriod      time.Duration
	TelemetryPeriod time.Duration
	DisplayPeriod   time.Duration
	LEDPeriod       time.Duration

	// Input conditioning
	Debounce        time.Duration
	Alpha           float64
	DeadZone        float64
	CalibrationHold time.Duration
	QueueSize       int

	// Peer staleness
	VCTimeout  time.Duration
	BMSTimeout time.Duration

	// Hardware
	GPIOChip    string
	ButtonLines [buttons.Count]int
	LEDLines    [gpio.NumLEDLines]int
	ADCRoot     string
	ADCDevice   string
	ADCChannels [pedal.NumChannels]int

	// Liveness
	Watchdog        string
	WatchdogTimeout time.Duration
	StallFactor     int
	LivenessPeriod  time.Duration

	// Mirrors and diagnostics
	Broker   string
	Redis    string
	HTTPAddr string

	Sim bool
}

// Default returns the reference configuration.
func Default() Config {
	return Config{
		VCAddr:        "192.168.0.20:3001",
		BMSAddr:       "192.168.0.10:2001",
		BroadcastAddr: "192.168.0.255:6000",
		ListenAddr:    ":4001",

		InputPeriod:     node.DefaultPeriods.Input,
		SendPeriod:      node.DefaultPeriods.Send,
		TelemetryPeriod: node.DefaultPeriods.Telemetry,
		DisplayPeriod:   node.DefaultPeriods.Display,
		LEDPeriod:       node.DefaultPeriods.LEDs,

		Debounce:        buttons.DefaultWindow,
		Alpha:           pedal.DefaultAlpha,
		DeadZone:        pedal.DefaultDeadZone,
		CalibrationHold: node.DefaultCalibrationHold,
		QueueSize:       node.DefaultQueueSize,

		VCTimeout:  state.DefaultTimeouts[state.PeerVC],
		BMSTimeout: state.DefaultTimeouts[state.PeerBMS],

		GPIOChip:    gpio.DefaultChip,
		ButtonLines: gpio.DefaultButtonLines,
		LEDLines:    gpio.DefaultLEDLines,
		ADCRoot:     adc.DefaultRoot,
		ADCDevice:   adc.DefaultDevice,
		ADCChannels: adc.DefaultChannels,

		Watchdog:        watchdog.DefaultDevice,
		WatchdogTimeout: 15 * time.Second,
		StallFactor:     sched.DefaultStallFactor,
		LivenessPeriod:  500 * time.Millisecond,

		HTTPAddr: ":8080",
	}
}

// RegisterFlags binds every field to a flag on fs.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.VCAddr, "vc", c.VCAddr, "Vehicle computer UDP address")
	fs.StringVar(&c.BMSAddr, "bms", c.BMSAddr, "Battery management UDP address")
	fs.StringVar(&c.BroadcastAddr, "broadcast", c.BroadcastAddr, "Telemetry broadcast UDP address")
	fs.StringVar(&c.CloudAddr, "cloud", c.CloudAddr, "Additional telemetry UDP address (empty to disable)")
	fs.StringVar(&c.ListenAddr, "listen", c.ListenAddr, "Local UDP address for peer messages")
	fs.BoolVar(&c.PinSources, "pin-sources", c.PinSources, "Reject peer messages not sent from the configured VC/BMS IPs")

	fs.DurationVar(&c.InputPeriod, "input-period", c.InputPeriod, "Button and pedal sampling period")
	fs.DurationVar(&c.SendPeriod, "send-period", c.SendPeriod, "VC and BMS send period")
	fs.DurationVar(&c.TelemetryPeriod, "telemetry-period", c.TelemetryPeriod, "Telemetry broadcast and mirror period")
	fs.DurationVar(&c.DisplayPeriod, "display-period", c.DisplayPeriod, "Display refresh period")
	fs.DurationVar(&c.LEDPeriod, "led-period", c.LEDPeriod, "LED refresh period")

	fs.DurationVar(&c.Debounce, "debounce", c.Debounce, "Button debounce window")
	fs.Float64Var(&c.Alpha, "alpha", c.Alpha, "Pedal low-pass filter coefficient in (0,1]")
	fs.Float64Var(&c.DeadZone, "dead-zone", c.DeadZone, "Pedal dead zone in [0,1)")
	fs.DurationVar(&c.CalibrationHold, "calibration-hold", c.CalibrationHold, "Hold time of PTT+Cruise Down to record a calibration point")
	fs.IntVar(&c.QueueSize, "event-queue", c.QueueSize, "Button event queue capacity")

	fs.DurationVar(&c.VCTimeout, "vc-timeout", c.VCTimeout, "Vehicle computer staleness timeout")
	fs.DurationVar(&c.BMSTimeout, "bms-timeout", c.BMSTimeout, "Battery management staleness timeout")

	fs.StringVar(&c.GPIOChip, "gpio-chip", c.GPIOChip, "GPIO character device")
	fs.Var(&lineList{dst: c.ButtonLines[:]}, "button-lines", "Comma-separated GPIO offsets of the 10 buttons, in bit order")
	fs.Var(&lineList{dst: c.LEDLines[:]}, "led-lines", "Comma-separated GPIO offsets of the 10 button LEDs, 4 status LEDs and heartbeat LED")
	fs.StringVar(&c.ADCRoot, "adc-root", c.ADCRoot, "IIO sysfs root")
	fs.StringVar(&c.ADCDevice, "adc-device", c.ADCDevice, "IIO device name")
	fs.Var(&lineList{dst: c.ADCChannels[:]}, "adc-channels", "Comma-separated ADC channels for throttle and brake")

	fs.StringVar(&c.Watchdog, "watchdog", c.Watchdog, "Hardware watchdog device (empty to disable)")
	fs.DurationVar(&c.WatchdogTimeout, "watchdog-timeout", c.WatchdogTimeout, "Hardware watchdog timeout")
	fs.IntVar(&c.StallFactor, "stall-factor", c.StallFactor, "Periods without progress before a task counts as stalled")
	fs.DurationVar(&c.LivenessPeriod, "liveness-period", c.LivenessPeriod, "Liveness check and watchdog feed period")

	fs.StringVar(&c.Broker, "broker", c.Broker, "MQTT broker address (empty to disable)")
	fs.StringVar(&c.Redis, "redis", c.Redis, "Redis address (empty to disable)")
	fs.StringVar(&c.HTTPAddr, "http", c.HTTPAddr, "HTTP status address (empty to disable)")

	fs.BoolVar(&c.Sim, "sim", c.Sim, "Simulate buttons, pedals and LEDs")
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	for _, a := range []struct{ name, addr string }{
		{"vc", c.VCAddr}, {"bms", c.BMSAddr}, {"broadcast", c.BroadcastAddr},
	} {
		if _, err := ResolveUDP(a.addr); err != nil {
			add("%s: %w", a.name, err)
		}
	}
	if c.CloudAddr != "" {
		if _, err := ResolveUDP(c.CloudAddr); err != nil {
			add("cloud: %w", err)
		}
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		add("listen: %w", err)
	}

	for _, p := range []struct {
		name string
		d    time.Duration
	}{
		{"input-period", c.InputPeriod}, {"send-period", c.SendPeriod},
		{"telemetry-period", c.TelemetryPeriod}, {"display-period", c.DisplayPeriod},
		{"led-period", c.LEDPeriod}, {"vc-timeout", c.VCTimeout}, {"bms-timeout", c.BMSTimeout},
		{"calibration-hold", c.CalibrationHold}, {"liveness-period", c.LivenessPeriod},
	} {
		if p.d <= 0 {
			add("%s must be positive, got %v", p.name, p.d)
		}
	}
	if c.Debounce < 0 {
		add("debounce must not be negative, got %v", c.Debounce)
	}
	if !(c.Alpha > 0 && c.Alpha <= 1) {
		add("alpha must be in (0,1], got %v", c.Alpha)
	}
	if !(c.DeadZone >= 0 && c.DeadZone < 1) {
		add("dead-zone must be in [0,1), got %v", c.DeadZone)
	}
	if c.QueueSize < 1 {
		add("event-queue must be at least 1, got %d", c.QueueSize)
	}
	if c.StallFactor < 1 {
		add("stall-factor must be at least 1, got %d", c.StallFactor)
	}
	if c.Watchdog != "" && c.WatchdogTimeout < time.Second {
		add("watchdog-timeout must be at least 1s, got %v", c.WatchdogTimeout)
	}

	if err := checkLines("button-lines", c.ButtonLines[:]); err != nil {
		errs = append(errs, err)
	}
	if err := checkLines("led-lines", c.LEDLines[:]); err != nil {
		errs = append(errs, err)
	}
	for _, b := range c.ButtonLines {
		for _, l := range c.LEDLines {
			if b == l {
				add("gpio line %d used as both button and LED", b)
			}
		}
	}
	if err := checkLines("adc-channels", c.ADCChannels[:]); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func checkLines(name string, lines []int) error {
	seen := make(map[int]bool, len(lines))
	for _, l := range lines {
		if l < 0 {
			return fmt.Errorf("%s: negative offset %d", name, l)
		}
		if seen[l] {
			return fmt.Errorf("%s: duplicate offset %d", name, l)
		}
		seen[l] = true
	}
	return nil
}

// Timeouts returns the staleness timeouts indexed by peer.
func (c Config) Timeouts() state.Timeouts {
	var t state.Timeouts
	t[state.PeerVC] = c.VCTimeout
	t[state.PeerBMS] = c.BMSTimeout
	return t
}

// Periods returns the task periods.
func (c Config) Periods() node.Periods {
	return node.Periods{
		Input:     c.InputPeriod,
		Send:      c.SendPeriod,
		Telemetry: c.TelemetryPeriod,
		Display:   c.DisplayPeriod,
		LEDs:      c.LEDPeriod,
	}
}

// ResolveUDP resolves an IPv4 host:port with a non-zero port.
func ResolveUDP(addr string) (*net.UDPAddr, error) {
	a, err := net.ResolveUDPAddr("udp4", addr)
	if err != nil {
		return nil, err
	}
	if a.Port == 0 {
		return nil, fmt.Errorf("%q: port required", addr)
	}
	return a, nil
}

// lineList is a flag.Value filling a fixed number of integers.
type lineList struct {
	dst []int
}

func (l *lineList) String() string {
	if l == nil {
		return ""
	}
	parts := make([]string, len(l.dst))
	for i, v := range l.dst {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

func (l *lineList) Set(s string) error {
	fields := strings.Split(s, ",")
	if len(fields) != len(l.dst) {
		return fmt.Errorf("want %d values, got %d", len(l.dst), len(fields))
	}
	vals := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return err
		}
		vals[i] = v
	}
	copy(l.dst, vals)
	return nil
}
