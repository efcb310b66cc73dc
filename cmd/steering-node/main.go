// Command steering-node runs the steering wheel controller: it samples the
// wheel buttons and pedals, exchanges state with the vehicle computer and
// battery management system over UDP, and drives the wheel LEDs and display.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/sweeney/steering-node/internal/adc"
	"github.com/sweeney/steering-node/internal/buttons"
	"github.com/sweeney/steering-node/internal/config"
	"github.com/sweeney/steering-node/internal/gpio"
	"github.com/sweeney/steering-node/internal/mqtt"
	"github.com/sweeney/steering-node/internal/netio"
	"github.com/sweeney/steering-node/internal/node"
	"github.com/sweeney/steering-node/internal/redisstate"
	"github.com/sweeney/steering-node/internal/sched"
	"github.com/sweeney/steering-node/internal/state"
	"github.com/sweeney/steering-node/internal/watchdog"
	"github.com/sweeney/steering-node/internal/web"
)

func main() {
	cfg := config.Default()
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		glog.Exitf("invalid configuration:\n%v", err)
	}

	err := run(cfg)
	if err != nil {
		glog.Errorf("fatal: %v", err)
	}
	glog.Flush()
	os.Exit(exitCode(err))
}

// exitCode maps a run error to the process exit status. A stall exits with
// 2 and leaves the hardware watchdog armed.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, sched.ErrStall):
		return 2
	default:
		return 1
	}
}

type app struct {
	cfg       config.Config
	bootID    string
	node      *node.Node
	group     *sched.Group
	publisher mqtt.Publisher
	redis     *redisstate.Mirror
	wd        watchdog.Watchdog
	closers   []func() error
}

func run(cfg config.Config) error {
	hw, err := openHardware(cfg)
	if err != nil {
		return err
	}
	a, err := newApp(cfg, hw, uuid.NewString(), time.Now())
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	glog.Infof("started: boot=%s vc=%s bms=%s broadcast=%s listen=%s sim=%v",
		a.bootID, cfg.VCAddr, cfg.BMSAddr, cfg.BroadcastAddr, cfg.ListenAddr, cfg.Sim)

	reason, err := runLoop(a.group, sigCh)
	a.shutdown(reason, err)
	return err
}

// hardware holds the opened input and output devices.
type hardware struct {
	btn    gpio.Reader
	pedals adc.Reader
	leds   gpio.LEDs
}

func openHardware(cfg config.Config) (hardware, error) {
	if cfg.Sim {
		glog.Infof("simulation mode: buttons, pedals and LEDs are fakes")
		return hardware{gpio.NewFakeReader(buttons.Levels{}), adc.NewFakeReader(), gpio.NewFakeLEDs()}, nil
	}
	btn, err := gpio.NewRealReader(cfg.GPIOChip, cfg.ButtonLines)
	if err != nil {
		return hardware{}, fmt.Errorf("init buttons: %w", err)
	}
	leds, err := gpio.NewRealLEDs(cfg.GPIOChip, cfg.LEDLines)
	if err != nil {
		btn.Close()
		return hardware{}, fmt.Errorf("init leds: %w", err)
	}
	pedals, err := adc.NewSysfsReader(cfg.ADCRoot, cfg.ADCDevice, cfg.ADCChannels)
	if err != nil {
		btn.Close()
		leds.Close()
		return hardware{}, fmt.Errorf("init pedals: %w", err)
	}
	return hardware{btn, pedals, leds}, nil
}

func openWatchdog(cfg config.Config) (watchdog.Watchdog, error) {
	if cfg.Sim || cfg.Watchdog == "" {
		return watchdog.Nop{}, nil
	}
	wd, err := watchdog.Open(cfg.Watchdog, cfg.WatchdogTimeout)
	if err != nil {
		return nil, fmt.Errorf("init watchdog: %w", err)
	}
	glog.Infof("watchdog %s armed (%v)", cfg.Watchdog, cfg.WatchdogTimeout)
	return wd, nil
}

// newApp wires the node around hw. On error everything opened so far,
// including hw, is released.
func newApp(cfg config.Config, hw hardware, bootID string, start time.Time) (*app, error) {
	a := &app{cfg: cfg, bootID: bootID}
	a.closers = append(a.closers, hw.btn.Close, hw.pedals.Close)
	fail := func(err error) (*app, error) {
		a.closeAll()
		hw.leds.Close()
		a.closeMirrors()
		return nil, err
	}

	store := state.NewStore(start, cfg.Timeouts(), nil)
	a.node = node.New(store, node.Options{
		Buttons:         hw.btn,
		Pedals:          hw.pedals,
		LEDs:            hw.leds,
		Debounce:        cfg.Debounce,
		Alpha:           float32(cfg.Alpha),
		DeadZone:        float32(cfg.DeadZone),
		CalibrationHold: cfg.CalibrationHold,
		QueueSize:       cfg.QueueSize,
		Periods:         cfg.Periods(),
	}, bootID, start)

	links := []struct {
		name, addr string
		build      netio.Builder
		peer       bool
	}{
		{"vc", cfg.VCAddr, node.BuildSteering, true},
		{"bms", cfg.BMSAddr, node.BuildSteering, true},
		{"broadcast", cfg.BroadcastAddr, node.BuildTelemetry, false},
		{"cloud", cfg.CloudAddr, node.BuildTelemetry, false},
	}
	var sources [state.NumPeers]net.IP
	for _, l := range links {
		if l.addr == "" {
			continue
		}
		dest, err := config.ResolveUDP(l.addr)
		if err != nil {
			return fail(fmt.Errorf("%s address: %w", l.name, err))
		}
		s := netio.NewSender(l.name, dest, store, l.build, nil)
		if l.peer {
			a.node.AddPeerLink(s)
		} else {
			a.node.AddBroadcastLink(s)
		}
		if cfg.PinSources {
			switch l.name {
			case "vc":
				sources[state.PeerVC] = dest.IP
			case "bms":
				sources[state.PeerBMS] = dest.IP
			}
		}
	}
	a.node.SetReceiver(netio.NewReceiver(netio.ReceiverConfig{Addr: cfg.ListenAddr, Sources: sources}, store, nil, nil))

	if cfg.Broker != "" {
		pub, err := mqtt.NewRealPublisher(cfg.Broker, bootID)
		if err != nil {
			glog.Warningf("mqtt disabled: %v", err)
		} else {
			a.publisher = pub
			a.node.AddMirror(pub)
			a.node.SetBroker(pub)
			if err := pub.PublishSystem(mqtt.SystemEvent{Timestamp: start, Event: "STARTUP", Retained: true}); err != nil {
				glog.Warningf("failed to publish startup event: %v", err)
			}
		}
	}
	if cfg.Redis != "" {
		a.redis = redisstate.New(cfg.Redis)
		a.node.AddMirror(a.redis)
	}

	wd, err := openWatchdog(cfg)
	if err != nil {
		return fail(err)
	}
	a.wd = wd

	a.group = sched.NewGroup(sched.NewMonitor(cfg.StallFactor, 0), nil)
	a.node.Register(a.group)
	a.group.Go(sched.Loop{Name: "liveness", Priority: sched.PriorityInput, Run: func(ctx context.Context) error {
		t := time.NewTicker(cfg.LivenessPeriod)
		defer t.Stop()
		return a.group.Monitor().Run(ctx, t.C, time.Now, a.wd.Keepalive)
	}})
	if cfg.HTTPAddr != "" {
		srv := web.New(cfg.HTTPAddr, a.node)
		a.group.Go(sched.Loop{Name: "web", Priority: sched.PriorityBackground, Run: srv.Run})
		glog.Infof("http status server on %s", cfg.HTTPAddr)
	}
	return a, nil
}

func (a *app) closeAll() {
	for _, c := range a.closers {
		c()
	}
}

func (a *app) closeMirrors() {
	if a.publisher != nil {
		a.publisher.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
}

// runLoop runs the task group until a signal arrives or a task fails. It
// returns the shutdown reason and the group error.
func runLoop(g *sched.Group, sig <-chan os.Signal) (string, error) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- g.Run(ctx) }()

	select {
	case s := <-sig:
		glog.Infof("received %v, shutting down", s)
		cancel()
		return signalName(s), <-errc
	case err := <-errc:
		if errors.Is(err, sched.ErrStall) {
			return "STALL", err
		}
		if err != nil {
			return "ERROR", err
		}
		return "EXIT", nil
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}

// shutdown releases outputs and mirrors. The watchdog is disarmed only on a
// clean exit; after a stall it is left to reset the board.
func (a *app) shutdown(reason string, err error) {
	a.node.Close()
	a.closeAll()

	if a.publisher != nil {
		ev := mqtt.SystemEvent{Timestamp: time.Now(), Event: "SHUTDOWN", Reason: reason, Retained: true}
		if perr := a.publisher.PublishSystem(ev); perr != nil {
			glog.Warningf("failed to publish shutdown event: %v", perr)
		} else {
			glog.Infof("published shutdown event")
		}
	}
	a.closeMirrors()

	if errors.Is(err, sched.ErrStall) {
		glog.Errorf("stall detected, leaving watchdog armed")
		return
	}
	if cerr := a.wd.Close(); cerr != nil {
		glog.Warningf("watchdog close: %v", cerr)
	}
	glog.Infof("shutdown complete (%s)", reason)
}

var _ web.Source = (*node.Node)(nil)
