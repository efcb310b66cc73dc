// Package node composes the steering node's tasks over one shared store:
// input sampling, LED and display refresh, UDP links, telemetry mirrors and
// the button event queue.
package node

import (
	"context"
	"time"

	"github.com/golang/glog"

	"github.com/sweeney/steering-node/internal/adc"
	"github.com/sweeney/steering-node/internal/buttons"
	"github.com/sweeney/steering-node/internal/gpio"
	"github.com/sweeney/steering-node/internal/mqtt"
	"github.com/sweeney/steering-node/internal/netio"
	"github.com/sweeney/steering-node/internal/pedal"
	"github.com/sweeney/steering-node/internal/sched"
	"github.com/sweeney/steering-node/internal/state"
)

// Mirror receives telemetry snapshots and button events for off-vehicle
// monitoring. Implementations must bound their own I/O time.
type Mirror interface {
	PublishStatus(snap state.Snapshot, info state.Info) error
	PublishEvent(ev buttons.Event) error
}

// Periods holds the task periods.
type Periods struct {
	Input     time.Duration
	Send      time.Duration
	Telemetry time.Duration
	Display   time.Duration
	LEDs      time.Duration
}

// DefaultPeriods are the reference task periods.
var DefaultPeriods = Periods{
	Input:     50 * time.Millisecond,
	Send:      50 * time.Millisecond,
	Telemetry: 1000 * time.Millisecond,
	Display:   33 * time.Millisecond,
	LEDs:      50 * time.Millisecond,
}

// Options configures a Node.
type Options struct {
	Buttons gpio.Reader
	Pedals  adc.Reader
	LEDs    gpio.LEDs
	Display Display

	Debounce        time.Duration
	Alpha           float32
	DeadZone        float32
	Calibration     [pedal.NumChannels]pedal.Calibration
	CalibrationHold time.Duration
	QueueSize       int
	Periods         Periods
	// Now is the node clock; nil means time.Now.
	Now func() time.Time
}

// Node owns the store and every task that reads or writes it.
type Node struct {
	store   *state.Store
	bootID  string
	start   time.Time
	periods Periods
	now     func() time.Time

	queue   *EventQueue
	input   *Input
	leds    *LEDTask
	display *DisplayTask

	peers     []*netio.Sender
	broadcast []*netio.Sender
	receiver  *netio.Receiver
	mirrors   []Mirror
	broker    mqtt.ConnectionStatus
	group     *sched.Group
}

// New creates a node over store. start is the uptime origin and blink phase
// reference.
func New(store *state.Store, opts Options, bootID string, start time.Time) *Node {
	if opts.Display == nil {
		opts.Display = &LogDisplay{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Periods == (Periods{}) {
		opts.Periods = DefaultPeriods
	}
	pipeline := pedal.NewPipeline(opts.Alpha, opts.DeadZone)
	for ch, cal := range opts.Calibration {
		if cal.ZeroSet || cal.MaxSet {
			pipeline.SetCalibration(pedal.Channel(ch), cal)
		}
	}
	queue := NewEventQueue(opts.QueueSize)
	return &Node{
		store:   store,
		bootID:  bootID,
		start:   start,
		periods: opts.Periods,
		now:     opts.Now,
		queue:   queue,
		input:   NewInput(store, queue, opts.Buttons, opts.Pedals, buttons.NewEngine(opts.Debounce), pipeline, opts.CalibrationHold),
		leds:    NewLEDTask(store, opts.LEDs, start),
		display: NewDisplayTask(store, opts.Display),
	}
}

// Store returns the shared store.
func (n *Node) Store() *state.Store {
	return n.store
}

// Queue returns the button event queue.
func (n *Node) Queue() *EventQueue {
	return n.queue
}

// Input returns the sampling task.
func (n *Node) Input() *Input {
	return n.input
}

// AddPeerLink adds a sender ticked at the send period.
func (n *Node) AddPeerLink(s *netio.Sender) {
	n.peers = append(n.peers, s)
}

// AddBroadcastLink adds a sender ticked at the telemetry period.
func (n *Node) AddBroadcastLink(s *netio.Sender) {
	n.broadcast = append(n.broadcast, s)
}

// SetReceiver installs the peer receiver.
func (n *Node) SetReceiver(r *netio.Receiver) {
	n.receiver = r
}

// AddMirror adds a telemetry mirror.
func (n *Node) AddMirror(m Mirror) {
	n.mirrors = append(n.mirrors, m)
}

// SetBroker reports the broker connection in Info.
func (n *Node) SetBroker(c mqtt.ConnectionStatus) {
	n.broker = c
}

// Snapshot returns a consistent copy of the shared state.
func (n *Node) Snapshot() state.Snapshot {
	return n.store.ReadAt(n.now())
}

// Info collects link and task counters.
func (n *Node) Info() state.Info {
	info := state.Info{BootID: n.bootID, EventsDropped: n.queue.Dropped()}
	for _, s := range n.peers {
		info.Links = append(info.Links, s.Info())
	}
	for _, s := range n.broadcast {
		info.Links = append(info.Links, s.Info())
	}
	if n.receiver != nil {
		info.Rx = n.receiver.Stats().Info()
	}
	if n.group != nil {
		info.Overruns = n.group.Overruns()
	}
	if n.broker != nil {
		info.MQTT = "disconnected"
		if n.broker.IsConnected() {
			info.MQTT = "connected"
		}
	}
	return info
}

// TickTelemetry sends one broadcast on every broadcast link.
func (n *Node) TickTelemetry(now time.Time) {
	for _, s := range n.broadcast {
		s.Tick(now)
	}
}

// TickMirrors publishes one snapshot to every mirror.
func (n *Node) TickMirrors(now time.Time) {
	snap := n.store.ReadAt(now)
	info := n.Info()
	for _, m := range n.mirrors {
		if err := m.PublishStatus(snap, info); err != nil && glog.V(1) {
			glog.Infof("mirror status: %v", err)
		}
	}
}

// Register adds every task to g.
func (n *Node) Register(g *sched.Group) {
	n.group = g
	p := n.periods

	g.Every(sched.Periodic{Name: "input", Period: p.Input, Priority: sched.PriorityInput, Tick: n.input.Tick})
	for _, s := range n.peers {
		g.Every(sched.Periodic{Name: "send-" + s.Name(), Period: p.Send, Priority: sched.PriorityNetwork, Tick: s.Tick})
	}
	if len(n.broadcast) > 0 {
		g.Every(sched.Periodic{Name: "telemetry", Period: p.Telemetry, Priority: sched.PriorityNetwork, Tick: n.TickTelemetry})
	}
	g.Every(sched.Periodic{Name: "display", Period: p.Display, Priority: sched.PriorityDisplay, Tick: n.display.Tick})
	g.Every(sched.Periodic{Name: "leds", Period: p.LEDs, Priority: sched.PriorityLED, Tick: n.leds.Tick})
	if len(n.mirrors) > 0 {
		g.Every(sched.Periodic{Name: "mirror", Period: p.Telemetry, Priority: sched.PriorityBackground, Tick: n.TickMirrors})
	}

	if n.receiver != nil {
		hb := g.Monitor().Register("receive", time.Second, n.now())
		n.receiver.SetBeat(hb.Beat)
		g.Go(sched.Loop{Name: "receive", Priority: sched.PriorityNetwork, Run: n.receiver.Run})
	}
	g.Go(sched.Loop{Name: "events", Priority: sched.PriorityBackground, Run: func(ctx context.Context) error {
		return consumeEvents(ctx, n.queue, n.mirrors)
	}})
}

// Close releases sockets and switches the LEDs off.
func (n *Node) Close() {
	for _, s := range append(append([]*netio.Sender(nil), n.peers...), n.broadcast...) {
		s.Close()
	}
	if err := n.leds.leds.Close(); err != nil {
		glog.Warningf("leds close: %v", err)
	}
}
