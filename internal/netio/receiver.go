package netio

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/golang/glog"

	"github.com/sweeney/steering-node/internal/buttons"
	"github.com/sweeney/steering-node/internal/protocol"
	"github.com/sweeney/steering-node/internal/state"
)

// ErrSource is returned for a datagram from an unexpected address.
var ErrSource = errors.New("unexpected source")

// ErrUnexpectedKind is returned for a well-formed message the node does not accept.
var ErrUnexpectedKind = errors.New("unexpected message kind")

// ListenFunc opens the receive socket.
type ListenFunc func(addr string) (net.PacketConn, error)

func listenUDP(addr string) (net.PacketConn, error) {
	return net.ListenPacket("udp4", addr)
}

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	// Addr is the local listen address, e.g. ":4001".
	Addr string
	// Sources optionally pins each peer to a source IP. Nil accepts any.
	Sources [state.NumPeers]net.IP
	// ReadTimeout bounds each blocking read so cancellation is observed.
	ReadTimeout time.Duration
	// Retry is the delay between failed listen attempts.
	Retry time.Duration
}

// Receiver listens for peer datagrams and writes accepted state into the store.
type Receiver struct {
	cfg    ReceiverConfig
	store  *state.Store
	now    func() time.Time
	listen ListenFunc
	beat   func(time.Time)

	buf   [protocol.MaxDatagram + 1]byte
	msg   protocol.Message
	stats RxStats

	bound chan net.Addr
}

// NewReceiver creates a receiver. now and listen may be nil.
func NewReceiver(cfg ReceiverConfig, store *state.Store, now func() time.Time, listen ListenFunc) *Receiver {
	if now == nil {
		now = time.Now
	}
	if listen == nil {
		listen = listenUDP
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 250 * time.Millisecond
	}
	if cfg.Retry <= 0 {
		cfg.Retry = time.Second
	}
	return &Receiver{
		cfg:    cfg,
		store:  store,
		now:    now,
		listen: listen,
		beat:   func(time.Time) {},
		bound:  make(chan net.Addr, 1),
	}
}

// SetBeat installs a liveness callback invoked after every read attempt.
func (r *Receiver) SetBeat(beat func(time.Time)) {
	r.beat = beat
}

// Bound delivers the local address each time the socket is (re)opened.
func (r *Receiver) Bound() <-chan net.Addr {
	return r.bound
}

// Stats returns the receive counters.
func (r *Receiver) Stats() *RxStats {
	return &r.stats
}

// Run listens until ctx is cancelled. Listen and read failures are retried
// indefinitely; Run only returns nil.
func (r *Receiver) Run(ctx context.Context) error {
	failures := uint64(0)
	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, err := r.listen(r.cfg.Addr)
		if err != nil {
			failures++
			if shouldLog(failures) {
				glog.Warningf("receiver listen %s: %v (attempt %d)", r.cfg.Addr, err, failures)
			}
			r.beat(r.now())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.cfg.Retry):
			}
			continue
		}
		failures = 0
		glog.Infof("receiver listening on %s", conn.LocalAddr())
		select {
		case r.bound <- conn.LocalAddr():
		default:
		}
		err = r.serve(ctx, conn)
		conn.Close()
		if err != nil {
			glog.Warningf("receiver %s: %v, reopening", r.cfg.Addr, err)
		}
	}
}

func (r *Receiver) serve(ctx context.Context, conn net.PacketConn) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := conn.SetReadDeadline(r.now().Add(r.cfg.ReadTimeout)); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}
		n, from, err := conn.ReadFrom(r.buf[:])
		now := r.now()
		r.beat(now)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			return fmt.Errorf("read: %w", err)
		}
		if err := r.Handle(r.buf[:n], from, now); err != nil && glog.V(2) {
			glog.Infof("discarded datagram from %s: %v", from, err)
		}
	}
}

// Handle decodes one datagram and applies it to the store. A rejected
// datagram leaves the store unchanged.
func (r *Receiver) Handle(b []byte, from net.Addr, now time.Time) error {
	if err := protocol.Decode(b, &r.msg); err != nil {
		r.stats.malformed.Add(1)
		return err
	}
	var peer state.Peer
	switch r.msg.Header.Kind {
	case protocol.KindVehicle:
		peer = state.PeerVC
	case protocol.KindBattery:
		peer = state.PeerBMS
	default:
		r.stats.rejected.Add(1)
		return fmt.Errorf("%w: %s", ErrUnexpectedKind, r.msg.Header.Kind)
	}
	if want := r.cfg.Sources[peer]; want != nil && !sourceIP(from).Equal(want) {
		r.stats.rejected.Add(1)
		return fmt.Errorf("%w: %s from %s", ErrSource, peer, from)
	}

	switch peer {
	case state.PeerVC:
		r.store.UpdateVehicle(VehicleFromWire(r.msg.Vehicle), now)
	case state.PeerBMS:
		r.store.UpdateBattery(BatteryFromWire(r.msg.Battery), now)
	}
	r.stats.accepted.Add(1)
	return nil
}

func sourceIP(a net.Addr) net.IP {
	switch v := a.(type) {
	case *net.UDPAddr:
		return v.IP
	case nil:
		return nil
	default:
		host, _, err := net.SplitHostPort(a.String())
		if err != nil {
			return nil
		}
		return net.ParseIP(host)
	}
}

// VehicleFromWire converts a decoded vehicle message.
func VehicleFromWire(m protocol.Vehicle) state.VehicleState {
	return state.VehicleState{
		Speed:       m.Speed,
		DriveMode:   state.DriveMode(m.DriveMode),
		Lights:      m.Lights,
		Flags:       m.Flags,
		LEDOverride: buttons.Set(m.LEDOverride) & buttons.Mask,
	}
}

// BatteryFromWire converts a decoded battery message.
func BatteryFromWire(m protocol.Battery) state.BatteryState {
	return state.BatteryState{
		Voltage: m.Voltage,
		Current: m.Current,
		SOC:     m.SOC,
		MaxTemp: m.MaxTemp,
		Flags:   m.Flags,
	}
}

// VehicleToWire converts stored vehicle state back into its wire form.
func VehicleToWire(v state.VehicleState) protocol.Vehicle {
	return protocol.Vehicle{
		Speed:       v.Speed,
		DriveMode:   uint32(v.DriveMode),
		Lights:      v.Lights,
		Flags:       v.Flags,
		LEDOverride: uint16(v.LEDOverride & buttons.Mask),
	}
}

// BatteryToWire converts stored battery state back into its wire form.
func BatteryToWire(b state.BatteryState) protocol.Battery {
	return protocol.Battery{
		Voltage: b.Voltage,
		Current: b.Current,
		SOC:     b.SOC,
		MaxTemp: b.MaxTemp,
		Flags:   b.Flags,
	}
}
